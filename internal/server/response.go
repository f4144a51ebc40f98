package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/pomotimer/pomoledger/internal/db"
)

// writeJSON writes v as JSON with the given HTTP status code.
// Logs a warning if JSON encoding fails.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON: encoding response: %v", err)
	}
}

// writeError writes a JSON error response with the given status
// and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, jsonError{Error: msg})
}

// handleContextError detects context.Canceled and
// context.DeadlineExceeded errors, returning true so the caller
// stops processing. A deadline gets a 504; if the withTimeout
// middleware already answered, its 503 wins. A canceled request
// gets nothing since the client is gone.
func handleContextError(w http.ResponseWriter, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, "gateway timeout")
		return true
	}
	return errors.Is(err, context.Canceled)
}

// writeStoreError maps a store error to a response: 400 for
// invalid input, 500 with a generic message otherwise. Internal
// causes are logged, not returned to the client.
func writeStoreError(w http.ResponseWriter, err error) {
	if handleContextError(w, err) {
		return
	}
	var verr *db.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, verr.Error())
		return
	}
	log.Printf("internal error: %v", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
