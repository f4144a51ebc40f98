package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
)

// parseIntParam reads an optional integer query parameter. An
// absent parameter yields 0. On a malformed value it writes a
// 400 and returns ok=false.
func parseIntParam(
	w http.ResponseWriter, r *http.Request, name string,
) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest,
			"invalid "+name+": must be an integer")
		return 0, false
	}
	return v, true
}

// clampLimit applies def when limit is not positive and caps it
// at max.
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, max)
}

// readBody reads the request body. On failure it writes a 400 or
// 413 and returns ok=false.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(r.Body)
	if err == nil {
		return data, true
	}
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		writeError(w, http.StatusRequestEntityTooLarge,
			"request body too large")
		return nil, false
	}
	writeError(w, http.StatusBadRequest, "reading request body failed")
	return nil, false
}
