package server

import (
	"errors"
	"log"
	"net/http"

	"github.com/pomotimer/pomoledger/internal/insights"
)

func (s *Server) handleGetInsights(
	w http.ResponseWriter, r *http.Request,
) {
	snap, err := s.insights.Snapshot(r.Context())
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		var aggErr *insights.AggregationError
		if errors.As(err, &aggErr) {
			log.Printf("insights: %v", aggErr)
		} else {
			log.Printf("insights: unexpected error: %v", err)
		}
		writeError(w, http.StatusInternalServerError,
			"failed to compute insights")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
