package server

import (
	"net/http"
	"strconv"

	"github.com/pomotimer/pomoledger/internal/db"
	"github.com/pomotimer/pomoledger/internal/ingest"
)

func (s *Server) handleRecordSession(
	w http.ResponseWriter, r *http.Request,
) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	ev, err := ingest.Decode(body)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	id, err := s.db.Append(
		r.Context(), ev.Kind, ev.DurationMs, ev.CycleCompleted,
	)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleListSessions(
	w http.ResponseWriter, r *http.Request,
) {
	limit, ok := parseIntParam(w, r, "limit")
	if !ok {
		return
	}
	limit = clampLimit(limit, db.DefaultSessionLimit, db.MaxSessionLimit)

	sessions, err := s.db.ListSessions(r.Context(), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
	})
}

func (s *Server) handleGetSession(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	session, err := s.db.GetSession(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, session)
}
