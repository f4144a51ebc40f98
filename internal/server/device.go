package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	gosync "sync"

	"github.com/pomotimer/pomoledger/internal/ingest"
)

// deviceStatus holds the most recent payload posted by the timer.
type deviceStatus struct {
	mu     gosync.RWMutex
	latest json.RawMessage
}

func (d *deviceStatus) set(payload []byte) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		return
	}
	d.mu.Lock()
	d.latest = buf.Bytes()
	d.mu.Unlock()
}

func (d *deviceStatus) get() json.RawMessage {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.latest
}

// handleDeviceUpdate accepts a timer payload. Every valid payload
// becomes the latest status; one describing a finished phase is
// also recorded as a session.
func (s *Server) handleDeviceUpdate(
	w http.ResponseWriter, r *http.Request,
) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	ev, completed, err := ingest.DecodeDevice(body)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.device.set(body)

	if !completed {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	id, err := s.db.Append(
		r.Context(), ev.Kind, ev.DurationMs, ev.CycleCompleted,
	)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "id": id})
}

func (s *Server) handleDeviceLatest(
	w http.ResponseWriter, _ *http.Request,
) {
	latest := s.device.get()
	if latest == nil {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "No data yet",
		})
		return
	}
	writeJSON(w, http.StatusOK, latest)
}
