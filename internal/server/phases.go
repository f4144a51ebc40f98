package server

import (
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/pomotimer/pomoledger/internal/db"
	"github.com/pomotimer/pomoledger/internal/ingest"
)

// phaseFields maps each field of a phase update to the names it
// may arrive under.
var phaseFields = []struct {
	names []string
	set   func(u *db.PhaseUpdate, v int64)
}{
	{[]string{"focus_ms", "focusMs"}, func(u *db.PhaseUpdate, v int64) { u.FocusMs = &v }},
	{[]string{"short_break_ms", "shortBreakMs"}, func(u *db.PhaseUpdate, v int64) { u.ShortBreakMs = &v }},
	{[]string{"long_break_ms", "longBreakMs"}, func(u *db.PhaseUpdate, v int64) { u.LongBreakMs = &v }},
}

// decodePhaseUpdate reads a partial phase configuration. Absent
// and null fields are left unset.
func decodePhaseUpdate(data []byte) (db.PhaseUpdate, error) {
	var u db.PhaseUpdate
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return u, &db.ValidationError{
			Field: "body", Reason: "must be a JSON object",
		}
	}
	payload := gjson.ParseBytes(data)
	for _, f := range phaseFields {
		for _, name := range f.names {
			v := payload.Get(name)
			if !v.Exists() || v.Type == gjson.Null {
				continue
			}
			ms, err := ingest.Millis(v, f.names[0])
			if err != nil {
				return db.PhaseUpdate{}, err
			}
			f.set(&u, ms)
			break
		}
	}
	return u, nil
}

func (s *Server) handleGetConfig(
	w http.ResponseWriter, _ *http.Request,
) {
	writeJSON(w, http.StatusOK, s.db.GetPhaseConfig())
}

func (s *Server) handleUpdateConfig(
	w http.ResponseWriter, r *http.Request,
) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	u, err := decodePhaseUpdate(body)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	merged, err := s.db.UpdatePhaseConfig(r.Context(), u)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, merged)
}
