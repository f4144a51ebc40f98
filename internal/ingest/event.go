// Package ingest turns device and API payloads into session
// events and feeds spooled device events into the store.
package ingest

import (
	"math"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/pomotimer/pomoledger/internal/db"
)

// Event is a session waiting to be appended.
type Event struct {
	Kind           db.Kind
	DurationMs     int64
	CycleCompleted bool
}

// first returns the first of names present in the payload.
func first(payload gjson.Result, names ...string) gjson.Result {
	for _, n := range names {
		if v := payload.Get(n); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func parseObject(data []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, &db.ValidationError{
			Field: "body", Reason: "malformed JSON",
		}
	}
	payload := gjson.ParseBytes(data)
	if !payload.IsObject() {
		return gjson.Result{}, &db.ValidationError{
			Field: "body", Reason: "must be a JSON object",
		}
	}
	return payload, nil
}

// millisTolerance absorbs float error from clients that compute
// milliseconds as minutes*60*1000.
const millisTolerance = 1e-6

// Millis reads a whole millisecond count. Values within
// millisTolerance of an integer are rounded to it.
func Millis(v gjson.Result, field string) (int64, error) {
	if v.Type != gjson.Number {
		return 0, &db.ValidationError{
			Field: field, Reason: "must be a number",
		}
	}
	f := v.Float()
	r := math.Round(f)
	if math.Abs(f-r) > millisTolerance || math.Abs(r) > math.MaxInt64/2 {
		return 0, &db.ValidationError{
			Field: field, Reason: "must be a whole number of milliseconds",
		}
	}
	return int64(r), nil
}

func parseCycle(payload gjson.Result) (bool, error) {
	v := first(payload, "cycle_completed", "cycleCompleted")
	switch v.Type {
	case gjson.Null:
		return false, nil
	case gjson.True, gjson.False:
		return v.Bool(), nil
	}
	return false, &db.ValidationError{
		Field: "cycle_completed", Reason: "must be a boolean",
	}
}

// Decode parses an API request body. The kind and a duration are
// required; cycle_completed defaults to false. Both snake_case and
// camelCase field names are accepted. Kind is checked by the store.
func Decode(data []byte) (Event, error) {
	payload, err := parseObject(data)
	if err != nil {
		return Event{}, err
	}

	var ev Event
	kind := first(payload, "kind", "type")
	if kind.Exists() && kind.Type != gjson.String {
		return Event{}, &db.ValidationError{
			Field: "kind", Reason: "must be a string",
		}
	}
	ev.Kind = db.Kind(kind.String())

	dur := first(payload, "duration_ms", "durationMs")
	if !dur.Exists() {
		return Event{}, &db.ValidationError{
			Field: "duration_ms", Reason: "required",
		}
	}
	if ev.DurationMs, err = Millis(dur, "duration_ms"); err != nil {
		return Event{}, err
	}
	if ev.CycleCompleted, err = parseCycle(payload); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// devicePhases maps the timer firmware's phase names to kinds.
// IDLE is absent: it never describes a finished interval.
var devicePhases = map[string]db.Kind{
	"FOCUS":       db.KindFocus,
	"SHORT_BREAK": db.KindBreak,
	"LONG_BREAK":  db.KindBreak,
	"BREAK":       db.KindBreak,
}

// DeviceKind maps a device phase or API kind name to a Kind. The
// second result is false for IDLE and for unknown names.
func DeviceKind(name string) (db.Kind, bool) {
	if k := db.Kind(name); k.Valid() {
		return k, true
	}
	k, ok := devicePhases[strings.ToUpper(strings.TrimSpace(name))]
	return k, ok
}

// DecodeDevice parses a timer device payload. Devices post status
// updates as well as completed phases, so ok is false (with a nil
// error) when the payload carries no phase, an IDLE or unknown
// phase, or no duration. A payload that names a phase and a
// duration must be valid.
func DecodeDevice(data []byte) (ev Event, ok bool, err error) {
	payload, err := parseObject(data)
	if err != nil {
		return Event{}, false, err
	}

	phase := first(payload, "kind", "phase", "type")
	if phase.Type != gjson.String {
		return Event{}, false, nil
	}
	kind, known := DeviceKind(phase.String())
	if !known {
		return Event{}, false, nil
	}

	dur := first(payload, "duration_ms", "durationMs")
	if !dur.Exists() {
		return Event{}, false, nil
	}
	ev.Kind = kind
	if ev.DurationMs, err = Millis(dur, "duration_ms"); err != nil {
		return Event{}, false, err
	}
	if ev.DurationMs <= 0 {
		return Event{}, false, &db.ValidationError{
			Field:  "duration_ms",
			Reason: "must be a positive number of milliseconds",
		}
	}
	if ev.CycleCompleted, err = parseCycle(payload); err != nil {
		return Event{}, false, err
	}
	return ev, true, nil
}
