// Package timeutil maps instants onto local calendar days.
package timeutil

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// DayLayout is the layout of a calendar-day key.
const DayLayout = "2006-01-02"

// LoadLocation resolves a configured time zone name. An empty
// name or "Local" selects the process's local zone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("loading time zone %q: %w", name, err)
	}
	return loc, nil
}

// ZoneName returns the IANA name of loc. For the process's local
// zone it resolves the name from $TZ or the /etc/localtime link
// the way the runtime does, and reports "Local" only when neither
// names a known zone.
func ZoneName(loc *time.Location) string {
	loc = orLocal(loc)
	if loc != time.Local {
		return loc.String()
	}
	tz, set := os.LookupEnv("TZ")
	return localZoneName(tz, set, os.Readlink)
}

func localZoneName(
	tz string, set bool, readlink func(string) (string, error),
) string {
	if set {
		if tz == "" {
			return "UTC"
		}
		tz = strings.TrimPrefix(tz, ":")
		if name, ok := zoneFromPath(tz); ok {
			return name
		}
		if knownZone(tz) {
			return tz
		}
		// The runtime falls back to UTC for an unknown $TZ.
		return "UTC"
	}
	if target, err := readlink("/etc/localtime"); err == nil {
		if name, ok := zoneFromPath(target); ok {
			return name
		}
	}
	return "Local"
}

// zoneFromPath extracts the zone name from a zoneinfo file path
// such as /usr/share/zoneinfo/Europe/Berlin.
func zoneFromPath(path string) (string, bool) {
	i := strings.LastIndex(path, "zoneinfo/")
	if i < 0 {
		return "", false
	}
	name := path[i+len("zoneinfo/"):]
	return name, knownZone(name)
}

func knownZone(name string) bool {
	if name == "" || name == "Local" {
		return false
	}
	_, err := time.LoadLocation(name)
	return err == nil
}

func orLocal(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}

// DayKey returns the YYYY-MM-DD wall-clock day of t in loc.
// A nil loc means time.Local.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(orLocal(loc)).Format(DayLayout)
}

// ParseDayKey returns the first instant of the calendar day key
// in loc.
func ParseDayKey(key string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DayLayout, key, orLocal(loc))
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing day %q: %w", key, err)
	}
	return t, nil
}

// StartOfDay returns local midnight of t's day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(orLocal(loc))
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// LastNDays returns the n day keys ending with today's key in
// loc, oldest first.
func LastNDays(today time.Time, loc *time.Location, n int) []string {
	if n <= 0 {
		return nil
	}
	// Step from noon so DST transitions never skip or repeat a day.
	start := StartOfDay(today, loc)
	noon := time.Date(
		start.Year(), start.Month(), start.Day(),
		12, 0, 0, 0, start.Location(),
	)
	keys := make([]string, n)
	for i := range n {
		keys[i] = noon.AddDate(0, 0, i-(n-1)).Format(DayLayout)
	}
	return keys
}
