package relay

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Event is one log record offered to a relay. Relays never modify it.
type Event struct {
	Level   Level
	Message string
	Time    time.Time
	Logger  string
	Fields  map[string]any
}

// Well-known keys of JSON log lines (zerolog, logrus, slog, bunyan-ish).
var (
	levelKeys   = []string{"level", "lvl", "severity"}
	messageKeys = []string{"message", "msg"}
	timeKeys    = []string{"time", "ts", "timestamp"}
	loggerKeys  = []string{"logger", "comp", "component"}
)

// ParseLogLine turns one log line into an Event.
//
// JSON objects are decoded and their well-known keys lifted into the Event;
// the remaining keys end up in Fields. Anything else becomes an Event whose
// message is the trimmed line. Lines without a recognizable level get def.
// ok is false for blank lines.
func ParseLogLine(line []byte, def Level) (ev Event, ok bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Event{}, false
	}
	ev.Level = def

	if line[0] != '{' {
		ev.Message = string(line)
		return ev, true
	}
	var m map[string]any
	if err := json.Unmarshal(line, &m); err != nil {
		ev.Message = string(line)
		return ev, true
	}

	if s, k := firstString(m, levelKeys); k != "" {
		if lvl, err := ParseLevel(s); err == nil {
			ev.Level = lvl
		}
		delete(m, k)
	}
	if s, k := firstString(m, messageKeys); k != "" {
		ev.Message = s
		delete(m, k)
	}
	if s, k := firstString(m, timeKeys); k != "" {
		if t, ok := parseTime(s); ok {
			ev.Time = t
			delete(m, k)
		}
	}
	if s, k := firstString(m, loggerKeys); k != "" {
		ev.Logger = s
		delete(m, k)
	}
	if len(m) > 0 {
		ev.Fields = m
	}
	return ev, true
}

func firstString(m map[string]any, keys []string) (string, string) {
	for _, k := range keys {
		if v, ok := m[k].(string); ok {
			return v, k
		}
	}
	return "", ""
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
