package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	logx "slackrelay/pkg/logx"
)

const statusHistory = 100

// Diagnostic is one entry of the relay's diagnostic channel.
type Diagnostic struct {
	At    time.Time `json:"at"`
	Level string    `json:"level"`
	Msg   string    `json:"msg"`
	Err   string    `json:"err,omitempty"`
}

// Status is the relay's internal diagnostic channel.
//
// Every entry is kept in a bounded in-memory ring (served by /status).
// Entries are also logged, rate limited so a dead endpoint cannot flood the
// diagnostic log. The logger given to Status must not be routed back into a
// relay.
type Status struct {
	log     logx.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	entries []Diagnostic

	suppressed atomic.Uint64
	errors     atomic.Uint64
}

func NewStatus(log logx.Logger) *Status {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Status{
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

func (s *Status) Error(msg string, err error, fields ...logx.Field) {
	s.errors.Add(1)
	s.record("error", msg, err)
	if !s.limiter.Allow() {
		s.suppressed.Add(1)
		return
	}
	s.log.Error(msg, append(fields, logx.Err(err))...)
}

func (s *Status) Warn(msg string, fields ...logx.Field) {
	s.record("warn", msg, nil)
	if !s.limiter.Allow() {
		s.suppressed.Add(1)
		return
	}
	s.log.Warn(msg, fields...)
}

// Info is recorded but never rate limited; it is used for rare lifecycle notes.
func (s *Status) Info(msg string, fields ...logx.Field) {
	s.record("info", msg, nil)
	s.log.Info(msg, fields...)
}

func (s *Status) record(level, msg string, err error) {
	d := Diagnostic{At: time.Now(), Level: level, Msg: msg}
	if err != nil {
		d.Err = err.Error()
	}
	s.mu.Lock()
	s.entries = append(s.entries, d)
	if len(s.entries) > statusHistory {
		s.entries = s.entries[len(s.entries)-statusHistory:]
	}
	s.mu.Unlock()
}

// Snapshot returns the recent diagnostics, oldest first.
func (s *Status) Snapshot() []Diagnostic {
	s.mu.Lock()
	out := append([]Diagnostic(nil), s.entries...)
	s.mu.Unlock()
	return out
}

// Errors is the total number of errors recorded.
func (s *Status) Errors() uint64 { return s.errors.Load() }

// Suppressed is the number of entries recorded but not logged.
func (s *Status) Suppressed() uint64 { return s.suppressed.Load() }
