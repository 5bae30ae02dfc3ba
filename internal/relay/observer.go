package relay

import "time"

// Outcome is what Handle decided for one event.
type Outcome string

const (
	OutcomeFiltered  Outcome = "filtered"
	OutcomeImmediate Outcome = "immediate"
	OutcomeDeferred  Outcome = "deferred"
	// OutcomeDiverted: outside the cool-down, but every single-send slot was
	// busy, so the event was queued instead.
	OutcomeDiverted Outcome = "diverted"
)

// Kind tells single and batched deliveries apart.
type Kind string

const (
	KindSingle Kind = "single"
	KindBatch  Kind = "batch"
)

// Observer receives relay measurements. Implementations must be cheap and
// non-blocking: Accepted and QueueDepth run under the relay lock.
type Observer interface {
	Accepted(relay string, outcome Outcome)
	Delivered(relay string, kind Kind, events int, took time.Duration, err error)
	QueueDepth(relay string, n int)
	DrainerActive(relay string, active bool)
}

type nopObserver struct{}

func (nopObserver) Accepted(string, Outcome)                         {}
func (nopObserver) Delivered(string, Kind, int, time.Duration, error) {}
func (nopObserver) QueueDepth(string, int)                           {}
func (nopObserver) DrainerActive(string, bool)                       {}
