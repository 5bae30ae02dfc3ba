package relay

import "sync"

// pendingQueue holds events that arrived during a cool-down.
//
// It has its own lock: Enqueue runs under the relay lock, DrainAll runs in the
// drainer without it.
type pendingQueue struct {
	mu     sync.Mutex
	events []Event
}

func (q *pendingQueue) Enqueue(ev Event) int {
	q.mu.Lock()
	q.events = append(q.events, ev)
	n := len(q.events)
	q.mu.Unlock()
	return n
}

// DrainAll removes and returns every queued event in arrival order.
func (q *pendingQueue) DrainAll() []Event {
	q.mu.Lock()
	out := q.events
	q.events = nil
	q.mu.Unlock()
	return out
}

func (q *pendingQueue) Len() int {
	q.mu.Lock()
	n := len(q.events)
	q.mu.Unlock()
	return n
}
