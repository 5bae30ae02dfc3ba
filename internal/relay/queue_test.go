package relay

import (
	"sync"
	"testing"
)

func TestPendingQueueConcurrentDrain(t *testing.T) {
	t.Parallel()
	var q pendingQueue
	const writers, per = 8, 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				q.Enqueue(Event{Level: Level(w), Message: string(rune('a' + i%26))})
			}
		}()
	}

	seen := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for {
		seen += len(q.DrainAll())
		select {
		case <-done:
			seen += len(q.DrainAll())
			if seen != writers*per {
				t.Fatalf("drained %d events, want %d", seen, writers*per)
			}
			if q.Len() != 0 {
				t.Fatalf("Len = %d after final drain", q.Len())
			}
			return
		default:
		}
	}
}

func TestPendingQueueKeepsArrivalOrder(t *testing.T) {
	t.Parallel()
	var q pendingQueue
	for _, m := range []string{"a", "b", "c"} {
		q.Enqueue(Event{Message: m})
	}
	got := q.DrainAll()
	if len(got) != 3 || got[0].Message != "a" || got[1].Message != "b" || got[2].Message != "c" {
		t.Fatalf("DrainAll = %+v", got)
	}
	if again := q.DrainAll(); len(again) != 0 {
		t.Fatalf("second DrainAll = %+v, want empty", again)
	}
}
