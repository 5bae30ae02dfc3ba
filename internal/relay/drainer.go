package relay

import (
	"context"
	"encoding/json"
	"fmt"

	logx "slackrelay/pkg/logx"
)

// drain is the batch drainer task. Exactly one runs while drainerActive is
// set.
//
// Each cycle sleeps the full interval, then delivers everything queued in
// chunks of BatchSize. Before exiting it re-checks the queue under the relay
// lock: an event enqueued after the last poll either sees drainerActive still
// true (and is picked up by another cycle here) or sees it false and starts a
// new drainer. Nothing is stranded.
func (r *Relay) drain(ctx context.Context) error {
	released := false
	defer func() {
		p := recover()
		if p != nil {
			r.status.Error("drainer panicked", fmt.Errorf("%v", p))
		}
		if !released {
			r.endDrain()
		}
	}()

	for {
		if err := r.sleep(ctx, r.cfg.Interval); err != nil {
			// Shutdown: queued events are abandoned.
			return nil
		}
		r.dispatchQueued(ctx)

		if err := r.lock.Acquire(context.Background(), 1); err != nil {
			return nil
		}
		if r.queue.Len() > 0 && ctx.Err() == nil {
			r.lock.Release(1)
			continue
		}
		r.drainerActive = false
		released = true
		r.lock.Release(1)
		r.obs.DrainerActive(r.cfg.Name, false)
		return nil
	}
}

func (r *Relay) endDrain() {
	if err := r.lock.Acquire(context.Background(), 1); err != nil {
		return
	}
	r.drainerActive = false
	r.lock.Release(1)
	r.obs.DrainerActive(r.cfg.Name, false)
}

// dispatchQueued delivers the queue in chunks. A bad event is skipped and a
// failed chunk is dropped; either way the drain carries on with the rest.
func (r *Relay) dispatchQueued(ctx context.Context) {
	chunk := make([]json.RawMessage, 0, r.cfg.BatchSize)
	for {
		events := r.queue.DrainAll()
		if len(events) == 0 {
			break
		}
		r.obs.QueueDepth(r.cfg.Name, r.queue.Len())
		for _, ev := range events {
			obj, err := r.encodeEvent(ev)
			if err != nil {
				r.status.Error("encode event", err, logx.String("level", ev.Level.String()))
				continue
			}
			chunk = append(chunk, obj)
			if len(chunk) < r.cfg.BatchSize {
				continue
			}
			r.sendBatch(ctx, chunk)
			chunk = chunk[:0]
			if err := r.sleep(ctx, r.cfg.BatchPause); err != nil {
				return
			}
		}
	}
	if len(chunk) > 0 {
		r.sendBatch(ctx, chunk)
	}
}

func (r *Relay) sendBatch(ctx context.Context, chunk []json.RawMessage) {
	body, err := r.enc.Batch(chunk)
	if err != nil {
		r.status.Error("encode batch", err, logx.Int("events", len(chunk)))
		return
	}
	r.markDispatch()
	r.deliver(ctx, KindBatch, body, len(chunk))
}

// markDispatch records a batch dispatch as the latest send, so events that
// arrive right after a batch wait out a fresh cool-down.
func (r *Relay) markDispatch() {
	if err := r.lock.Acquire(context.Background(), 1); err != nil {
		return
	}
	r.touchLocked(r.now())
	r.lock.Release(1)
}
