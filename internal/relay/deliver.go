package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"slackrelay/internal/eventbus"
	"slackrelay/internal/relay/payload"
	"slackrelay/internal/transport/webhook"
	logx "slackrelay/pkg/logx"
)

// Event types published on the bus after every delivery attempt.
const (
	EventDeliveryPrefix = "relay.delivery."
	EventDelivered      = EventDeliveryPrefix + "sent"
	EventFailed         = EventDeliveryPrefix + "failed"
)

// DeliveryEvent is the bus payload for EventDelivered and EventFailed.
type DeliveryEvent struct {
	ID     string        `json:"id"`
	Relay  string        `json:"relay"`
	Kind   Kind          `json:"kind"`
	Events int           `json:"events"`
	Bytes  int           `json:"bytes"`
	Status int           `json:"status,omitempty"`
	Error  string        `json:"error,omitempty"`
	Took   time.Duration `json:"took"`
	At     time.Time     `json:"at"`
}

// encodeEvent renders and encodes one event. A panicking layout is reported
// as an error for that event alone.
func (r *Relay) encodeEvent(ev Event) (obj json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			obj, err = nil, fmt.Errorf("render layout: %v", p)
		}
	}()
	a := payload.Attachment{
		Severity: ev.Level.String(),
		Message:  ev.Message,
		Text:     r.cfg.Layout.Render(ev),
	}
	b, err := r.enc.Single(a)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

func (r *Relay) sendSingle(ctx context.Context, ev Event) {
	body, err := r.encodeEvent(ev)
	if err != nil {
		r.status.Error("encode event", err, logx.String("level", ev.Level.String()))
		return
	}
	r.deliver(ctx, KindSingle, body, 1)
}

// deliver makes exactly one attempt. The outcome goes to the observer, the bus
// and, on failure, Status; it is never returned to the caller.
func (r *Relay) deliver(ctx context.Context, kind Kind, body []byte, events int) {
	start := r.now()
	err := r.sender.Post(ctx, body)
	took := r.now().Sub(start)

	r.obs.Delivered(r.cfg.Name, kind, events, took, err)

	de := DeliveryEvent{
		ID:     uuid.NewString(),
		Relay:  r.cfg.Name,
		Kind:   kind,
		Events: events,
		Bytes:  len(body),
		Took:   took,
		At:     start,
	}
	typ := EventDelivered
	if err != nil {
		typ = EventFailed
		de.Error = err.Error()
		var we *webhook.DeliveryError
		if errors.As(err, &we) {
			de.Status = we.StatusCode
		}
		r.status.Error("delivery failed", err,
			logx.String("kind", string(kind)),
			logx.Int("events", events),
			logx.Duration("took", took),
		)
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: typ, Time: start, Data: de})
	}
}
