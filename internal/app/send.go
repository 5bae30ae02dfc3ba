package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slackrelay/internal/config"
	"slackrelay/internal/eventbus"
	"slackrelay/internal/relay"
	"slackrelay/internal/transport"
	logx "slackrelay/pkg/logx"
)

// ErrFiltered is returned by Send for an event below the relay threshold.
var ErrFiltered = errors.New("event below relay min_level")

// Send pushes one event through a relay built from cfg and waits for the
// delivery outcome. sender may be nil to use the configured webhook.
func Send(ctx context.Context, cfg *config.Config, ev relay.Event, sender transport.Sender, log logx.Logger) (relay.DeliveryEvent, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	rc, err := mapRelayConfig(cfg)
	if err != nil {
		return relay.DeliveryEvent{}, err
	}
	if ev.Level < rc.Threshold {
		return relay.DeliveryEvent{}, fmt.Errorf("%w: %s < %s", ErrFiltered, ev.Level, rc.Threshold)
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	bus := eventbus.New()
	ch, unsub := bus.SubscribePrefix(4, relay.EventDeliveryPrefix)
	defer unsub()

	opts := []relay.Option{relay.WithBus(bus), relay.WithLogger(log)}
	if sender != nil {
		opts = append(opts, relay.WithSender(sender))
	}
	r := relay.New(rc, opts...)
	if err := r.Start(ctx); err != nil {
		return relay.DeliveryEvent{}, err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Stop(sctx)
	}()

	// A fresh relay has never sent, so the event goes out immediately.
	r.Handle(ev)

	for {
		select {
		case <-ctx.Done():
			return relay.DeliveryEvent{}, ctx.Err()
		case e := <-ch:
			de, ok := e.Data.(relay.DeliveryEvent)
			if !ok {
				continue
			}
			if e.Type == relay.EventFailed {
				return de, fmt.Errorf("delivery failed: %s", de.Error)
			}
			return de, nil
		}
	}
}
