package storage

import (
	"context"
	"time"

	"slackrelay/internal/eventbus"
	"slackrelay/internal/relay"
	logx "slackrelay/pkg/logx"
)

// Journal copies relay delivery events from the bus into a Store.
//
// The bus drops events for a full subscriber, so the journal is best-effort:
// a burst that outruns the disk loses records, never blocks a relay.
type Journal struct {
	store  Store
	bus    eventbus.Bus
	log    logx.Logger
	buffer int
}

func NewJournal(store Store, bus eventbus.Bus, log logx.Logger) *Journal {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Journal{store: store, bus: bus, log: log, buffer: 256}
}

// Run consumes delivery events until ctx is canceled.
func (j *Journal) Run(ctx context.Context) error {
	ch, unsub := j.bus.SubscribePrefix(j.buffer, relay.EventDeliveryPrefix)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			de, ok := e.Data.(relay.DeliveryEvent)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := j.store.AppendDelivery(wctx, RecordFromEvent(de))
			cancel()
			if err != nil {
				j.log.Warn("journal append failed", logx.String("id", de.ID), logx.Err(err))
			}
		}
	}
}

// RecordFromEvent converts a bus delivery event into a journal record.
func RecordFromEvent(de relay.DeliveryEvent) DeliveryRecord {
	return DeliveryRecord{
		ID:     de.ID,
		At:     de.At,
		Relay:  de.Relay,
		Kind:   string(de.Kind),
		Events: de.Events,
		Bytes:  de.Bytes,
		OK:     de.Error == "",
		Status: de.Status,
		Error:  de.Error,
		TookMS: de.Took.Milliseconds(),
	}
}
