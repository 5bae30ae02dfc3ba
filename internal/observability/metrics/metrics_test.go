package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"slackrelay/internal/relay"
)

func TestObserverUpdatesMetrics(t *testing.T) {
	t.Parallel()
	m := New()

	m.Accepted("ops", relay.OutcomeImmediate)
	m.Accepted("ops", relay.OutcomeDeferred)
	m.Accepted("ops", relay.OutcomeDeferred)
	m.Delivered("ops", relay.KindBatch, 30, 120*time.Millisecond, nil)
	m.Delivered("ops", relay.KindSingle, 1, 40*time.Millisecond, errors.New("404"))
	m.QueueDepth("ops", 7)
	m.DrainerActive("ops", true)

	if got := testutil.ToFloat64(m.events.WithLabelValues("ops", "deferred")); got != 2 {
		t.Fatalf("deferred = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.deliveries.WithLabelValues("ops", "single", "error")); got != 1 {
		t.Fatalf("single errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.deliveredEvents.WithLabelValues("ops", "batch")); got != 30 {
		t.Fatalf("delivered events = %v, want 30", got)
	}
	if got := testutil.ToFloat64(m.deliveredEvents.WithLabelValues("ops", "single")); got != 0 {
		t.Fatalf("failed single counted as delivered: %v", got)
	}
	if got := testutil.ToFloat64(m.queueDepth.WithLabelValues("ops")); got != 7 {
		t.Fatalf("queue depth = %v", got)
	}
	if got := testutil.ToFloat64(m.drainerActive.WithLabelValues("ops")); got != 1 {
		t.Fatalf("drainer active = %v", got)
	}
}

func TestBusDropsExported(t *testing.T) {
	t.Parallel()
	m := New()
	var n uint64 = 3
	m.WatchBusDrops(func() uint64 { return n })

	err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(`
# HELP slackrelay_bus_dropped_total Delivery events dropped because a bus subscriber was full.
# TYPE slackrelay_bus_dropped_total counter
slackrelay_bus_dropped_total 3
`), "slackrelay_bus_dropped_total")
	if err != nil {
		t.Fatal(err)
	}
}
