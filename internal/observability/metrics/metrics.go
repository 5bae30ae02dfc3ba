// Package metrics exports relay measurements in the Prometheus format.
//
// Metrics (namespace "slackrelay"):
//
//   - events_total{relay,outcome}: events offered to a relay, by dispatch outcome
//     (filtered, immediate, deferred, diverted).
//   - deliveries_total{relay,kind,result}: webhook POSTs by kind (single, batch)
//     and result (ok, error).
//   - delivered_events_total{relay,kind}: events carried by successful POSTs.
//   - batch_size{relay}: events per batched POST.
//   - delivery_seconds{relay,kind}: POST latency.
//   - queue_depth{relay}: events waiting for the drainer.
//   - drainer_active{relay}: 1 while a drainer runs.
//   - bus_dropped_total: delivery events dropped by a slow bus subscriber.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"slackrelay/internal/relay"
)

const namespace = "slackrelay"

// Metrics implements relay.Observer.
type Metrics struct {
	registry *prometheus.Registry

	events          *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	deliveredEvents *prometheus.CounterVec
	batchSize       *prometheus.HistogramVec
	latency         *prometheus.HistogramVec
	queueDepth      *prometheus.GaugeVec
	drainerActive   *prometheus.GaugeVec
}

var _ relay.Observer = (*Metrics)(nil)

// New registers every metric on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events offered to a relay, by dispatch outcome.",
		}, []string{"relay", "outcome"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Webhook POST attempts by kind and result.",
		}, []string{"relay", "kind", "result"}),
		deliveredEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivered_events_total",
			Help:      "Events carried by successful webhook POSTs.",
		}, []string{"relay", "kind"}),
		batchSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Events per batched webhook POST.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30},
		}, []string{"relay"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_seconds",
			Help:      "Webhook POST latency in seconds.",
			Buckets:   []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		}, []string{"relay", "kind"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Events waiting for the batch drainer.",
		}, []string{"relay"}),
		drainerActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "drainer_active",
			Help:      "1 while a batch drainer is running.",
		}, []string{"relay"}),
	}
}

// Registry is what /metrics serves.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// WatchBusDrops exports a bus drop counter.
func (m *Metrics) WatchBusDrops(dropped func() uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bus_dropped_total",
		Help:      "Delivery events dropped because a bus subscriber was full.",
	}, func() float64 { return float64(dropped()) }))
}

func (m *Metrics) Accepted(name string, outcome relay.Outcome) {
	m.events.WithLabelValues(name, string(outcome)).Inc()
}

func (m *Metrics) Delivered(name string, kind relay.Kind, events int, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.deliveries.WithLabelValues(name, string(kind), result).Inc()
	m.latency.WithLabelValues(name, string(kind)).Observe(took.Seconds())
	if kind == relay.KindBatch {
		m.batchSize.WithLabelValues(name).Observe(float64(events))
	}
	if err == nil {
		m.deliveredEvents.WithLabelValues(name, string(kind)).Add(float64(events))
	}
}

func (m *Metrics) QueueDepth(name string, n int) {
	m.queueDepth.WithLabelValues(name).Set(float64(n))
}

func (m *Metrics) DrainerActive(name string, active bool) {
	v := 0.0
	if active {
		v = 1
	}
	m.drainerActive.WithLabelValues(name).Set(v)
}
