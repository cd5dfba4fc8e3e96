package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/randalmurphal/verity/internal/events"
)

// Outcome label values besides error categories.
const OutcomeOK = "ok"

// Metrics holds the Prometheus collectors for engine operations. A nil
// *Metrics records nothing.
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	retries    *prometheus.CounterVec
	events     *prometheus.CounterVec
}

// NewMetrics creates the collectors on a private registry that also carries
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verity",
			Name:      "operations_total",
			Help:      "Engine operations by name and outcome.",
		}, []string{"op", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "verity",
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verity",
			Name:      "transaction_retries_total",
			Help:      "Transactions rerun after a serialization failure.",
		}, []string{"op"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verity",
			Name:      "lifecycle_events_total",
			Help:      "Committed lifecycle events by type.",
		}, []string{"type"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operations,
		m.duration,
		m.retries,
		m.events,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveOperation records one finished operation.
func (m *Metrics) ObserveOperation(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveRetry records a transaction rerun.
func (m *Metrics) ObserveRetry(op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}

// ObserveEvents counts committed lifecycle events.
func (m *Metrics) ObserveEvents(evs []events.Event) {
	if m == nil {
		return
	}
	for _, e := range evs {
		m.events.WithLabelValues(string(e.Type)).Inc()
	}
}

// OperationCount returns how many op calls finished with outcome.
func (m *Metrics) OperationCount(op, outcome string) float64 {
	return testutil.ToFloat64(m.operations.WithLabelValues(op, outcome))
}

// RetryCount returns how many times op's transaction was rerun.
func (m *Metrics) RetryCount(op string) float64 {
	return testutil.ToFloat64(m.retries.WithLabelValues(op))
}

// EventCount returns how many committed events of type t were counted.
func (m *Metrics) EventCount(t events.EventType) float64 {
	return testutil.ToFloat64(m.events.WithLabelValues(string(t)))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
