package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is a no-op.
type Metrics struct {
	httpRequests        *prometheus.CounterVec
	httpLatency         *prometheus.HistogramVec
	httpErrors          *prometheus.CounterVec
	transitions         *prometheus.CounterVec
	rejections          *prometheus.CounterVec
	observerDeliveries  *prometheus.CounterVec
	stateMachineLookups *prometheus.CounterVec
	unjournaledTickets  prometheus.Counter
	danglingTransitions prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "HTTP requests answered with a domain error, by code.",
		}, []string{"method", "path", "code"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_state_transitions_total",
			Help: "Recorded ticket state transitions by target state.",
		}, []string{"state"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_workflow_rejections_total",
			Help: "Workflow operations rejected, by operation and error code.",
		}, []string{"operation", "code"}),
		observerDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "observer_notifications_total",
			Help: "State-change notifications sent to the observer, by result.",
		}, []string{"result"}),
		stateMachineLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "state_machine_cache_lookups_total",
			Help: "State machine lookups by cache layer result.",
		}, []string{"result"}),
		unjournaledTickets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickets_unjournaled_found_total",
			Help: "Tickets found whose current state has no matching history entry.",
		}),
		danglingTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "state_machine_dangling_transitions_total",
			Help: "Loaded transitions whose target state is not defined in the machine.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.httpRequests,
			m.httpLatency,
			m.httpErrors,
			m.transitions,
			m.rejections,
			m.observerDeliveries,
			m.stateMachineLookups,
			m.unjournaledTickets,
			m.danglingTransitions,
		)
	}
	return m
}

// RecordRequest counts a served request.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordError counts a request answered with a domain error.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.httpErrors.WithLabelValues(method, path, code).Inc()
}

// RecordTransition counts a persisted history entry.
func (m *Metrics) RecordTransition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

// RecordRejection counts a workflow operation that failed with code.
func (m *Metrics) RecordRejection(operation, code string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(operation, code).Inc()
}

// RecordObserverDelivery counts an observer notification outcome.
func (m *Metrics) RecordObserverDelivery(result string) {
	if m == nil {
		return
	}
	m.observerDeliveries.WithLabelValues(result).Inc()
}

// RecordStateMachineLookup counts a registry lookup by the layer that answered it.
func (m *Metrics) RecordStateMachineLookup(result string) {
	if m == nil {
		return
	}
	m.stateMachineLookups.WithLabelValues(result).Inc()
}

// RecordUnjournaled counts tickets found by the reconcile scan.
func (m *Metrics) RecordUnjournaled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.unjournaledTickets.Add(float64(n))
}

// RecordDanglingTransitions counts transitions to undefined states seen on load.
func (m *Metrics) RecordDanglingTransitions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.danglingTransitions.Add(float64(n))
}
