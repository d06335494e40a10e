package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the engine.
type Metrics struct {
	// HTTP surface.
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ErrorsTotal     *prometheus.CounterVec
	InFlight        prometheus.Gauge

	// Definition lifecycle.
	ActivationsTotal       *prometheus.CounterVec
	ClonesTotal            prometheus.Counter
	DefinitionsSeededTotal prometheus.Counter
	GraphExportsTotal      prometheus.Counter

	// Activity engine.
	ActivitiesStartedTotal   prometheus.Counter
	ActivitiesCompletedTotal prometheus.Counter
	TransitionsFiredTotal    *prometheus.CounterVec
	HistoryEntriesTotal      *prometheus.CounterVec
	ActiveActivities         prometheus.Gauge

	// Idempotency cache.
	IdempotencyHitsTotal prometheus.Counter
}

// InitMetrics creates and registers all metric collectors.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerflow_http_requests_total",
			Help: "Total HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledgerflow_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route"}),

		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerflow_http_errors_total",
			Help: "Total error responses by error code.",
		}, []string{"code"}),

		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledgerflow_http_in_flight_requests",
			Help: "Number of HTTP requests currently being served.",
		}),

		ActivationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerflow_workflow_activations_total",
			Help: "Workflow activation attempts by outcome.",
		}, []string{"outcome"}),

		ClonesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerflow_workflow_clones_total",
			Help: "Total workflow definitions created by cloning.",
		}),

		DefinitionsSeededTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerflow_definitions_seeded_total",
			Help: "Workflow definitions imported from seed files at startup.",
		}),

		GraphExportsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerflow_graph_exports_total",
			Help: "Total graph export requests served.",
		}),

		ActivitiesStartedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerflow_activities_started_total",
			Help: "Total activities created.",
		}),

		ActivitiesCompletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerflow_activities_completed_total",
			Help: "Total activities that reached an end state or were stopped.",
		}),

		TransitionsFiredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerflow_transitions_fired_total",
			Help: "Transition fire attempts by outcome.",
		}, []string{"outcome"}),

		HistoryEntriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledgerflow_history_entries_total",
			Help: "History ledger entries appended by kind.",
		}, []string{"kind"}),

		ActiveActivities: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledgerflow_active_activities",
			Help: "Number of activities currently in progress.",
		}),

		IdempotencyHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledgerflow_idempotency_hits_total",
			Help: "Fire requests answered from the idempotency cache.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ErrorsTotal,
		m.InFlight,
		m.ActivationsTotal,
		m.ClonesTotal,
		m.DefinitionsSeededTotal,
		m.GraphExportsTotal,
		m.ActivitiesStartedTotal,
		m.ActivitiesCompletedTotal,
		m.TransitionsFiredTotal,
		m.HistoryEntriesTotal,
		m.ActiveActivities,
		m.IdempotencyHitsTotal,
	)

	return m
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordError records an error response by its envelope code.
func (m *Metrics) RecordError(code string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(code).Inc()
}

// RecordActivation records a workflow activation attempt.
// Outcome is "ok" or "rejected".
func (m *Metrics) RecordActivation(outcome string) {
	if m == nil {
		return
	}
	m.ActivationsTotal.WithLabelValues(outcome).Inc()
}

// RecordTransitionFired records a transition fire attempt.
// Outcome is "ok" or the error code that denied it.
func (m *Metrics) RecordTransitionFired(outcome string) {
	if m == nil {
		return
	}
	m.TransitionsFiredTotal.WithLabelValues(outcome).Inc()
}

// RecordHistoryEntry records an appended ledger entry. Kind is one of
// "transition", "event" or "stop".
func (m *Metrics) RecordHistoryEntry(kind string) {
	if m == nil {
		return
	}
	m.HistoryEntriesTotal.WithLabelValues(kind).Inc()
}

// RecordActivityStarted records a created activity and bumps the
// in-progress gauge.
func (m *Metrics) RecordActivityStarted() {
	if m == nil {
		return
	}
	m.ActivitiesStartedTotal.Inc()
	m.ActiveActivities.Inc()
}

// RecordActivityCompleted records a completed or stopped activity.
func (m *Metrics) RecordActivityCompleted() {
	if m == nil {
		return
	}
	m.ActivitiesCompletedTotal.Inc()
	m.ActiveActivities.Dec()
}

// RecordIdempotencyHit records a fire answered from the dedup cache.
func (m *Metrics) RecordIdempotencyHit() {
	if m == nil {
		return
	}
	m.IdempotencyHitsTotal.Inc()
}

// RecordDefinitionSeeded records one workflow built from a seed file.
func (m *Metrics) RecordDefinitionSeeded() {
	if m == nil {
		return
	}
	m.DefinitionsSeededTotal.Inc()
}
