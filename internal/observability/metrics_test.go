package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := InitMetrics(reg)
	return m, reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)
	if m == nil {
		t.Fatal("InitMetrics returned nil")
	}

	// Record a value for each metric so they appear in Gather.
	m.RecordRequest("GET", "/v1/workflows", 200, time.Millisecond)
	m.RecordError("NOT_FOUND")
	m.InFlight.Inc()
	m.RecordActivation("ok")
	m.ClonesTotal.Inc()
	m.DefinitionsSeededTotal.Inc()
	m.GraphExportsTotal.Inc()
	m.RecordActivityStarted()
	m.RecordActivityCompleted()
	m.RecordTransitionFired("ok")
	m.RecordHistoryEntry("transition")
	m.IdempotencyHitsTotal.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	expected := []string{
		"ledgerflow_http_requests_total",
		"ledgerflow_http_request_duration_seconds",
		"ledgerflow_http_errors_total",
		"ledgerflow_http_in_flight_requests",
		"ledgerflow_workflow_activations_total",
		"ledgerflow_workflow_clones_total",
		"ledgerflow_definitions_seeded_total",
		"ledgerflow_graph_exports_total",
		"ledgerflow_activities_started_total",
		"ledgerflow_activities_completed_total",
		"ledgerflow_transitions_fired_total",
		"ledgerflow_history_entries_total",
		"ledgerflow_active_activities",
		"ledgerflow_idempotency_hits_total",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestRecordRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordRequest("GET", "/v1/workflows/{workflowID}", 200, 50*time.Millisecond)
	m.RecordRequest("GET", "/v1/workflows/{workflowID}", 200, 100*time.Millisecond)
	m.RecordRequest("POST", "/v1/activities", 500, 200*time.Millisecond)

	val := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/v1/workflows/{workflowID}", "200"))
	if val != 2 {
		t.Errorf("GET requests = %v, want 2", val)
	}
	val = testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST", "/v1/activities", "500"))
	if val != 1 {
		t.Errorf("POST requests = %v, want 1", val)
	}
}

func TestRecordTransitionFired_byOutcome(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordTransitionFired("ok")
	m.RecordTransitionFired("ok")
	m.RecordTransitionFired("WRONG_SOURCE")
	m.RecordTransitionFired("UNAUTHORIZED")

	if val := testutil.ToFloat64(m.TransitionsFiredTotal.WithLabelValues("ok")); val != 2 {
		t.Errorf("ok fires = %v, want 2", val)
	}
	if val := testutil.ToFloat64(m.TransitionsFiredTotal.WithLabelValues("WRONG_SOURCE")); val != 1 {
		t.Errorf("WRONG_SOURCE fires = %v, want 1", val)
	}
}

func TestActivityGauge(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordActivityStarted()
	m.RecordActivityStarted()
	m.RecordActivityStarted()
	m.RecordActivityCompleted()

	if val := testutil.ToFloat64(m.ActiveActivities); val != 2 {
		t.Errorf("active activities = %v, want 2", val)
	}
	if val := testutil.ToFloat64(m.ActivitiesStartedTotal); val != 3 {
		t.Errorf("started = %v, want 3", val)
	}
	if val := testutil.ToFloat64(m.ActivitiesCompletedTotal); val != 1 {
		t.Errorf("completed = %v, want 1", val)
	}
}

func TestNilMetrics_noPanic(t *testing.T) {
	var m *Metrics
	m.RecordRequest("GET", "/v1/roles", 200, time.Millisecond)
	m.RecordError("CONFLICT")
	m.RecordActivation("ok")
	m.RecordTransitionFired("ok")
	m.RecordHistoryEntry("event")
	m.RecordActivityStarted()
	m.RecordActivityCompleted()
}
