package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleHealth_returnsOK(t *testing.T) {
	// Set build-time variables for test.
	origVersion, origCommit := Version, Commit
	Version = "1.2.3"
	Commit = "abc1234"
	t.Cleanup(func() {
		Version = origVersion
		Commit = origCommit
	})

	handler := HandleHealth()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", resp.Version)
	}
	if resp.Commit != "abc1234" {
		t.Errorf("commit = %q, want abc1234", resp.Commit)
	}
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) HealthCheck(_ context.Context) error {
	return m.err
}

func TestHandleReady_allHealthy(t *testing.T) {
	checks := ReadinessChecks{
		DefinitionStore:  &mockHealthChecker{},
		ActivityStore:    &mockHealthChecker{},
		IdempotencyStore: &mockHealthChecker{},
	}

	handler := HandleReady(checks)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp ReadinessResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Status != "ready" {
		t.Errorf("status = %q, want ready", resp.Status)
	}
	if len(resp.Checks) != 3 {
		t.Errorf("checks count = %d, want 3", len(resp.Checks))
	}
	for name, check := range resp.Checks {
		if check.Status != "ok" {
			t.Errorf("%s = %q, want ok", name, check.Status)
		}
	}
}

func TestHandleReady_definitionStoreDown(t *testing.T) {
	checks := ReadinessChecks{
		DefinitionStore: &mockHealthChecker{err: errors.New("connection refused")},
		ActivityStore:   &mockHealthChecker{},
	}

	handler := HandleReady(checks)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	var resp ReadinessResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Status != "not_ready" {
		t.Errorf("status = %q, want not_ready", resp.Status)
	}
	if resp.Checks["definition_store"].Status != "error" {
		t.Errorf("definition_store = %q, want error", resp.Checks["definition_store"].Status)
	}
	if resp.Checks["definition_store"].Error != "connection refused" {
		t.Errorf("definition_store error = %q, want 'connection refused'", resp.Checks["definition_store"].Error)
	}
}

func TestHandleReady_idempotencyStoreDown(t *testing.T) {
	checks := ReadinessChecks{
		DefinitionStore:  &mockHealthChecker{},
		IdempotencyStore: &mockHealthChecker{err: errors.New("redis timeout")},
	}

	handler := HandleReady(checks)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	var resp ReadinessResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Checks["idempotency_store"].Status != "error" {
		t.Errorf("idempotency_store = %q, want error", resp.Checks["idempotency_store"].Status)
	}
}

func TestHandleReady_withoutOptionalChecks(t *testing.T) {
	handler := HandleReady(ReadinessChecks{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp ReadinessResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.Checks) != 0 {
		t.Errorf("checks count = %d, want 0", len(resp.Checks))
	}
	if resp.Status != "ready" {
		t.Errorf("status = %q, want ready", resp.Status)
	}
}

func TestHandleReady_checksHaveLatency(t *testing.T) {
	checks := ReadinessChecks{
		DefinitionStore: &mockHealthChecker{},
		ActivityStore:   &mockHealthChecker{},
	}

	handler := HandleReady(checks)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	var resp ReadinessResponse
	json.NewDecoder(rec.Body).Decode(&resp)

	for name, check := range resp.Checks {
		if check.LatencyMs < 0 {
			t.Errorf("%s latency = %d, should be >= 0", name, check.LatencyMs)
		}
	}
}

func TestHandleReady_multipleFailures(t *testing.T) {
	checks := ReadinessChecks{
		DefinitionStore: &mockHealthChecker{err: errors.New("pg down")},
		ActivityStore:   &mockHealthChecker{err: errors.New("pg down")},
	}

	handler := HandleReady(checks)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	var resp ReadinessResponse
	json.NewDecoder(rec.Body).Decode(&resp)

	failCount := 0
	for _, check := range resp.Checks {
		if check.Status == "error" {
			failCount++
		}
	}
	if failCount != 2 {
		t.Errorf("failed checks = %d, want 2", failCount)
	}
}
