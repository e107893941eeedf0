package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// =============================================================================
// Mocks
// =============================================================================

type stubChecker struct {
	results map[string]ShopHealth
	errs    map[string]error
	calls   int
}

func (s *stubChecker) PerformSystemHealthCheck(ctx context.Context, shopID string) (ShopHealth, error) {
	s.calls++
	return s.results[shopID], s.errs[shopID]
}

type stubQueue struct{ queued, active int }

func (s stubQueue) Depth() (int, int) { return s.queued, s.active }

// =============================================================================
// Monitor Tests
// =============================================================================

func TestMonitor_WorstShopWins(t *testing.T) {
	checker := &stubChecker{results: map[string]ShopHealth{
		"a": {ShopID: "a", Status: StatusHealthy},
		"b": {ShopID: "b", Status: StatusCritical},
		"c": {ShopID: "c", Status: StatusDegraded},
	}}
	m := NewMonitor([]string{"a", "b", "c"}, checker, stubQueue{queued: 4, active: 2})

	report := m.CheckHealth(context.Background())
	if report.SystemStatus != StatusCritical {
		t.Errorf("expected critical, got %s", report.SystemStatus)
	}
	if report.Queue == nil || report.Queue.Queued != 4 {
		t.Errorf("expected queue section, got %+v", report.Queue)
	}
}

func TestMonitor_CheckErrorDegrades(t *testing.T) {
	checker := &stubChecker{
		results: map[string]ShopHealth{},
		errs:    map[string]error{"a": errors.New("db down")},
	}
	m := NewMonitor([]string{"a"}, checker, nil)

	report := m.CheckHealth(context.Background())
	if report.Shops["a"].Status != StatusDegraded {
		t.Errorf("expected degraded, got %s", report.Shops["a"].Status)
	}
}

func TestMonitor_CachesBetweenChecks(t *testing.T) {
	checker := &stubChecker{results: map[string]ShopHealth{"a": {Status: StatusHealthy}}}
	m := NewMonitor([]string{"a"}, checker, nil)

	m.CheckHealth(context.Background())
	m.CheckHealth(context.Background())
	if checker.calls != 1 {
		t.Errorf("expected cached report, got %d checks", checker.calls)
	}

	m.Refresh(context.Background())
	if checker.calls != 2 {
		t.Errorf("expected Refresh to force a check, got %d", checker.calls)
	}
}

// =============================================================================
// Server Tests
// =============================================================================

func TestServer_HealthStatusCode(t *testing.T) {
	checker := &stubChecker{results: map[string]ShopHealth{"a": {Status: StatusCritical}}}
	srv := NewServer(NewMonitor([]string{"a"}, checker, nil), 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))
	var report HealthReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := report.Shops["a"]; !ok {
		t.Errorf("expected shop a in detailed report")
	}
}
