package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/transync/internal/core/domain"
	"github.com/vietddude/transync/internal/core/failure"
	"github.com/vietddude/transync/internal/infra/storage"
	"github.com/vietddude/transync/internal/infra/storage/memory"
	"github.com/vietddude/transync/internal/orchestration/health"
	"github.com/vietddude/transync/internal/orchestration/queue"
)

// =============================================================================
// Mocks
// =============================================================================

type mockRequeuer struct {
	mu    sync.Mutex
	specs []domain.JobSpec
	err   error
}

func (r *mockRequeuer) Enqueue(ctx context.Context, spec domain.JobSpec) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.specs = append(r.specs, spec)
	return spec.Key().String(), nil
}

func (r *mockRequeuer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.specs)
}

type mockStalls struct {
	calls int
	ids   []string
}

func (m *mockStalls) DetectStalled(ctx context.Context) ([]string, error) {
	m.calls++
	return m.ids, nil
}

func newService(store storage.Store, rq Requeuer, stalls StallDetector) *Service {
	return NewService(store, rq, nil, stalls, Config{
		MaxAttempts: 3,
		Window:      time.Hour,
		LinearStep:  time.Second,
	})
}

var ctxFor = RecoveryContext{ShopID: "shop", ResourceID: "P1", ResourceType: domain.ResourceTypeProduct, Language: "fr"}

// =============================================================================
// Strategy Tests
// =============================================================================

func TestStrategyFor(t *testing.T) {
	tests := []struct {
		kind failure.Kind
		want Strategy
	}{
		{failure.KindTimeout, StrategyLinearBackoff},
		{failure.KindNetwork, StrategyLinearBackoff},
		{failure.KindUnknown, StrategyLinearBackoff},
		{failure.KindRateLimit, StrategyExponentialBackoff},
		{failure.KindQualityValidation, StrategyParameterAdjustment},
		{failure.KindMalformedMarkup, StrategyMarkupRepair},
		{failure.KindContentTooLong, StrategyContentSplitting},
		{failure.KindNotFound, StrategyTerminalSkip},
	}
	for _, tt := range tests {
		if got := StrategyFor(tt.kind); got != tt.want {
			t.Errorf("StrategyFor(%s) = %s, want %s", tt.kind, got, tt.want)
		}
	}
}

func TestPlan_ContentSplittingShrinksChunks(t *testing.T) {
	p := planner{linear: &failure.LinearBackoff{Step: time.Second, MaxDelay: time.Minute}, exponential: failure.DefaultBackoff()}
	d := failure.Classify(failure.New(failure.KindContentTooLong, "too long"))

	first := p.plan(StrategyContentSplitting, 0, d)
	second := p.plan(StrategyContentSplitting, 1, d)
	if first.Params[ParamMaxChunkChars] != "4000" || second.Params[ParamMaxChunkChars] != "2000" {
		t.Errorf("unexpected chunk sizes: %s, %s", first.Params[ParamMaxChunkChars], second.Params[ParamMaxChunkChars])
	}
	if !first.Requeue {
		t.Error("splitting must requeue")
	}
}

// =============================================================================
// DiagnoseAndRecover Tests
// =============================================================================

func TestDiagnoseAndRecover_CapsAttemptsPerScope(t *testing.T) {
	store := memory.NewStore()
	rq := &mockRequeuer{}
	svc := newService(store, rq, nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		// Volatile parts differ but fingerprint the same.
		err := errors.New("request 9f3a" + string(rune('0'+i)) + " timed out after 30s")
		out, rerr := svc.DiagnoseAndRecover(ctx, err, ctxFor)
		if rerr != nil {
			t.Fatalf("attempt %d failed: %v", i, rerr)
		}
		if !out.Success || out.Attempt != i || out.Action.Strategy != StrategyLinearBackoff {
			t.Fatalf("attempt %d: unexpected outcome %+v", i, out)
		}
	}

	out, err := svc.DiagnoseAndRecover(ctx, errors.New("request 9f3a9 timed out after 30s"), ctxFor)
	if err != nil {
		t.Fatalf("fourth call failed: %v", err)
	}
	if out.Success || out.Code != failure.CodeExceededRetryLimit {
		t.Fatalf("expected EXCEEDED_RETRY_LIMIT, got %+v", out)
	}
	if rq.Len() != 3 {
		t.Errorf("expected 3 requeues, got %d", rq.Len())
	}

	fp := failure.Fingerprint(failure.CodeTimeout, "request 9f3a1 timed out after 30s")
	attempts, _ := store.Errors.ListAttempts(ctx, ScopeKey("shop", fp, "P1", "fr"))
	if len(attempts) != 3 {
		t.Errorf("expected 3 recorded attempts, got %d", len(attempts))
	}
}

func TestDiagnoseAndRecover_OtherScopeUnaffected(t *testing.T) {
	store := memory.NewStore()
	svc := newService(store, &mockRequeuer{}, nil)
	ctx := context.Background()
	err := errors.New("connection reset by peer")

	for i := 0; i < 3; i++ {
		_, _ = svc.DiagnoseAndRecover(ctx, err, ctxFor)
	}
	other := ctxFor
	other.Language = "de"
	out, _ := svc.DiagnoseAndRecover(ctx, err, other)
	if !out.Success {
		t.Errorf("different language must have its own budget, got %+v", out)
	}
}

func TestDiagnoseAndRecover_RequeueSpec(t *testing.T) {
	rq := &mockRequeuer{}
	svc := newService(memory.NewStore(), rq, nil)

	out, err := svc.DiagnoseAndRecover(context.Background(),
		failure.New(failure.KindRateLimit, "429 too many requests"), ctxFor)
	if err != nil {
		t.Fatalf("DiagnoseAndRecover failed: %v", err)
	}
	if out.Action.Strategy != StrategyExponentialBackoff || out.Action.Delay != 30*time.Second {
		t.Errorf("unexpected action: %+v", out.Action)
	}

	spec := rq.specs[0]
	if !spec.Recovery || !spec.Force || spec.Delay != out.Action.Delay {
		t.Errorf("unexpected requeue spec: %+v", spec)
	}
	if spec.Params[ParamRecoveryReason] != failure.CodeRateLimit {
		t.Errorf("expected recovery reason param, got %v", spec.Params)
	}
}

func TestDiagnoseAndRecover_NotFoundIsTerminal(t *testing.T) {
	store := memory.NewStore()
	rq := &mockRequeuer{}
	svc := newService(store, rq, nil)

	out, err := svc.DiagnoseAndRecover(context.Background(), errors.New("resource does not exist"), ctxFor)
	if err != nil {
		t.Fatalf("DiagnoseAndRecover failed: %v", err)
	}
	if out.Action.Strategy != StrategyTerminalSkip || out.Action.Requeue {
		t.Errorf("expected terminal skip, got %+v", out.Action)
	}
	if rq.Len() != 0 {
		t.Error("terminal skip must not requeue")
	}
}

func TestDiagnoseAndRecover_RequeueFailureIsRecorded(t *testing.T) {
	store := memory.NewStore()
	svc := newService(store, &mockRequeuer{err: errors.New("queue closed")}, nil)

	out, err := svc.DiagnoseAndRecover(context.Background(), errors.New("markup has unclosed tag"), ctxFor)
	if err == nil || out.Success {
		t.Fatalf("expected failed outcome, got %+v %v", out, err)
	}

	fp := failure.Fingerprint(failure.CodeHTMLStructure, "markup has unclosed tag")
	attempts, _ := store.Errors.ListAttempts(context.Background(), ScopeKey("shop", fp, "P1", "fr"))
	if len(attempts) != 1 || attempts[0].Success {
		t.Errorf("expected one failed attempt, got %+v", attempts)
	}
}

func TestHandleJobFailure(t *testing.T) {
	rq := &mockRequeuer{}
	svc := newService(memory.NewStore(), rq, nil)

	svc.HandleJobFailure(context.Background(), queue.JobFailure{
		Job: domain.Job{
			ID:   "job-1",
			Spec: domain.JobSpec{ShopID: "shop", ResourceID: "P1", Language: "fr", ContentLength: 9000},
		},
		SessionIDs: []string{"s1"},
		Err:        failure.New(failure.KindContentTooLong, "body exceeds limit"),
	})

	if rq.Len() != 1 {
		t.Fatalf("expected requeue, got %d", rq.Len())
	}
	if rq.specs[0].Params[ParamMaxChunkChars] == "" || rq.specs[0].SessionID != "" {
		t.Errorf("unexpected spec: %+v", rq.specs[0])
	}
}

// =============================================================================
// Batch Tests
// =============================================================================

func TestBatchRecoverFailedTranslations(t *testing.T) {
	store := memory.NewStore()
	rq := &mockRequeuer{}
	svc := newService(store, rq, nil)
	ctx := context.Background()

	_ = store.Resources.Save(ctx, &domain.Resource{ID: "P1", ShopID: "shop", Fields: map[string]string{"title": "x"}})
	for _, tr := range []*domain.Translation{
		{ShopID: "shop", ResourceID: "P1", Language: "fr", SyncStatus: domain.SyncStatusFailed, LastError: "TIMEOUT: upstream timed out"},
		{ShopID: "shop", ResourceID: "P1", Language: "de", SyncStatus: domain.SyncStatusFailed, LastError: "CONTENT_TOO_LONG: body too big"},
		{ShopID: "shop", ResourceID: "GONE", Language: "fr", SyncStatus: domain.SyncStatusFailed, LastError: "TIMEOUT: upstream timed out"},
		{ShopID: "shop", ResourceID: "P1", Language: "es", SyncStatus: domain.SyncStatusSynced},
	} {
		_ = store.Translations.Upsert(ctx, tr)
	}

	dry, err := svc.BatchRecoverFailedTranslations(ctx, "shop", BatchRecoverOptions{DryRun: true})
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if dry.Scanned != 3 || rq.Len() != 0 {
		t.Fatalf("dry run must only diagnose: %+v, requeued %d", dry, rq.Len())
	}

	sum, err := svc.BatchRecoverFailedTranslations(ctx, "shop", BatchRecoverOptions{Concurrency: 2})
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if sum.Scanned != 3 || sum.Recovered != 2 || sum.Skipped != 1 || sum.Failed != 0 {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if sum.ByStrategy[StrategyContentSplitting] != 1 || sum.ByStrategy[StrategyLinearBackoff] != 1 {
		t.Errorf("unexpected strategies: %v", sum.ByStrategy)
	}
}

// =============================================================================
// Health Tests
// =============================================================================

func TestPerformSystemHealthCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy", func(t *testing.T) {
		svc := newService(memory.NewStore(), &mockRequeuer{}, nil)
		h, err := svc.PerformSystemHealthCheck(ctx, "shop")
		if err != nil {
			t.Fatalf("health check failed: %v", err)
		}
		if h.Status != health.StatusHealthy {
			t.Errorf("expected healthy, got %s", h.Status)
		}
	})

	t.Run("critical failure rate", func(t *testing.T) {
		store := memory.NewStore()
		svc := newService(store, &mockRequeuer{}, nil)
		now := time.Now()
		_ = store.Translations.Upsert(ctx, &domain.Translation{ShopID: "shop", ResourceID: "A", Language: "fr", SyncStatus: domain.SyncStatusFailed, LastAttemptAt: now})
		_ = store.Translations.Upsert(ctx, &domain.Translation{ShopID: "shop", ResourceID: "B", Language: "fr", SyncStatus: domain.SyncStatusSynced, LastAttemptAt: now})

		h, _ := svc.PerformSystemHealthCheck(ctx, "shop")
		if h.Status != health.StatusCritical || h.FailureRate != 0.5 {
			t.Errorf("expected critical at 0.5, got %s at %.2f", h.Status, h.FailureRate)
		}
	})

	t.Run("stalled session demoted", func(t *testing.T) {
		store := memory.NewStore()
		stalls := &mockStalls{ids: []string{"s1"}}
		svc := newService(store, &mockRequeuer{}, stalls)
		_ = store.Sessions.Create(ctx, &domain.Session{
			ID:               "s1",
			ShopID:           "shop",
			Status:           domain.SessionStatusRunning,
			LastCheckpointAt: time.Now().Add(-time.Hour),
		})

		h, _ := svc.PerformSystemHealthCheck(ctx, "shop")
		if h.Status != health.StatusDegraded || h.StalledSessions != 1 {
			t.Errorf("expected degraded with 1 stalled, got %+v", h)
		}
		if stalls.calls != 1 || len(h.DemotedSessions) != 1 {
			t.Errorf("expected stalled session demotion, got %+v", h.DemotedSessions)
		}
	})

	t.Run("archives old errors", func(t *testing.T) {
		store := memory.NewStore()
		svc := newService(store, &mockRequeuer{}, nil)
		_, _ = store.Errors.RecordOccurrence(ctx, &domain.ErrorLog{
			ID: "e1", ShopID: "shop", Fingerprint: "fp", Code: "TIMEOUT",
		})
		svc.now = func() time.Time { return time.Now().Add(60 * 24 * time.Hour) }

		h, _ := svc.PerformSystemHealthCheck(ctx, "shop")
		if h.ArchivedErrors != 1 {
			t.Errorf("expected 1 archived error, got %d", h.ArchivedErrors)
		}
	})
}

func TestMemoryAttemptCounter_Window(t *testing.T) {
	c := NewMemoryAttemptCounter(time.Minute)
	ctx := context.Background()
	base := time.Now()

	_ = c.Record(ctx, "scope", base.Add(-2*time.Minute))
	_ = c.Record(ctx, "scope", base)

	n, _ := c.Count(ctx, "scope", base.Add(-time.Minute))
	if n != 1 {
		t.Errorf("expected 1 attempt in window, got %d", n)
	}
}
