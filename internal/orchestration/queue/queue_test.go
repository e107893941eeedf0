package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/transync/internal/core/domain"
	"github.com/vietddude/transync/internal/core/failure"
	"github.com/vietddude/transync/internal/infra/storage"
	"github.com/vietddude/transync/internal/infra/storage/memory"
	"github.com/vietddude/transync/internal/orchestration/skip"
	"github.com/vietddude/transync/internal/orchestration/telemetry"
)

// =============================================================================
// Mock Executor
// =============================================================================

type fakeExecutor struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(req domain.TranslateRequest, call int) (*domain.TranslateResult, error)
}

func newFakeExecutor(fn func(req domain.TranslateRequest, call int) (*domain.TranslateResult, error)) *fakeExecutor {
	return &fakeExecutor{calls: make(map[string]int), fn: fn}
}

func (f *fakeExecutor) Translate(ctx context.Context, req domain.TranslateRequest) (*domain.TranslateResult, error) {
	key := req.ResourceID + ":" + req.Language
	f.mu.Lock()
	f.calls[key]++
	call := f.calls[key]
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(req, call)
	}
	return echo(req), nil
}

func (f *fakeExecutor) Calls(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func echo(req domain.TranslateRequest) *domain.TranslateResult {
	out := make(map[string]string, len(req.Fields))
	for k, v := range req.Fields {
		out[k] = "[" + req.Language + "] " + v
	}
	return &domain.TranslateResult{Fields: out, QualityScore: 0.9}
}

type recordingHandler struct {
	mu       sync.Mutex
	failures []JobFailure
}

func (h *recordingHandler) HandleJobFailure(ctx context.Context, f JobFailure) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = append(h.failures, f)
}

func (h *recordingHandler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.failures)
}

// =============================================================================
// Helpers
// =============================================================================

func setup(t *testing.T, exec Executor, opts Options) (*Queue, storage.Store) {
	t.Helper()
	store := memory.NewStore()
	if opts.InitialBackoff == 0 {
		opts.InitialBackoff = time.Millisecond
		opts.MaxBackoff = 5 * time.Millisecond
	}
	q := New(opts, Deps{
		Executor:     exec,
		Resources:    store.Resources,
		Translations: store.Translations,
		Telemetry:    &telemetry.Recorder{},
	})
	return q, store
}

func seed(t *testing.T, store storage.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		err := store.Resources.Save(context.Background(), &domain.Resource{
			ID:          id,
			ShopID:      "shop",
			Type:        domain.ResourceTypeProduct,
			Fields:      map[string]string{"title": "Title " + id},
			Fingerprint: "fp-" + id,
			Status:      domain.ResourceStatusPending,
		})
		require.NoError(t, err)
	}
}

func spec(id, lang string) domain.JobSpec {
	return domain.JobSpec{ShopID: "shop", ResourceID: id, ResourceType: domain.ResourceTypeProduct, Language: lang}
}

func start(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	t.Cleanup(func() {
		cancel()
		q.Wait()
	})
}

// =============================================================================
// Enqueue Tests
// =============================================================================

func TestEnqueue_CoalescesDuplicateKeys(t *testing.T) {
	q, _ := setup(t, newFakeExecutor(nil), Options{})
	ctx := context.Background()

	a := spec("P1", "fr")
	a.SessionID = "s1"
	b := spec("P1", "fr")
	b.SessionID = "s2"
	b.Urgency = domain.UrgencyInteractive

	id1, err := q.Enqueue(ctx, a)
	require.NoError(t, err)
	id2, err := q.Enqueue(ctx, b)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, q.Stats().Queued)

	job, err := q.Status(id1)
	require.NoError(t, err)
	assert.Equal(t, classWeight(domain.ResourceTypeProduct)+interactiveBoost, job.Priority)
	assert.ElementsMatch(t, []string{"s1", "s2"}, q.entries[id1].sessions)
}

func TestEnqueueBatch_RejectsInvalidSpecAtomically(t *testing.T) {
	q, _ := setup(t, newFakeExecutor(nil), Options{})

	_, err := q.EnqueueBatch(context.Background(), []domain.JobSpec{spec("P1", "fr"), spec("", "fr")})
	assert.ErrorIs(t, err, ErrInvalidSpec)
	assert.Equal(t, 0, q.Stats().Queued)
}

func TestTakeBatch_PriorityAndLongFormOrdering(t *testing.T) {
	q, _ := setup(t, newFakeExecutor(nil), Options{Workers: 10, BatchSize: 10, ShopConcurrency: 10})
	ctx := context.Background()

	menu := spec("M", "fr")
	menu.ResourceType = domain.ResourceTypeMenu
	page := spec("PG", "fr")
	page.ResourceType = domain.ResourceTypePage
	page.Urgency = domain.UrgencyInteractive
	product := spec("PR", "fr")

	for _, s := range []domain.JobSpec{menu, product, page} {
		_, err := q.Enqueue(ctx, s)
		require.NoError(t, err)
	}

	batch, _ := q.takeBatch(q.now())
	require.Len(t, batch, 3)
	// page is long-form by type so it leads; the rest follow priority
	assert.Equal(t, "PG", batch[0].job.Spec.ResourceID)
	assert.Equal(t, "PR", batch[1].job.Spec.ResourceID)
	assert.Equal(t, "M", batch[2].job.Spec.ResourceID)
}

func TestTakeBatch_LongFormLeadsBatch(t *testing.T) {
	q, _ := setup(t, newFakeExecutor(nil), Options{Workers: 10, BatchSize: 10, ShopConcurrency: 10})
	ctx := context.Background()

	short := spec("SHORT", "fr")
	short.Urgency = domain.UrgencyInteractive
	long := spec("LONG", "fr")
	long.ResourceType = domain.ResourceTypeLink
	long.ContentLength = 8000

	_, _ = q.Enqueue(ctx, short)
	_, _ = q.Enqueue(ctx, long)

	batch, _ := q.takeBatch(q.now())
	require.Len(t, batch, 2)
	assert.Equal(t, "LONG", batch[0].job.Spec.ResourceID)
}

func TestTakeBatch_RespectsShopCeiling(t *testing.T) {
	q, _ := setup(t, newFakeExecutor(nil), Options{Workers: 10, BatchSize: 10, ShopConcurrency: 2})
	ctx := context.Background()

	for _, id := range []string{"A1", "A2", "A3", "A4"} {
		_, _ = q.Enqueue(ctx, spec(id, "fr"))
	}
	other := spec("B1", "fr")
	other.ShopID = "other"
	_, _ = q.Enqueue(ctx, other)

	batch, _ := q.takeBatch(q.now())
	assert.Len(t, batch, 3)
	assert.Equal(t, 2, q.Stats().ActiveByShop["shop"])
	assert.Equal(t, 1, q.Stats().ActiveByShop["other"])
	assert.Equal(t, 2, q.Stats().Queued)

	batch, _ = q.takeBatch(q.now())
	assert.Empty(t, batch)
}

func TestTakeBatch_HoldsDelayedJobs(t *testing.T) {
	q, _ := setup(t, newFakeExecutor(nil), Options{})
	s := spec("P1", "fr")
	s.Delay = time.Minute
	_, _ = q.Enqueue(context.Background(), s)

	batch, wait := q.takeBatch(q.now())
	assert.Empty(t, batch)
	assert.Greater(t, wait, time.Duration(0))
	assert.Equal(t, 1, q.Stats().Queued)
}

// =============================================================================
// Submit Tests
// =============================================================================

func TestSubmit_InlineWritesTranslations(t *testing.T) {
	exec := newFakeExecutor(nil)
	q, store := setup(t, exec, Options{})
	seed(t, store, "P1", "P2")
	start(t, q)

	out, err := q.Submit(context.Background(), []domain.JobSpec{spec("P1", "fr"), spec("P2", "de")})
	require.NoError(t, err)
	assert.False(t, out.Async)
	assert.Zero(t, out.Pending)
	for _, r := range out.Results {
		assert.Equal(t, domain.JobStateCompleted, r.State)
	}

	tr, err := store.Translations.Get(context.Background(), "P1", "fr")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusSynced, tr.SyncStatus)
	assert.Equal(t, "fp-P1", tr.SourceFingerprint)
	assert.Equal(t, "[fr] Title P1", tr.Fields["title"])

	res, err := store.Resources.Get(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, domain.ResourceStatusCompleted, res.Status)
}

func TestSubmit_RetryReplacesFailedRow(t *testing.T) {
	q, store := setup(t, newFakeExecutor(nil), Options{})
	seed(t, store, "P1")
	start(t, q)
	ctx := context.Background()

	require.NoError(t, store.Translations.Upsert(ctx, &domain.Translation{
		ShopID:            "shop",
		ResourceID:        "P1",
		Language:          "fr",
		SourceFingerprint: "fp-P1",
		SyncStatus:        domain.SyncStatusFailed,
		RetryCount:        1,
		LastError:         "TIMEOUT: upstream timed out",
	}))

	engine := skip.NewEngine(store.Translations, nil, skip.Config{QualityThreshold: 0.7, MaxRetries: 3})
	res, err := store.Resources.Get(ctx, "P1")
	require.NoError(t, err)

	d, err := engine.Evaluate(ctx, res, "fr", skip.EvalOptions{})
	require.NoError(t, err)
	require.Equal(t, skip.ActionRetry, d.Action)
	assert.Equal(t, skip.ReasonRetryEligible, d.Reason)

	sp := spec("P1", "fr")
	sp.Retry = d.Action == skip.ActionRetry
	out, err := q.Submit(ctx, []domain.JobSpec{sp})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, domain.JobStateCompleted, out.Results[0].State)

	tr, err := store.Translations.Get(ctx, "P1", "fr")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusSynced, tr.SyncStatus)
	assert.Equal(t, "[fr] Title P1", tr.Fields["title"])
	assert.Zero(t, tr.RetryCount)

	d, err = engine.Evaluate(ctx, res, "fr", skip.EvalOptions{})
	require.NoError(t, err)
	assert.Equal(t, skip.ActionSkip, d.Action)
	assert.Equal(t, skip.ReasonUpToDate, d.Reason)
}

func TestSubmit_PlainJobKeepsFailedRow(t *testing.T) {
	q, store := setup(t, newFakeExecutor(nil), Options{})
	seed(t, store, "P1")
	start(t, q)
	ctx := context.Background()

	require.NoError(t, store.Translations.Upsert(ctx, &domain.Translation{
		ShopID:            "shop",
		ResourceID:        "P1",
		Language:          "fr",
		SourceFingerprint: "fp-P1",
		SyncStatus:        domain.SyncStatusFailed,
		RetryCount:        1,
	}))

	_, err := q.Submit(ctx, []domain.JobSpec{spec("P1", "fr")})
	require.NoError(t, err)

	tr, err := store.Translations.Get(ctx, "P1", "fr")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusFailed, tr.SyncStatus)
}

func TestEnqueue_CoalescedRetryFlagSticks(t *testing.T) {
	q, _ := setup(t, newFakeExecutor(nil), Options{})
	ctx := context.Background()

	id1, err := q.Enqueue(ctx, spec("P1", "fr"))
	require.NoError(t, err)
	retry := spec("P1", "fr")
	retry.Retry = true
	id2, err := q.Enqueue(ctx, retry)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	job, err := q.Status(id1)
	require.NoError(t, err)
	assert.True(t, job.Spec.Retry)
}

func TestOnResult_NotifiesEveryListener(t *testing.T) {
	q, store := setup(t, newFakeExecutor(nil), Options{})
	seed(t, store, "P1")

	var mu sync.Mutex
	seen := map[string]domain.JobState{}
	for _, name := range []string{"a", "b"} {
		q.OnResult(func(r Result) {
			mu.Lock()
			defer mu.Unlock()
			seen[name] = r.State
		})
	}
	start(t, q)

	_, err := q.Submit(context.Background(), []domain.JobSpec{spec("P1", "fr")})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]domain.JobState{
		"a": domain.JobStateCompleted,
		"b": domain.JobStateCompleted,
	}, seen)
}

func TestSubmit_LargeBatchIsAsync(t *testing.T) {
	q, _ := setup(t, newFakeExecutor(nil), Options{InlineThreshold: 10})

	specs := make([]domain.JobSpec, 25)
	for i := range specs {
		specs[i] = spec("P", "fr")
		specs[i].ResourceID = "P" + string(rune('a'+i))
	}
	before := time.Now()
	out, err := q.Submit(context.Background(), specs)
	require.NoError(t, err)

	assert.True(t, out.Async)
	assert.Len(t, out.JobIDs, 25)
	assert.Empty(t, out.Results)
	assert.True(t, out.EstimatedCompletion.After(before))
}

func TestSubmit_PartialResult(t *testing.T) {
	exec := newFakeExecutor(func(req domain.TranslateRequest, call int) (*domain.TranslateResult, error) {
		r := echo(req)
		r.SkippedFields = []string{"body_html"}
		return r, nil
	})
	q, store := setup(t, exec, Options{})
	seed(t, store, "P1")
	start(t, q)

	out, err := q.Submit(context.Background(), []domain.JobSpec{spec("P1", "fr")})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.True(t, out.Results[0].Partial)

	tr, err := store.Translations.Get(context.Background(), "P1", "fr")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusPartial, tr.SyncStatus)
}

// =============================================================================
// Failure Tests
// =============================================================================

func TestRun_RetriesTransientFailures(t *testing.T) {
	exec := newFakeExecutor(func(req domain.TranslateRequest, call int) (*domain.TranslateResult, error) {
		if call == 1 {
			return nil, failure.New(failure.KindTimeout, "upstream timed out")
		}
		return echo(req), nil
	})
	q, store := setup(t, exec, Options{MaxAttempts: 3})
	seed(t, store, "P1")
	start(t, q)

	out, err := q.Submit(context.Background(), []domain.JobSpec{spec("P1", "fr")})
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, domain.JobStateCompleted, out.Results[0].State)
	assert.Equal(t, 2, out.Results[0].Attempts)
	assert.Equal(t, 2, exec.Calls("P1:fr"))
}

func TestRun_ExhaustedRetriesRecordFailure(t *testing.T) {
	exec := newFakeExecutor(func(req domain.TranslateRequest, call int) (*domain.TranslateResult, error) {
		return nil, failure.New(failure.KindRateLimit, "429 too many requests")
	})
	q, store := setup(t, exec, Options{MaxAttempts: 2})
	handler := &recordingHandler{}
	q.SetFailureHandler(handler)
	seed(t, store, "P1")
	start(t, q)

	out, err := q.Submit(context.Background(), []domain.JobSpec{spec("P1", "fr")})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, out.Results[0].State)
	assert.Equal(t, failure.KindRateLimit, out.Results[0].Diagnosis.Kind)

	tr, err := store.Translations.Get(context.Background(), "P1", "fr")
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusFailed, tr.SyncStatus)
	assert.Equal(t, 1, tr.RetryCount)
	assert.Equal(t, "fp-P1", tr.SourceFingerprint)

	require.Eventually(t, func() bool { return handler.Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRun_MissingResourceIsTerminal(t *testing.T) {
	exec := newFakeExecutor(nil)
	q, store := setup(t, exec, Options{})
	handler := &recordingHandler{}
	q.SetFailureHandler(handler)
	start(t, q)

	out, err := q.Submit(context.Background(), []domain.JobSpec{spec("GONE", "fr")})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateFailed, out.Results[0].State)
	assert.Equal(t, failure.KindNotFound, out.Results[0].Diagnosis.Kind)
	assert.Equal(t, 1, out.Results[0].Attempts)
	assert.Zero(t, exec.Calls("GONE:fr"))

	_, err = store.Translations.Get(context.Background(), "GONE", "fr")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestCancel_DiscardsInFlightResult(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	exec := newFakeExecutor(func(req domain.TranslateRequest, call int) (*domain.TranslateResult, error) {
		close(started)
		<-release
		return echo(req), nil
	})
	q, store := setup(t, exec, Options{})
	seed(t, store, "P1")

	var mu sync.Mutex
	var results []Result
	q.OnResult(func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	})
	start(t, q)

	id, err := q.Enqueue(context.Background(), spec("P1", "fr"))
	require.NoError(t, err)
	<-started

	require.NoError(t, q.Cancel(id))
	assert.ErrorIs(t, q.Cancel(id), ErrJobTerminal)
	close(release)

	require.Eventually(t, func() bool { return q.Stats().Active == 0 }, time.Second, 5*time.Millisecond)

	_, err = store.Translations.Get(context.Background(), "P1", "fr")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 1)
	assert.Equal(t, domain.JobStateCancelled, results[0].State)
}

func TestCancelSession_DropsOnlyUnsharedJobs(t *testing.T) {
	q, _ := setup(t, newFakeExecutor(nil), Options{})
	ctx := context.Background()

	a := spec("P1", "fr")
	a.SessionID = "s1"
	shared := spec("P2", "fr")
	shared.SessionID = "s1"
	sharedToo := spec("P2", "fr")
	sharedToo.SessionID = "s2"

	idA, _ := q.Enqueue(ctx, a)
	idShared, _ := q.Enqueue(ctx, shared)
	_, _ = q.Enqueue(ctx, sharedToo)

	assert.Equal(t, 1, q.CancelSession("s1"))

	job, err := q.Status(idA)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateCancelled, job.State)

	job, err = q.Status(idShared)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateQueued, job.State)
	assert.Equal(t, 1, q.Stats().Queued)
}

func TestPrune_ForgetsOldTerminalJobs(t *testing.T) {
	q, _ := setup(t, newFakeExecutor(nil), Options{})
	id, _ := q.Enqueue(context.Background(), spec("P1", "fr"))
	require.NoError(t, q.Cancel(id))

	q.now = func() time.Time { return time.Now().Add(time.Hour) }
	assert.Equal(t, 1, q.Prune(time.Minute))

	_, err := q.Status(id)
	assert.ErrorIs(t, err, ErrJobNotFound)
}
