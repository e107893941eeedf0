package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/vietddude/transync/internal/core/domain"
	"github.com/vietddude/transync/internal/core/failure"
	"github.com/vietddude/transync/internal/infra/storage"
	"github.com/vietddude/transync/internal/orchestration/metrics"
	"github.com/vietddude/transync/internal/orchestration/telemetry"
)

const (
	idlePoll       = time.Second
	lockRetryDelay = 500 * time.Millisecond
)

// Start runs the dispatcher until ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.dispatchLoop(ctx)
	}()
}

// Wait blocks until the dispatcher and all in-flight jobs have returned.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) dispatchLoop(ctx context.Context) {
	q.logger.Info("Queue dispatcher started",
		"workers", q.opts.Workers,
		"batch_size", q.opts.BatchSize,
		"shop_concurrency", q.opts.ShopConcurrency,
	)
	timer := time.NewTimer(idlePoll)
	defer timer.Stop()

	for {
		batch, wait := q.takeBatch(q.now())
		for _, e := range batch {
			q.wg.Add(1)
			go q.run(ctx, e)
		}
		if len(batch) > 0 {
			continue
		}

		if wait <= 0 || wait > idlePoll {
			wait = idlePoll
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			q.logger.Info("Queue dispatcher stopped")
			return
		case <-q.wake:
		case <-timer.C:
		}
	}
}

// takeBatch pops up to BatchSize ready jobs in priority order while
// respecting worker and per-shop limits. Long-form items lead the batch.
// The returned duration is how long until the earliest delayed job is due.
func (q *Queue) takeBatch(now time.Time) ([]*entry, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	limit := min(q.opts.BatchSize, q.opts.Workers-q.active)
	if limit <= 0 {
		return nil, idlePoll
	}

	var (
		batch   []*entry
		skipped []*entry
		wait    time.Duration
		shopUse = make(map[string]int)
	)
	for q.pending.Len() > 0 && len(batch) < limit {
		e := heap.Pop(&q.pending).(*entry)
		if e.job.NotBefore.After(now) {
			if d := e.job.NotBefore.Sub(now); wait == 0 || d < wait {
				wait = d
			}
			skipped = append(skipped, e)
			continue
		}
		shop := e.job.Spec.ShopID
		if q.activeByShop[shop]+shopUse[shop] >= q.opts.ShopConcurrency {
			skipped = append(skipped, e)
			continue
		}
		shopUse[shop]++
		batch = append(batch, e)
	}
	for _, e := range skipped {
		heap.Push(&q.pending, e)
	}

	sort.SliceStable(batch, func(i, j int) bool {
		return isLongForm(batch[i].job.Spec) && !isLongForm(batch[j].job.Spec)
	})

	for _, e := range batch {
		e.job.State = domain.JobStateActive
		e.job.StartedAt = now
		e.job.Attempts++
		q.active++
		q.activeByShop[e.job.Spec.ShopID]++
		metrics.ActiveJobs.WithLabelValues(e.job.Spec.ShopID).Set(float64(q.activeByShop[e.job.Spec.ShopID]))
	}
	metrics.QueueDepth.Set(float64(q.pending.Len()))
	return batch, wait
}

func (q *Queue) snapshot(e *entry) (domain.Job, []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return e.job, append([]string(nil), e.sessions...)
}

func (q *Queue) isCancelled(e *entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return e.cancelled
}

func (q *Queue) limiter(shopID string) *rate.Limiter {
	if q.opts.ShopRateLimit <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.limiters[shopID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(q.opts.ShopRateLimit), 1)
		q.limiters[shopID] = l
	}
	return l
}

func (q *Queue) run(ctx context.Context, e *entry) {
	defer q.wg.Done()
	job, sessions := q.snapshot(e)
	key := job.Key.String()

	if lim := q.limiter(job.Spec.ShopID); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			q.requeue(e, 0, false)
			return
		}
	}

	acquired, err := q.deps.Locker.AcquireLock(ctx, key, q.opts.LockTTL)
	if err != nil || !acquired {
		if err != nil {
			q.logger.Warn("Failed to acquire job lock", "key", key, "error", err)
		}
		q.requeue(e, lockRetryDelay, false)
		return
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := q.deps.Locker.ReleaseLock(releaseCtx, key); err != nil {
			q.logger.Warn("Failed to release job lock", "key", key, "error", err)
		}
	}()

	if q.isCancelled(e) {
		q.leave(e)
		return
	}

	event := telemetry.Event{
		ShopID:     job.Spec.ShopID,
		JobID:      job.ID,
		ResourceID: job.Spec.ResourceID,
		Language:   job.Spec.Language,
		Attrs:      map[string]any{"attempt": job.Attempts},
	}
	if len(sessions) > 0 {
		event.SessionID = sessions[0]
	}
	event.Name, event.At = telemetry.StepStart, q.now()
	q.deps.Telemetry.Emit(ctx, event)

	start := q.now()
	res, result, err := q.execute(ctx, job)
	duration := q.now().Sub(start)
	metrics.ExecutorLatency.WithLabelValues(string(job.Spec.ResourceType), outcomeLabel(err)).Observe(duration.Seconds())

	if q.isCancelled(e) {
		q.logger.Debug("Discarding result of cancelled job", "job", job.ID, "key", key)
		q.leave(e)
		return
	}
	if ctx.Err() != nil {
		// Shutting down: put the job back untouched.
		q.requeue(e, 0, false)
		return
	}

	if err == nil {
		var quality float64
		quality, err = q.writeSuccess(ctx, job, res, result)
		if err == nil {
			event.Name, event.At, event.Duration = telemetry.StepSuccess, q.now(), duration
			q.deps.Telemetry.Emit(ctx, event)
			q.complete(e, Result{
				State:        domain.JobStateCompleted,
				Partial:      result.Partial(),
				QualityScore: quality,
				Duration:     duration,
			})
			return
		}
	}

	d := failure.Classify(err)
	metrics.FailuresClassified.WithLabelValues(d.Kind.String()).Inc()
	event.Name, event.At, event.Duration, event.Err = telemetry.StepFail, q.now(), duration, err
	event.Attrs["kind"] = d.Kind.String()
	q.deps.Telemetry.Emit(ctx, event)

	if d.Kind.Transient() && q.backoff.ShouldRetry(err, job.Attempts) {
		delay := q.backoff.GetDelay(job.Attempts - 1)
		metrics.JobRetries.WithLabelValues(d.Kind.String()).Inc()
		q.logger.Info("Retrying job after transient failure",
			"job", job.ID, "key", key, "kind", d.Kind, "attempt", job.Attempts, "delay", delay)
		q.requeue(e, delay, true)
		return
	}

	if d.Kind != failure.KindNotFound {
		if werr := q.writeFailure(ctx, job, res, d); werr != nil {
			q.logger.Error("Failed to record translation failure", "key", key, "error", werr)
		}
	}
	q.logger.Warn("Job failed",
		"job", job.ID, "key", key, "code", d.Code, "attempts", job.Attempts, "error", err)

	finished := q.complete(e, Result{
		State:     domain.JobStateFailed,
		Err:       err,
		Diagnosis: d,
		Duration:  duration,
	})

	q.mu.Lock()
	handler := q.failureHandler
	q.mu.Unlock()
	if handler != nil && finished {
		job, sessions = q.snapshot(e)
		handler.HandleJobFailure(ctx, JobFailure{Job: job, SessionIDs: sessions, Err: err, Diagnosis: d})
	}
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// execute loads the resource and calls the executor. The resource is
// returned even when the call fails so failures can be pinned to its fingerprint.
func (q *Queue) execute(ctx context.Context, job domain.Job) (*domain.Resource, *domain.TranslateResult, error) {
	res, err := q.deps.Resources.Get(ctx, job.Spec.ResourceID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, failure.Wrap(failure.KindNotFound, err, fmt.Sprintf("resource %s not found", job.Spec.ResourceID))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load resource: %w", err)
	}

	if res.Status != domain.ResourceStatusProcessing {
		if err := q.deps.Resources.UpdateStatus(ctx, res.ID, domain.ResourceStatusProcessing); err != nil {
			q.logger.Debug("Failed to mark resource processing", "resource", res.ID, "error", err)
		}
	}

	result, err := q.deps.Executor.Translate(ctx, domain.TranslateRequest{
		ShopID:       res.ShopID,
		ResourceID:   res.ID,
		ResourceType: res.Type,
		Language:     job.Spec.Language,
		Fields:       res.Fields,
		Params:       job.Spec.Params,
	})
	if err != nil {
		return res, nil, err
	}
	return res, result, nil
}

// writeSuccess upserts the translation under the job lock. A low quality
// result counts against the retry cap; a good one resets it.
func (q *Queue) writeSuccess(
	ctx context.Context,
	job domain.Job,
	res *domain.Resource,
	result *domain.TranslateResult,
) (float64, error) {
	existing, err := q.deps.Translations.Get(ctx, res.ID, job.Spec.Language)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("load translation: %w", err)
	}

	quality := result.QualityScore
	if quality <= 0 {
		// Executors that do not score are trusted.
		quality = 1
	}
	status := domain.SyncStatusSynced
	if result.Partial() {
		status = domain.SyncStatusPartial
	}

	t := &domain.Translation{
		ShopID:            res.ShopID,
		ResourceID:        res.ID,
		Language:          job.Spec.Language,
		Fields:            result.Fields,
		SourceFingerprint: res.Fingerprint,
		SyncStatus:        status,
		QualityScore:      quality,
		LastAttemptAt:     q.now(),
	}
	if existing != nil {
		t.ID = existing.ID
		requeue := job.Spec.Force || job.Spec.Retry || existing.SourceFingerprint != res.Fingerprint
		if !domain.CanAdvanceSync(existing.SyncStatus, status, requeue) {
			q.logger.Debug("Keeping newer translation state",
				"key", job.Key.String(), "stored", existing.SyncStatus, "result", status)
			return existing.QualityScore, nil
		}
	}
	if quality < q.opts.QualityThreshold {
		t.RetryCount = 1
		if existing != nil {
			t.RetryCount = existing.RetryCount + 1
		}
	}

	if err := q.deps.Translations.Upsert(ctx, t); err != nil {
		return 0, fmt.Errorf("write translation: %w", err)
	}
	q.invalidate(job.Key)

	if !q.resourceBusy(res.ID, job.ID) {
		if err := q.deps.Resources.UpdateStatus(ctx, res.ID, domain.ResourceStatusCompleted); err != nil {
			q.logger.Debug("Failed to mark resource completed", "resource", res.ID, "error", err)
		}
	}
	return quality, nil
}

func (q *Queue) writeFailure(ctx context.Context, job domain.Job, res *domain.Resource, d failure.Diagnosis) error {
	existing, err := q.deps.Translations.Get(ctx, job.Spec.ResourceID, job.Spec.Language)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load translation: %w", err)
	}

	t := &domain.Translation{
		ShopID:     job.Spec.ShopID,
		ResourceID: job.Spec.ResourceID,
		Language:   job.Spec.Language,
	}
	if existing != nil {
		t = existing
	}
	if res != nil {
		t.ShopID = res.ShopID
		t.SourceFingerprint = res.Fingerprint
	}
	t.SyncStatus = domain.SyncStatusFailed
	t.RetryCount++
	t.LastError = failure.Record(d)
	t.LastAttemptAt = q.now()

	if err := q.deps.Translations.Upsert(ctx, t); err != nil {
		return fmt.Errorf("write translation: %w", err)
	}
	q.invalidate(job.Key)
	return nil
}

func (q *Queue) invalidate(key domain.WorkKey) {
	if q.deps.Cache != nil {
		q.deps.Cache.Invalidate(key.String())
	}
}

// resourceBusy reports whether another live job targets the resource.
func (q *Queue) resourceBusy(resourceID, exceptJobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for k, e := range q.byKey {
		if k.ResourceID == resourceID && e.job.ID != exceptJobID {
			return true
		}
	}
	return false
}

// leave releases the worker slot of a job that was cancelled while running.
func (q *Queue) leave(e *entry) {
	q.mu.Lock()
	q.releaseSlotLocked(e)
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) releaseSlotLocked(e *entry) {
	shop := e.job.Spec.ShopID
	q.active--
	q.activeByShop[shop]--
	metrics.ActiveJobs.WithLabelValues(shop).Set(float64(q.activeByShop[shop]))
}

// requeue puts an active job back in the heap after delay. Attempts that
// never reached the executor are not counted.
func (q *Queue) requeue(e *entry, delay time.Duration, countAttempt bool) {
	q.mu.Lock()
	q.releaseSlotLocked(e)
	if e.cancelled {
		q.mu.Unlock()
		q.signal()
		return
	}
	if !countAttempt {
		e.job.Attempts--
	}
	e.job.State = domain.JobStateQueued
	e.job.NotBefore = q.now().Add(delay)
	heap.Push(&q.pending, e)
	metrics.QueueDepth.Set(float64(q.pending.Len()))
	q.mu.Unlock()
	q.signal()
}

// complete records the terminal outcome of an active job and notifies
// listeners. It returns false when the job was cancelled meanwhile.
func (q *Queue) complete(e *entry, outcome Result) bool {
	q.mu.Lock()
	q.releaseSlotLocked(e)
	if e.cancelled {
		q.mu.Unlock()
		q.signal()
		return false
	}
	e.job.State = outcome.State
	e.job.FinishedAt = q.now()
	if outcome.Err != nil {
		e.job.LastError = outcome.Err.Error()
	}
	if q.byKey[e.job.Key] == e {
		delete(q.byKey, e.job.Key)
	}
	if outcome.Duration > 0 {
		if q.avgDuration == 0 {
			q.avgDuration = outcome.Duration
		} else {
			q.avgDuration = (q.avgDuration*4 + outcome.Duration) / 5
		}
	}
	res := q.resultOf(e)
	res.Partial = outcome.Partial
	res.QualityScore = outcome.QualityScore
	res.Err = outcome.Err
	res.Diagnosis = outcome.Diagnosis
	res.Duration = outcome.Duration
	waiters := e.waiters
	e.waiters = nil
	q.mu.Unlock()

	metrics.JobsFinished.WithLabelValues(res.ShopID, string(res.State)).Inc()
	q.notify(res, waiters)
	q.signal()
	return true
}
