package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vietddude/transync/internal/core/domain"
	"github.com/vietddude/transync/internal/core/failure"
	"github.com/vietddude/transync/internal/infra/storage"
	"github.com/vietddude/transync/internal/orchestration/metrics"
	"github.com/vietddude/transync/internal/orchestration/telemetry"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobTerminal = errors.New("job already finished")
	ErrInvalidSpec = errors.New("invalid job spec")
)

// Executor performs the actual translation call.
type Executor interface {
	Translate(ctx context.Context, req domain.TranslateRequest) (*domain.TranslateResult, error)
}

// Locker guards a (resource, language) pair while a worker translates and writes it.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// Invalidator drops cached translation rows after a write.
type Invalidator interface {
	Invalidate(key string)
}

// JobFailure is handed to the FailureHandler once a job fails terminally.
type JobFailure struct {
	Job        domain.Job
	SessionIDs []string
	Err        error
	Diagnosis  failure.Diagnosis
}

// FailureHandler is notified of terminal job failures.
type FailureHandler interface {
	HandleJobFailure(ctx context.Context, f JobFailure)
}

// Result is reported once per job when it reaches a terminal state.
type Result struct {
	JobID        string
	Key          domain.WorkKey
	ShopID       string
	SessionIDs   []string
	State        domain.JobState
	Attempts     int
	Partial      bool
	QualityScore float64
	Err          error
	Diagnosis    failure.Diagnosis
	Duration     time.Duration
}

// Options configures the queue.
type Options struct {
	Workers          int
	BatchSize        int
	ShopConcurrency  int
	InlineThreshold  int
	InlineTimeout    time.Duration
	MaxAttempts      int
	LockTTL          time.Duration
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	ShopRateLimit    float64
	QualityThreshold float64
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 20
	}
	if o.ShopConcurrency <= 0 {
		o.ShopConcurrency = 3
	}
	if o.InlineThreshold <= 0 {
		o.InlineThreshold = 10
	}
	if o.InlineTimeout <= 0 {
		o.InlineTimeout = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 2 * time.Minute
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 2 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = time.Minute
	}
	if o.QualityThreshold <= 0 {
		o.QualityThreshold = 0.7
	}
}

// Deps are the collaborators the queue dispatches to.
type Deps struct {
	Executor     Executor
	Resources    storage.ResourceRepository
	Translations storage.TranslationRepository
	Locker       Locker
	Cache        Invalidator
	Telemetry    telemetry.Emitter
}

type entry struct {
	job       domain.Job
	sessions  []string
	seq       uint64
	index     int
	cancelled bool
	waiters   []chan Result
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Queued       int
	Active       int
	ActiveByShop map[string]int
	Tracked      int
}

// Queue is an in-process priority work queue keyed by (resource, language).
type Queue struct {
	opts    Options
	deps    Deps
	backoff *failure.ExponentialBackoff
	logger  *slog.Logger

	mu             sync.Mutex
	entries        map[string]*entry
	byKey          map[domain.WorkKey]*entry
	pending        jobHeap
	active         int
	activeByShop   map[string]int
	seq            uint64
	limiters       map[string]*rate.Limiter
	listeners      []func(Result)
	failureHandler FailureHandler
	avgDuration    time.Duration

	wake chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time
}

// New creates a queue. Call Start to begin dispatching.
func New(opts Options, deps Deps) *Queue {
	opts.applyDefaults()
	if deps.Locker == nil {
		deps.Locker = NewMemoryLocker()
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.Nop{}
	}
	return &Queue{
		opts: opts,
		deps: deps,
		backoff: &failure.ExponentialBackoff{
			InitialDelay: opts.InitialBackoff,
			MaxDelay:     opts.MaxBackoff,
			MaxAttempts:  opts.MaxAttempts,
		},
		logger:       slog.Default().With("component", "queue"),
		entries:      make(map[string]*entry),
		byKey:        make(map[domain.WorkKey]*entry),
		activeByShop: make(map[string]int),
		limiters:     make(map[string]*rate.Limiter),
		wake:         make(chan struct{}, 1),
		now:          time.Now,
	}
}

// SetFailureHandler registers the handler for terminal failures.
func (q *Queue) SetFailureHandler(h FailureHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failureHandler = h
}

// OnResult registers a listener called for every terminal job result.
func (q *Queue) OnResult(fn func(Result)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, fn)
}

// Enqueue adds a job. A pending or active job with the same key absorbs the
// request and its ID is returned instead.
func (q *Queue) Enqueue(ctx context.Context, spec domain.JobSpec) (string, error) {
	return q.enqueue(spec, nil)
}

// EnqueueBatch validates all specs before enqueueing any of them.
func (q *Queue) EnqueueBatch(ctx context.Context, specs []domain.JobSpec) ([]string, error) {
	for i, spec := range specs {
		if err := validate(spec); err != nil {
			return nil, fmt.Errorf("spec %d: %w", i, err)
		}
	}
	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		id, err := q.enqueue(spec, nil)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func validate(spec domain.JobSpec) error {
	if spec.ResourceID == "" || spec.Language == "" {
		return fmt.Errorf("%w: resource and language are required", ErrInvalidSpec)
	}
	return nil
}

func (q *Queue) enqueue(spec domain.JobSpec, waiter chan Result) (string, error) {
	if err := validate(spec); err != nil {
		return "", err
	}
	key := spec.Key()

	q.mu.Lock()
	if e, ok := q.byKey[key]; ok {
		if spec.SessionID != "" && !slices.Contains(e.sessions, spec.SessionID) {
			e.sessions = append(e.sessions, spec.SessionID)
		}
		if spec.Force {
			e.job.Spec.Force = true
		}
		if spec.Retry {
			e.job.Spec.Retry = true
		}
		if p := priorityOf(spec); p > e.job.Priority && e.index >= 0 {
			e.job.Priority = p
			heap.Fix(&q.pending, e.index)
		}
		if waiter != nil {
			e.waiters = append(e.waiters, waiter)
		}
		id := e.job.ID
		q.mu.Unlock()

		metrics.JobsCoalesced.WithLabelValues(spec.ShopID).Inc()
		q.logger.Debug("Coalesced duplicate job", "job", id, "key", key.String())
		return id, nil
	}

	now := q.now()
	q.seq++
	e := &entry{
		job: domain.Job{
			ID:         uuid.New().String(),
			Key:        key,
			Spec:       spec,
			State:      domain.JobStateQueued,
			Priority:   priorityOf(spec),
			EnqueuedAt: now,
			NotBefore:  now.Add(spec.Delay),
		},
		seq:   q.seq,
		index: -1,
	}
	if spec.SessionID != "" {
		e.sessions = []string{spec.SessionID}
	}
	if waiter != nil {
		e.waiters = []chan Result{waiter}
	}
	heap.Push(&q.pending, e)
	q.entries[e.job.ID] = e
	q.byKey[key] = e
	metrics.QueueDepth.Set(float64(q.pending.Len()))
	q.mu.Unlock()

	metrics.JobsEnqueued.WithLabelValues(spec.ShopID, string(spec.ResourceType)).Inc()
	q.signal()
	return e.job.ID, nil
}

// Status returns a snapshot of the job.
func (q *Queue) Status(jobID string) (domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[jobID]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return e.job, nil
}

// Cancel marks the job terminal. A job already running keeps its external
// call but the outcome is discarded.
func (q *Queue) Cancel(jobID string) error {
	q.mu.Lock()
	e, ok := q.entries[jobID]
	if !ok {
		q.mu.Unlock()
		return ErrJobNotFound
	}
	if e.job.State.IsTerminal() {
		q.mu.Unlock()
		return ErrJobTerminal
	}
	res, waiters := q.cancelLocked(e)
	q.mu.Unlock()

	q.notify(res, waiters)
	return nil
}

// CancelSession removes the session from every job that has not started yet
// and cancels the jobs no other session still wants.
func (q *Queue) CancelSession(sessionID string) int {
	type cancelled struct {
		res     Result
		waiters []chan Result
	}
	var out []cancelled

	q.mu.Lock()
	for _, e := range q.entries {
		if e.index < 0 || !slices.Contains(e.sessions, sessionID) {
			continue
		}
		e.sessions = slices.DeleteFunc(e.sessions, func(s string) bool { return s == sessionID })
		if len(e.sessions) > 0 {
			continue
		}
		res, waiters := q.cancelLocked(e)
		res.SessionIDs = []string{sessionID}
		out = append(out, cancelled{res, waiters})
	}
	q.mu.Unlock()

	for _, c := range out {
		q.notify(c.res, c.waiters)
	}
	return len(out)
}

func (q *Queue) cancelLocked(e *entry) (Result, []chan Result) {
	e.cancelled = true
	e.job.State = domain.JobStateCancelled
	e.job.FinishedAt = q.now()
	if q.byKey[e.job.Key] == e {
		delete(q.byKey, e.job.Key)
	}
	if e.index >= 0 {
		heap.Remove(&q.pending, e.index)
		metrics.QueueDepth.Set(float64(q.pending.Len()))
	}
	waiters := e.waiters
	e.waiters = nil
	metrics.JobsFinished.WithLabelValues(e.job.Spec.ShopID, string(domain.JobStateCancelled)).Inc()
	return q.resultOf(e), waiters
}

func (q *Queue) resultOf(e *entry) Result {
	return Result{
		JobID:      e.job.ID,
		Key:        e.job.Key,
		ShopID:     e.job.Spec.ShopID,
		SessionIDs: append([]string(nil), e.sessions...),
		State:      e.job.State,
		Attempts:   e.job.Attempts,
	}
}

func (q *Queue) notify(res Result, waiters []chan Result) {
	q.mu.Lock()
	listeners := slices.Clone(q.listeners)
	q.mu.Unlock()

	for _, fn := range listeners {
		fn(res)
	}
	for _, w := range waiters {
		select {
		case w <- res:
		default:
		}
	}
}

// Stats returns queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	byShop := make(map[string]int, len(q.activeByShop))
	for k, v := range q.activeByShop {
		if v > 0 {
			byShop[k] = v
		}
	}
	return Stats{
		Queued:       q.pending.Len(),
		Active:       q.active,
		ActiveByShop: byShop,
		Tracked:      len(q.entries),
	}
}

// Prune forgets terminal jobs that finished before the cutoff.
func (q *Queue) Prune(olderThan time.Duration) int {
	cutoff := q.now().Add(-olderThan)
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for id, e := range q.entries {
		if e.job.State.IsTerminal() && e.job.FinishedAt.Before(cutoff) {
			delete(q.entries, id)
			n++
		}
	}
	return n
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Depth returns the number of queued and active jobs.
func (q *Queue) Depth() (queued, active int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len(), q.active
}
