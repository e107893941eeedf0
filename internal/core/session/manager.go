package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/transync/internal/core/domain"
	"github.com/vietddude/transync/internal/infra/storage"
	"github.com/vietddude/transync/internal/orchestration/metrics"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionTerminal is returned when a finished session is asked to change.
	ErrSessionTerminal = errors.New("session is terminal")

	// ErrSessionActive is returned when archiving a session that has not finished.
	ErrSessionActive = errors.New("session is still active")

	// ErrEmptySession is returned when a session would cover no work.
	ErrEmptySession = errors.New("session needs at least one resource and language")
)

// Trace kinds recorded on sessions.
const (
	TraceTransition = "transition"
	TraceDecision   = "decision"
	TraceResume     = "resume"
)

// Planner partitions (resource, language) pairs into pending and done work.
type Planner interface {
	Plan(ctx context.Context, resources []*domain.Resource, languages []string, sessionID string) (domain.WorkPlan, error)
}

// Enqueuer hands work to the queue and withdraws work not yet started.
type Enqueuer interface {
	EnqueueBatch(ctx context.Context, specs []domain.JobSpec) ([]string, error)
	CancelSession(sessionID string) int
}

// Config bounds session behavior.
type Config struct {
	StaleAfter   time.Duration
	MaxResumeAge time.Duration
	MaxErrorRate float64
	MinSamples   int
}

func (c *Config) applyDefaults() {
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	if c.MaxResumeAge <= 0 {
		c.MaxResumeAge = 24 * time.Hour
	}
	if c.MaxErrorRate <= 0 {
		c.MaxErrorRate = 0.5
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 10
	}
}

// Partition is the completed and pending split of a session's work.
type Partition struct {
	Done    []domain.WorkKey
	Pending []domain.WorkKey
	// Retry is the subset of Pending that retries a failed row.
	Retry []domain.WorkKey
	// Missing lists resources of the session that no longer exist.
	Missing []string
}

// ResumeResult explains the outcome of a resume request.
type ResumeResult struct {
	Resumed  bool
	Reason   string
	Enqueued int
	Done     int
	JobIDs   []string
}

// Manager drives translation sessions through their state machine.
type Manager struct {
	sessions  storage.SessionRepository
	resources storage.ResourceRepository
	planner   Planner
	queue     Enqueuer
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	// transitions are serialized so concurrent checkpoints cannot both
	// complete or fail the same session.
	transitionMu sync.Mutex

	mu            sync.RWMutex
	stateCallback func(string, Transition)
	collectors    map[string]*MetricsCollector
}

// NewManager creates a session manager.
func NewManager(
	sessions storage.SessionRepository,
	resources storage.ResourceRepository,
	planner Planner,
	queue Enqueuer,
	cfg Config,
) *Manager {
	cfg.applyDefaults()
	return &Manager{
		sessions:   sessions,
		resources:  resources,
		planner:    planner,
		queue:      queue,
		cfg:        cfg,
		logger:     slog.Default().With("component", "session"),
		now:        time.Now,
		collectors: make(map[string]*MetricsCollector),
	}
}

// SetStateChangeCallback registers a callback for state changes.
func (m *Manager) SetStateChangeCallback(fn func(sessionID string, t Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateCallback = fn
}

// Get retrieves a session.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Session, error) {
	s, err := m.sessions.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// List returns the non-archived sessions of a shop.
func (m *Manager) List(ctx context.Context, shopID string) ([]*domain.Session, error) {
	return m.sessions.ListByShop(ctx, shopID)
}

// GetMetrics returns throughput and recent transitions of a session.
func (m *Manager) GetMetrics(ctx context.Context, id string) (Metrics, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return Metrics{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.collectors[id]; ok {
		return c.GetMetrics(s.Remaining()), nil
	}
	return Metrics{}, nil
}

// Start creates a RUNNING session over resources x languages, counts the
// pairs that need no work as skipped and enqueues the rest.
func (m *Manager) Start(
	ctx context.Context,
	shopID string,
	resourceIDs []string,
	languages []string,
) (string, error) {
	if len(resourceIDs) == 0 || len(languages) == 0 {
		return "", ErrEmptySession
	}

	resources, err := m.resources.GetMany(ctx, resourceIDs)
	if err != nil {
		return "", fmt.Errorf("failed to load resources: %w", err)
	}

	now := m.now()
	s := &domain.Session{
		ID:               uuid.New().String(),
		ShopID:           shopID,
		Status:           domain.SessionStatusRunning,
		ResourceIDs:      resourceIDs,
		Languages:        languages,
		Total:            len(resources) * len(languages),
		LastCheckpointAt: now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if missing := len(resourceIDs) - len(resources); missing > 0 {
		s.Traces = append(s.Traces, domain.Trace{
			At:      now,
			Kind:    TraceDecision,
			Message: fmt.Sprintf("%d of %d resources not found, excluded from total", missing, len(resourceIDs)),
		})
	}
	if err := m.sessions.Create(ctx, s); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	m.mu.Lock()
	m.collectors[s.ID] = NewMetricsCollector(50)
	m.mu.Unlock()

	plan, err := m.planner.Plan(ctx, resources, languages, s.ID)
	if err != nil {
		return s.ID, fmt.Errorf("failed to plan session work: %w", err)
	}

	ids, err := m.enqueue(ctx, s, resources, plan.Pending, plan.Retry)
	if err != nil {
		return s.ID, err
	}
	m.trace(ctx, s.ID, TraceDecision,
		fmt.Sprintf("started: %d enqueued, %d skipped", len(ids), len(plan.Done)))

	m.logger.Info("Session started",
		"session", s.ID,
		"shop", shopID,
		"total", s.Total,
		"enqueued", len(ids),
		"skipped", len(plan.Done),
	)

	if _, err := m.Checkpoint(ctx, s.ID, domain.ProgressDelta{Skipped: len(plan.Done)}); err != nil {
		return s.ID, err
	}
	return s.ID, nil
}

func (m *Manager) enqueue(
	ctx context.Context,
	s *domain.Session,
	resources []*domain.Resource,
	keys []domain.WorkKey,
	retry []domain.WorkKey,
) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	byID := make(map[string]*domain.Resource, len(resources))
	for _, r := range resources {
		byID[r.ID] = r
	}
	retrying := make(map[domain.WorkKey]bool, len(retry))
	for _, k := range retry {
		retrying[k] = true
	}

	specs := make([]domain.JobSpec, 0, len(keys))
	for _, k := range keys {
		r, ok := byID[k.ResourceID]
		if !ok {
			continue
		}
		specs = append(specs, domain.JobSpec{
			ShopID:        s.ShopID,
			ResourceID:    r.ID,
			ResourceType:  r.Type,
			Language:      k.Language,
			Urgency:       domain.UrgencyBackground,
			ContentLength: r.ContentLength(),
			SessionID:     s.ID,
			Retry:         retrying[k],
		})
	}
	ids, err := m.queue.EnqueueBatch(ctx, specs)
	if err != nil {
		return ids, fmt.Errorf("failed to enqueue session work: %w", err)
	}
	return ids, nil
}

// Checkpoint adds delta to the session counters. A RUNNING session completes
// once every item is terminal, or fails once the error rate passes the
// ceiling after enough samples.
func (m *Manager) Checkpoint(ctx context.Context, id string, delta domain.ProgressDelta) (*domain.Session, error) {
	if delta.Completed < 0 || delta.Errored < 0 || delta.Skipped < 0 || delta.Reopened < 0 {
		return nil, storage.ErrNegativeProgress
	}

	s, err := m.sessions.ApplyCheckpoint(ctx, id, delta, m.now())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply checkpoint: %w", err)
	}

	m.mu.Lock()
	if c, ok := m.collectors[id]; ok {
		c.RecordCheckpoint(s.Processed(), s.LastCheckpointAt)
	}
	m.mu.Unlock()

	if s.Status != domain.SessionStatusRunning {
		return s, nil
	}

	switch {
	case s.Processed() >= s.Total:
		err = m.setState(ctx, id, domain.SessionStatusCompleted,
			fmt.Sprintf("all %d items terminal", s.Total))
	case s.Processed() >= m.cfg.MinSamples && s.ErrorRate() > m.cfg.MaxErrorRate:
		err = m.setState(ctx, id, domain.SessionStatusFailed,
			fmt.Sprintf("error rate %.2f exceeds %.2f", s.ErrorRate(), m.cfg.MaxErrorRate))
		if err == nil {
			m.queue.CancelSession(id)
		}
	default:
		return s, nil
	}
	if err != nil && !errors.Is(err, ErrInvalidTransition) {
		return s, err
	}
	return m.Get(ctx, id)
}

// RecordOutcome checkpoints a terminal job result against every session
// that asked for it. Cancelled jobs are not counted.
func (m *Manager) RecordOutcome(ctx context.Context, sessionIDs []string, state domain.JobState) {
	var delta domain.ProgressDelta
	switch state {
	case domain.JobStateCompleted:
		delta.Completed = 1
	case domain.JobStateFailed:
		delta.Errored = 1
	default:
		return
	}
	for _, id := range sessionIDs {
		if _, err := m.Checkpoint(ctx, id, delta); err != nil {
			m.logger.Warn("Failed to checkpoint session", "session", id, "error", err)
		}
	}
}

// Pause stops enqueues for a running session. Jobs not yet started are
// withdrawn; dispatched jobs drain.
func (m *Manager) Pause(ctx context.Context, id string, reason string) error {
	if err := m.setState(ctx, id, domain.SessionStatusPaused, reason); err != nil {
		return err
	}
	n := m.queue.CancelSession(id)
	m.logger.Info("Session paused", "session", id, "reason", reason, "withdrawn", n)
	return nil
}

// Cancel fails the session on operator request.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	if err := m.setState(ctx, id, domain.SessionStatusFailed, "cancelled by operator"); err != nil {
		return err
	}
	n := m.queue.CancelSession(id)
	m.logger.Info("Session cancelled", "session", id, "withdrawn", n)
	return nil
}

// Resume re-validates a paused session and re-enqueues only the work that
// storage says is still pending. Refusals are reported in the result.
func (m *Manager) Resume(ctx context.Context, id string) (ResumeResult, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return ResumeResult{}, err
	}

	if s.Status != domain.SessionStatusPaused {
		return m.refuse(ctx, id, fmt.Sprintf("session is %s, not PAUSED", s.Status)), nil
	}
	if age := m.now().Sub(s.CreatedAt); age > m.cfg.MaxResumeAge {
		return m.refuse(ctx, id, fmt.Sprintf("session age %s exceeds %s", age.Round(time.Second), m.cfg.MaxResumeAge)), nil
	}
	if s.Processed() >= m.cfg.MinSamples && s.ErrorRate() > m.cfg.MaxErrorRate {
		return m.refuse(ctx, id, fmt.Sprintf("error rate %.2f exceeds %.2f", s.ErrorRate(), m.cfg.MaxErrorRate)), nil
	}

	resources, err := m.resources.GetMany(ctx, s.ResourceIDs)
	if err != nil {
		return ResumeResult{}, fmt.Errorf("failed to load resources: %w", err)
	}
	part, err := m.partition(ctx, s, resources)
	if err != nil {
		return ResumeResult{}, err
	}
	if len(part.Pending) == 0 {
		return m.refuse(ctx, id, "no remaining work"), nil
	}

	if err := m.setState(ctx, id, domain.SessionStatusRunning, "resumed"); err != nil {
		return ResumeResult{}, err
	}

	// Failed rows going back into the queue are outstanding again, so they
	// leave the errored count. Beyond that, counters may lag storage after a
	// crash and only move forward.
	delta := domain.ProgressDelta{Reopened: min(len(part.Retry), s.Errored)}
	if gap := len(part.Done) - (s.Processed() - delta.Reopened); gap > 0 {
		delta.Completed = gap
	}
	if _, err := m.sessions.ApplyCheckpoint(ctx, id, delta, m.now()); err != nil {
		return ResumeResult{}, fmt.Errorf("failed to reconcile progress: %w", err)
	}

	ids, err := m.enqueue(ctx, s, resources, part.Pending, part.Retry)
	if err != nil {
		return ResumeResult{}, err
	}

	m.trace(ctx, id, TraceResume,
		fmt.Sprintf("resumed: %d pending re-enqueued, %d already done", len(ids), len(part.Done)))
	m.logger.Info("Session resumed", "session", id, "enqueued", len(ids), "done", len(part.Done))

	return ResumeResult{
		Resumed:  true,
		Enqueued: len(ids),
		Done:     len(part.Done),
		JobIDs:   ids,
	}, nil
}

func (m *Manager) refuse(ctx context.Context, id, reason string) ResumeResult {
	m.trace(ctx, id, TraceResume, "resume refused: "+reason)
	m.logger.Info("Session resume refused", "session", id, "reason", reason)
	return ResumeResult{Resumed: false, Reason: reason}
}

// Partition derives the completed and pending work of a session from
// storage, ignoring its counters.
func (m *Manager) Partition(ctx context.Context, id string) (Partition, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return Partition{}, err
	}
	resources, err := m.resources.GetMany(ctx, s.ResourceIDs)
	if err != nil {
		return Partition{}, fmt.Errorf("failed to load resources: %w", err)
	}
	return m.partition(ctx, s, resources)
}

func (m *Manager) partition(ctx context.Context, s *domain.Session, resources []*domain.Resource) (Partition, error) {
	plan, err := m.planner.Plan(ctx, resources, s.Languages, s.ID)
	if err != nil {
		return Partition{}, fmt.Errorf("failed to plan session work: %w", err)
	}

	found := make(map[string]bool, len(resources))
	for _, r := range resources {
		found[r.ID] = true
	}
	var missing []string
	for _, id := range s.ResourceIDs {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return Partition{Done: plan.Done, Pending: plan.Pending, Retry: plan.Retry, Missing: missing}, nil
}

// DetectStalled pauses RUNNING sessions whose last checkpoint is older than
// the staleness window and returns their IDs.
func (m *Manager) DetectStalled(ctx context.Context) ([]string, error) {
	running, err := m.sessions.ListByStatus(ctx, domain.SessionStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to list running sessions: %w", err)
	}

	now := m.now()
	var stalled []string
	for _, s := range running {
		idle := now.Sub(s.LastCheckpointAt)
		if idle <= m.cfg.StaleAfter {
			continue
		}
		reason := fmt.Sprintf("stalled: no checkpoint for %s", idle.Round(time.Second))
		if err := m.Pause(ctx, s.ID, reason); err != nil {
			m.logger.Warn("Failed to pause stalled session", "session", s.ID, "error", err)
			continue
		}
		stalled = append(stalled, s.ID)
	}
	return stalled, nil
}

// Archive hides a terminal session from listings. Sessions are never deleted.
func (m *Manager) Archive(ctx context.Context, id string) error {
	s, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if !s.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrSessionActive, id, s.Status)
	}
	if err := m.sessions.Archive(ctx, id); err != nil {
		return fmt.Errorf("failed to archive session: %w", err)
	}

	m.mu.Lock()
	delete(m.collectors, id)
	m.mu.Unlock()
	return nil
}

// AddTrace records an audit note on the session.
func (m *Manager) AddTrace(ctx context.Context, id, kind, message string) error {
	return m.sessions.AppendTrace(ctx, id, domain.Trace{At: m.now(), Kind: kind, Message: message})
}

func (m *Manager) trace(ctx context.Context, id, kind, message string) {
	if err := m.AddTrace(ctx, id, kind, message); err != nil {
		m.logger.Warn("Failed to append session trace", "session", id, "error", err)
	}
}

// setState transitions a session, validating against the state table.
func (m *Manager) setState(ctx context.Context, id string, to State, reason string) error {
	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()

	s, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.IsTerminal() {
		return fmt.Errorf("%w: %w: %s is %s", ErrSessionTerminal, ErrInvalidTransition, id, s.Status)
	}
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, s.Status, to)
	}

	t := NewTransition(s.Status, to, reason, m.now())
	trace := domain.Trace{
		At:      t.Timestamp,
		Kind:    TraceTransition,
		Message: fmt.Sprintf("%s -> %s: %s", t.From, t.To, reason),
	}
	if err := m.sessions.UpdateStatus(ctx, id, to, trace); err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}
	metrics.SessionTransitions.WithLabelValues(string(t.From), string(t.To)).Inc()

	m.mu.Lock()
	if c, ok := m.collectors[id]; ok {
		c.RecordTransition(t)
	}
	cb := m.stateCallback
	m.mu.Unlock()

	if cb != nil {
		cb(id, t)
	}
	return nil
}
