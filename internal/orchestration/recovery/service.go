package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/transync/internal/core/domain"
	"github.com/vietddude/transync/internal/core/failure"
	"github.com/vietddude/transync/internal/infra/storage"
	"github.com/vietddude/transync/internal/orchestration/metrics"
	"github.com/vietddude/transync/internal/orchestration/queue"
)

// Requeuer feeds repaired work back into the queue.
type Requeuer interface {
	Enqueue(ctx context.Context, spec domain.JobSpec) (string, error)
}

// AttemptCounter counts recovery attempts per scope in a rolling window.
type AttemptCounter interface {
	Record(ctx context.Context, scope string, at time.Time) error
	Count(ctx context.Context, scope string, since time.Time) (int, error)
}

// StallDetector demotes sessions that stopped checkpointing.
type StallDetector interface {
	DetectStalled(ctx context.Context) ([]string, error)
}

// Config tunes recovery.
type Config struct {
	MaxAttempts    int
	Window         time.Duration
	ErrorRetention time.Duration
	StaleAfter     time.Duration

	LinearStep     time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Window <= 0 {
		c.Window = time.Hour
	}
	if c.ErrorRetention <= 0 {
		c.ErrorRetention = 30 * 24 * time.Hour
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	if c.LinearStep <= 0 {
		c.LinearStep = 30 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 30 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Minute
	}
}

// RecoveryContext says where a failure happened.
type RecoveryContext struct {
	ShopID        string
	ResourceID    string
	ResourceType  domain.ResourceType
	Language      string
	SessionID     string
	ContentLength int
}

// ScopeKey is the unit attempts are capped on.
func ScopeKey(shopID, fingerprint, resourceID, language string) string {
	return strings.Join([]string{shopID, fingerprint, resourceID, language}, "|")
}

// Outcome reports what recovery did for one failure.
type Outcome struct {
	Success   bool
	Code      string
	Action    Action
	Diagnosis failure.Diagnosis
	ErrorID   string
	JobID     string
	// Attempt is the 1-based attempt number within the window.
	Attempt int
}

// Service diagnoses failures and applies repair strategies.
type Service struct {
	store    storage.Store
	requeuer Requeuer
	attempts AttemptCounter
	stalls   StallDetector
	planner  planner
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a recovery service. attempts may be nil for an
// in-memory counter; stalls may be nil to skip session demotion.
func NewService(
	store storage.Store,
	requeuer Requeuer,
	attempts AttemptCounter,
	stalls StallDetector,
	cfg Config,
) *Service {
	cfg.applyDefaults()
	if attempts == nil {
		attempts = NewMemoryAttemptCounter(cfg.Window)
	}
	return &Service{
		store:    store,
		requeuer: requeuer,
		attempts: attempts,
		stalls:   stalls,
		planner: planner{
			linear: &failure.LinearBackoff{
				Step:        cfg.LinearStep,
				MaxDelay:    cfg.MaxBackoff,
				MaxAttempts: cfg.MaxAttempts,
			},
			exponential: &failure.ExponentialBackoff{
				InitialDelay: cfg.InitialBackoff,
				MaxDelay:     cfg.MaxBackoff,
				MaxAttempts:  cfg.MaxAttempts,
			},
		},
		cfg:    cfg,
		logger: slog.Default().With("component", "recovery"),
		now:    time.Now,
	}
}

// DiagnoseAndRecover classifies err, records it and, unless the scope has
// used up its attempts in the window, applies the matching strategy.
func (s *Service) DiagnoseAndRecover(ctx context.Context, err error, rc RecoveryContext) (Outcome, error) {
	if err == nil {
		return Outcome{}, errors.New("nothing to recover: nil error")
	}
	now := s.now()
	d := failure.Classify(err)
	fp := failure.Fingerprint(d.Code, err.Error())
	metrics.FailuresClassified.WithLabelValues(d.Kind.String()).Inc()

	entry, rerr := s.store.Errors.RecordOccurrence(ctx, &domain.ErrorLog{
		ID:          uuid.New().String(),
		ShopID:      rc.ShopID,
		Fingerprint: fp,
		Category:    d.Kind.Category(),
		Code:        d.Code,
		Message:     err.Error(),
		ResourceID:  rc.ResourceID,
		Language:    rc.Language,
		SessionID:   rc.SessionID,
		FirstSeenAt: now,
		LastSeenAt:  now,
	})
	if rerr != nil {
		return Outcome{Diagnosis: d}, fmt.Errorf("failed to record error: %w", rerr)
	}

	scope := ScopeKey(rc.ShopID, fp, rc.ResourceID, rc.Language)
	used, cerr := s.attempts.Count(ctx, scope, now.Add(-s.cfg.Window))
	if cerr != nil {
		return Outcome{Diagnosis: d, ErrorID: entry.ID}, fmt.Errorf("failed to count attempts: %w", cerr)
	}
	if used >= s.cfg.MaxAttempts {
		metrics.RecoveryAttempts.WithLabelValues("none", "exceeded").Inc()
		s.logger.Warn("Recovery attempts exhausted, manual intervention required",
			"scope", scope, "code", d.Code, "attempts", used)
		return Outcome{
			Success:   false,
			Code:      failure.CodeExceededRetryLimit,
			Diagnosis: d,
			ErrorID:   entry.ID,
			Attempt:   used,
		}, nil
	}

	action := s.planner.plan(StrategyFor(d.Kind), used, d)
	out := Outcome{
		Code:      d.Code,
		Action:    action,
		Diagnosis: d,
		ErrorID:   entry.ID,
		Attempt:   used + 1,
	}

	var applyErr error
	detail := "skipped: " + d.Message
	if action.Requeue {
		out.JobID, applyErr = s.requeuer.Enqueue(ctx, domain.JobSpec{
			ShopID:        rc.ShopID,
			ResourceID:    rc.ResourceID,
			ResourceType:  rc.ResourceType,
			Language:      rc.Language,
			ContentLength: rc.ContentLength,
			Force:         true,
			Recovery:      true,
			Delay:         action.Delay,
			Params:        action.Params,
		})
		detail = fmt.Sprintf("requeued as %s after %s", out.JobID, action.Delay)
		if applyErr != nil {
			detail = "requeue failed: " + applyErr.Error()
		}
	}
	out.Success = applyErr == nil

	if err := s.attempts.Record(ctx, scope, now); err != nil {
		s.logger.Warn("Failed to record attempt window", "scope", scope, "error", err)
	}
	if err := s.store.Errors.AddAttempt(ctx, &domain.RecoveryAttempt{
		ID:          uuid.New().String(),
		ErrorID:     entry.ID,
		ScopeKey:    scope,
		Fingerprint: fp,
		Strategy:    string(action.Strategy),
		Success:     out.Success,
		Detail:      detail,
		AttemptedAt: now,
	}); err != nil {
		s.logger.Warn("Failed to record recovery attempt", "scope", scope, "error", err)
	}

	metrics.RecoveryAttempts.WithLabelValues(string(action.Strategy), outcomeLabel(out.Success)).Inc()
	s.logger.Info("Recovery applied",
		"strategy", action.Strategy,
		"code", d.Code,
		"resource", rc.ResourceID,
		"language", rc.Language,
		"attempt", out.Attempt,
		"success", out.Success,
	)
	if applyErr != nil {
		return out, fmt.Errorf("failed to apply %s: %w", action.Strategy, applyErr)
	}
	return out, nil
}

func outcomeLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// HandleJobFailure runs recovery for a job the queue gave up on.
func (s *Service) HandleJobFailure(ctx context.Context, f queue.JobFailure) {
	rc := RecoveryContext{
		ShopID:        f.Job.Spec.ShopID,
		ResourceID:    f.Job.Spec.ResourceID,
		ResourceType:  f.Job.Spec.ResourceType,
		Language:      f.Job.Spec.Language,
		ContentLength: f.Job.Spec.ContentLength,
	}
	if len(f.SessionIDs) > 0 {
		rc.SessionID = f.SessionIDs[0]
	}
	if _, err := s.DiagnoseAndRecover(ctx, f.Err, rc); err != nil {
		s.logger.Error("Recovery failed", "job", f.Job.ID, "error", err)
	}
}

// BatchRecoverOptions bound a batch recovery pass.
type BatchRecoverOptions struct {
	Limit       int
	Concurrency int
	// DryRun diagnoses without recording or requeueing anything.
	DryRun bool
}

// BatchSummary aggregates a batch recovery pass.
type BatchSummary struct {
	Scanned    int
	Recovered  int
	Skipped    int
	Exceeded   int
	Failed     int
	ByStrategy map[Strategy]int
	Errors     map[domain.WorkKey]string
}

// BatchRecoverFailedTranslations runs recovery over a shop's failed
// translations. Each item is isolated; one failure never stops the pass.
func (s *Service) BatchRecoverFailedTranslations(
	ctx context.Context,
	shopID string,
	opts BatchRecoverOptions,
) (BatchSummary, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	failed, err := s.store.Translations.ListFailed(ctx, shopID, opts.Limit)
	if err != nil {
		return BatchSummary{}, fmt.Errorf("failed to list failed translations: %w", err)
	}

	summary := BatchSummary{
		Scanned:    len(failed),
		ByStrategy: make(map[Strategy]int),
		Errors:     make(map[domain.WorkKey]string),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, t := range failed {
		g.Go(func() error {
			out, err := s.recoverTranslation(gctx, t, opts.DryRun)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.Failed++
				summary.Errors[t.Key()] = err.Error()
			case out.Code == failure.CodeExceededRetryLimit:
				summary.Exceeded++
			case out.Action.Strategy == StrategyTerminalSkip:
				summary.Skipped++
				summary.ByStrategy[out.Action.Strategy]++
			default:
				summary.Recovered++
				summary.ByStrategy[out.Action.Strategy]++
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("Batch recovery finished",
		"shop", shopID,
		"scanned", summary.Scanned,
		"recovered", summary.Recovered,
		"skipped", summary.Skipped,
		"exceeded", summary.Exceeded,
		"failed", summary.Failed,
		"dry_run", opts.DryRun,
	)
	return summary, ctx.Err()
}

func (s *Service) recoverTranslation(ctx context.Context, t *domain.Translation, dryRun bool) (Outcome, error) {
	rc := RecoveryContext{ShopID: t.ShopID, ResourceID: t.ResourceID, Language: t.Language}
	cause := failure.FromRecord(t.LastError)

	res, err := s.store.Resources.Get(ctx, t.ResourceID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		cause = failure.Wrap(failure.KindNotFound, err, "resource "+t.ResourceID+" no longer exists")
	case err != nil:
		return Outcome{}, fmt.Errorf("load resource: %w", err)
	default:
		rc.ResourceType = res.Type
		rc.ContentLength = res.ContentLength()
	}

	if dryRun {
		d := failure.Classify(cause)
		return Outcome{Diagnosis: d, Code: d.Code, Action: Action{Strategy: StrategyFor(d.Kind)}}, nil
	}
	return s.DiagnoseAndRecover(ctx, cause, rc)
}
