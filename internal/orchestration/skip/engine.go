package skip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/transync/internal/core/domain"
	"github.com/vietddude/transync/internal/infra/cache"
	"github.com/vietddude/transync/internal/infra/storage"
	"github.com/vietddude/transync/internal/orchestration/metrics"
)

// TranslationCache caches translation rows by work key. A nil value records
// that no row exists.
type TranslationCache = cache.Cache[*domain.Translation]

// NewTranslationCache creates the cache shared by the engine and the queue.
func NewTranslationCache(ttl time.Duration) *TranslationCache {
	return cache.New[*domain.Translation]("translations", ttl)
}

// Config holds engine defaults.
type Config struct {
	QualityThreshold float64
	MaxRetries       int
	Concurrency      int
	ItemTimeout      time.Duration
}

// EvalOptions tune a single evaluation.
type EvalOptions struct {
	// QualityThreshold overrides the configured threshold when positive.
	QualityThreshold float64
	Force            bool
	UserRequested    bool
}

// Engine decides whether (resource, language) pairs need translation work.
type Engine struct {
	translations storage.TranslationRepository
	cache        *TranslationCache
	cfg          Config
	progress     *ProgressStream
	logger       *slog.Logger
}

// NewEngine creates a skip engine. cache may be nil.
func NewEngine(translations storage.TranslationRepository, c *TranslationCache, cfg Config) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.QualityThreshold <= 0 {
		cfg.QualityThreshold = 0.7
	}
	return &Engine{
		translations: translations,
		cache:        c,
		cfg:          cfg,
		logger:       slog.Default().With("component", "skip"),
	}
}

// MaxRetries returns the retry cap used by rules 4 and 5.
func (e *Engine) MaxRetries() int {
	return e.cfg.MaxRetries
}

// Evaluate classifies one pair. Rules are checked in order; the first match wins.
func (e *Engine) Evaluate(
	ctx context.Context,
	res *domain.Resource,
	language string,
	opts EvalOptions,
) (Decision, error) {
	t, err := e.lookup(ctx, res.ID, language)
	if err != nil {
		return Decision{}, err
	}
	d := e.decide(res, t, opts)
	metrics.SkipDecisions.WithLabelValues(string(d.Action), string(d.Reason)).Inc()
	return d, nil
}

func (e *Engine) decide(res *domain.Resource, t *domain.Translation, opts EvalOptions) Decision {
	if t == nil {
		return translate(ReasonNew, 1.0)
	}
	if opts.Force || opts.UserRequested {
		return translate(ReasonForced, 1.0)
	}

	threshold := e.cfg.QualityThreshold
	if opts.QualityThreshold > 0 {
		threshold = opts.QualityThreshold
	}

	current := t.SourceFingerprint == res.Fingerprint
	if current && t.SyncStatus == domain.SyncStatusSynced && t.QualityScore >= threshold {
		return skipped(ReasonUpToDate, 1.0)
	}
	if !current {
		return translate(ReasonStale, 0.95)
	}

	// The cap wins once reached, even if quality is still low.
	if t.HasContent() && t.QualityScore < threshold {
		if t.RetryCount >= e.cfg.MaxRetries {
			return skipped(ReasonQualityCapReached, 0.9)
		}
		return translate(ReasonLowQuality, 0.85)
	}

	if t.SyncStatus == domain.SyncStatusFailed {
		if t.RetryCount < e.cfg.MaxRetries {
			return Decision{Action: ActionRetry, Reason: ReasonRetryEligible, Confidence: 0.8}
		}
		return skipped(ReasonRetryExhausted, 0.9)
	}

	return translate(ReasonUnsynced, 0.7)
}

func (e *Engine) lookup(ctx context.Context, resourceID, language string) (*domain.Translation, error) {
	key := domain.WorkKey{ResourceID: resourceID, Language: language}.String()
	if e.cache != nil {
		if t, ok := e.cache.Get(key); ok {
			return t, nil
		}
	}

	t, err := e.translations.Get(ctx, resourceID, language)
	if errors.Is(err, storage.ErrNotFound) {
		t, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load translation %s: %w", key, err)
	}

	if e.cache != nil {
		e.cache.Set(key, t)
	}
	return t, nil
}
