package skip

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/transync/internal/core/domain"
)

// BatchOptions tune a batch evaluation. Zero values fall back to the engine config.
type BatchOptions struct {
	Concurrency      int
	SessionID        string
	QualityThreshold float64
	ItemTimeout      time.Duration
	Force            bool
	Progress         *ProgressStream
}

// BatchResult holds per-pair decisions and the pairs that could not be evaluated.
type BatchResult struct {
	Decisions map[domain.WorkKey]Decision
	Errors    map[domain.WorkKey]error
}

// Count returns the number of decisions with the given action.
func (r BatchResult) Count(action Action) int {
	n := 0
	for _, d := range r.Decisions {
		if d.Action == action {
			n++
		}
	}
	return n
}

// Eligible returns the keys that need work, sorted for stable output.
func (r BatchResult) Eligible() []domain.WorkKey {
	var keys []domain.WorkKey
	for k, d := range r.Decisions {
		if d.NeedsWork() {
			keys = append(keys, k)
		}
	}
	sortKeys(keys)
	return keys
}

// Skipped returns the keys decided as skip, sorted.
func (r BatchResult) Skipped() []domain.WorkKey {
	var keys []domain.WorkKey
	for k, d := range r.Decisions {
		if d.ShouldSkip() {
			keys = append(keys, k)
		}
	}
	sortKeys(keys)
	return keys
}

// Retries returns the keys decided as retry of a failed row, sorted.
func (r BatchResult) Retries() []domain.WorkKey {
	var keys []domain.WorkKey
	for k, d := range r.Decisions {
		if d.Action == ActionRetry {
			keys = append(keys, k)
		}
	}
	sortKeys(keys)
	return keys
}

func sortKeys(keys []domain.WorkKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ResourceID != keys[j].ResourceID {
			return keys[i].ResourceID < keys[j].ResourceID
		}
		return keys[i].Language < keys[j].Language
	})
}

// BatchEvaluate evaluates every resource x language pair with bounded
// concurrency. A failing or slow pair is recorded in Errors and never aborts
// the rest of the batch.
func (e *Engine) BatchEvaluate(
	ctx context.Context,
	resources []*domain.Resource,
	languages []string,
	opts BatchOptions,
) (BatchResult, error) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = e.cfg.Concurrency
	}
	itemTimeout := opts.ItemTimeout
	if itemTimeout <= 0 {
		itemTimeout = e.cfg.ItemTimeout
	}

	result := BatchResult{
		Decisions: make(map[domain.WorkKey]Decision),
		Errors:    make(map[domain.WorkKey]error),
	}
	total := len(resources) * len(languages)
	var (
		mu   sync.Mutex
		done int
	)

	g := new(errgroup.Group)
	g.SetLimit(concurrency)

resources:
	for _, res := range resources {
		for _, lang := range languages {
			if ctx.Err() != nil {
				break resources
			}
			g.Go(func() error {
				key := domain.WorkKey{ResourceID: res.ID, Language: lang}
				d, err := e.evaluateItem(ctx, res, lang, itemTimeout, EvalOptions{
					QualityThreshold: opts.QualityThreshold,
					Force:            opts.Force,
				})

				mu.Lock()
				if err != nil {
					result.Errors[key] = err
				} else {
					result.Decisions[key] = d
				}
				done++
				p := Progress{SessionID: opts.SessionID, Done: done, Total: total, Key: key, Decision: d, Err: err}
				mu.Unlock()

				if opts.Progress != nil {
					opts.Progress.Publish(p)
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	if len(result.Errors) > 0 {
		e.logger.Warn("Batch evaluation had item failures",
			"session", opts.SessionID, "failed", len(result.Errors), "total", total)
	}
	return result, ctx.Err()
}

func (e *Engine) evaluateItem(
	ctx context.Context,
	res *domain.Resource,
	lang string,
	timeout time.Duration,
	opts EvalOptions,
) (Decision, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		d   Decision
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("evaluate %s/%s panicked: %v", res.ID, lang, r)}
			}
		}()
		d, err := e.Evaluate(ctx, res, lang, opts)
		ch <- outcome{d, err}
	}()

	select {
	case o := <-ch:
		return o.d, o.err
	case <-ctx.Done():
		return Decision{}, fmt.Errorf("evaluate %s/%s: %w", res.ID, lang, ctx.Err())
	}
}
