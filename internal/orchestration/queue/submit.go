package queue

import (
	"context"
	"time"

	"github.com/vietddude/transync/internal/core/domain"
)

const defaultJobDuration = 5 * time.Second

// SubmitResult is returned by Submit. Async submissions carry job IDs and an
// estimate; inline ones carry per-item results.
type SubmitResult struct {
	Async               bool
	JobIDs              []string
	EstimatedCompletion time.Time
	Results             []Result
	// Pending counts inline items still running when the timeout expired.
	Pending int
}

// Submit enqueues specs. Above the inline threshold the call returns at once
// with an estimate; otherwise it waits up to InlineTimeout for results.
func (q *Queue) Submit(ctx context.Context, specs []domain.JobSpec) (SubmitResult, error) {
	if len(specs) > q.opts.InlineThreshold {
		ids, err := q.EnqueueBatch(ctx, specs)
		if err != nil {
			return SubmitResult{}, err
		}
		return SubmitResult{
			Async:               true,
			JobIDs:              ids,
			EstimatedCompletion: q.estimate(),
		}, nil
	}

	for _, spec := range specs {
		if err := validate(spec); err != nil {
			return SubmitResult{}, err
		}
	}

	ids := make([]string, len(specs))
	waiters := make([]chan Result, len(specs))
	for i, spec := range specs {
		waiters[i] = make(chan Result, 1)
		id, err := q.enqueue(spec, waiters[i])
		if err != nil {
			return SubmitResult{}, err
		}
		ids[i] = id
	}

	waitCtx, cancel := context.WithTimeout(ctx, q.opts.InlineTimeout)
	defer cancel()

	out := SubmitResult{JobIDs: ids, Results: make([]Result, len(specs))}
	for i, w := range waiters {
		select {
		case r := <-w:
			out.Results[i] = r
		case <-waitCtx.Done():
			job, err := q.Status(ids[i])
			if err == nil {
				out.Results[i] = Result{JobID: job.ID, Key: job.Key, ShopID: job.Spec.ShopID, State: job.State}
			}
			out.Pending++
		}
	}
	return out, nil
}

// estimate projects when the current backlog drains.
func (q *Queue) estimate() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	avg := q.avgDuration
	if avg == 0 {
		avg = defaultJobDuration
	}
	backlog := q.pending.Len() + q.active
	rounds := (backlog + q.opts.Workers - 1) / q.opts.Workers
	return q.now().Add(time.Duration(rounds) * avg)
}
