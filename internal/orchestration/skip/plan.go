package skip

import (
	"context"

	"github.com/vietddude/transync/internal/core/domain"
)

// SetProgressStream makes Plan publish per-item progress to ps.
func (e *Engine) SetProgressStream(ps *ProgressStream) {
	e.progress = ps
}

// Plan partitions resources x languages for a session. Pairs whose
// evaluation failed stay pending so they are not silently dropped.
func (e *Engine) Plan(
	ctx context.Context,
	resources []*domain.Resource,
	languages []string,
	sessionID string,
) (domain.WorkPlan, error) {
	res, err := e.BatchEvaluate(ctx, resources, languages, BatchOptions{
		SessionID: sessionID,
		Progress:  e.progress,
	})
	if err != nil {
		return domain.WorkPlan{}, err
	}

	pending := res.Eligible()
	for k := range res.Errors {
		pending = append(pending, k)
	}
	sortKeys(pending)
	return domain.WorkPlan{Pending: pending, Done: res.Skipped(), Retry: res.Retries()}, nil
}
