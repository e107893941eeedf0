package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/transync/internal/core/domain"
	"github.com/vietddude/transync/internal/orchestration/health"
	"github.com/vietddude/transync/internal/orchestration/metrics"
)

// Health tier thresholds.
const (
	degradedFailureRate = 0.2
	criticalFailureRate = 0.5
	degradedLatency     = 250 * time.Millisecond
	criticalLatency     = 2 * time.Second
)

// PerformSystemHealthCheck rates a shop from its recent failure rate,
// stalled sessions and storage responsiveness, then runs maintenance:
// old errors are archived and stalled sessions demoted to PAUSED.
func (s *Service) PerformSystemHealthCheck(ctx context.Context, shopID string) (health.ShopHealth, error) {
	now := s.now()
	since := now.Add(-s.cfg.Window)
	h := health.ShopHealth{ShopID: shopID, CheckedAt: now}

	start := time.Now()
	pingErr := s.store.Health.Ping(ctx)
	latency := time.Since(start)
	h.StorageLatency = latency.String()
	if pingErr != nil {
		h.StorageError = pingErr.Error()
	}

	stats, err := s.store.Translations.Stats(ctx, shopID, since)
	if err != nil {
		return h, fmt.Errorf("failed to load translation stats: %w", err)
	}
	h.Attempted, h.Failed = stats.Attempted, stats.Failed
	if stats.Attempted > 0 {
		h.FailureRate = float64(stats.Failed) / float64(stats.Attempted)
	}

	if h.RecentErrors, err = s.store.Errors.CountSince(ctx, shopID, since); err != nil {
		return h, fmt.Errorf("failed to count errors: %w", err)
	}

	running, err := s.store.Sessions.ListByStatus(ctx, domain.SessionStatusRunning)
	if err != nil {
		return h, fmt.Errorf("failed to list sessions: %w", err)
	}
	for _, sess := range running {
		if sess.ShopID == shopID && now.Sub(sess.LastCheckpointAt) > s.cfg.StaleAfter {
			h.StalledSessions++
		}
	}

	h.Status = tier(h, latency, pingErr)
	metrics.HealthStatus.WithLabelValues(shopID).Set(float64(h.Status.Severity()))

	// Maintenance is bounded: one archive sweep, one stall pass.
	if h.ArchivedErrors, err = s.store.Errors.ArchiveOlderThan(ctx, now.Add(-s.cfg.ErrorRetention)); err != nil {
		s.logger.Warn("Failed to archive old errors", "error", err)
	}
	if s.stalls != nil && h.StalledSessions > 0 {
		if h.DemotedSessions, err = s.stalls.DetectStalled(ctx); err != nil {
			s.logger.Warn("Failed to demote stalled sessions", "error", err)
		}
	}

	if h.Status != health.StatusHealthy {
		s.logger.Warn("Shop health degraded",
			"shop", shopID,
			"status", h.Status,
			"failure_rate", h.FailureRate,
			"stalled", h.StalledSessions,
			"storage_latency", latency,
		)
	}
	return h, nil
}

func tier(h health.ShopHealth, latency time.Duration, pingErr error) health.SystemStatus {
	switch {
	case pingErr != nil, h.FailureRate >= criticalFailureRate, latency >= criticalLatency:
		return health.StatusCritical
	case h.FailureRate >= degradedFailureRate, h.StalledSessions > 0, latency >= degradedLatency:
		return health.StatusDegraded
	default:
		return health.StatusHealthy
	}
}
