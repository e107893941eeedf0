package worker

import (
	"context"
	"log/slog"
	"time"
)

// StallDetector pauses sessions that stopped checkpointing.
type StallDetector interface {
	DetectStalled(ctx context.Context) ([]string, error)
}

// HealthRefresher runs health checks along with their maintenance actions.
type HealthRefresher interface {
	RefreshHealth(ctx context.Context)
}

// JobPruner forgets finished jobs.
type JobPruner interface {
	Prune(olderThan time.Duration) int
}

// Maintainer runs periodic housekeeping.
type Maintainer struct {
	interval     time.Duration
	jobRetention time.Duration
	sessions     StallDetector
	health       HealthRefresher
	jobs         JobPruner
	logger       *slog.Logger
}

// NewMaintainer creates a new Maintainer worker. Any collaborator may be nil.
func NewMaintainer(
	interval time.Duration,
	sessions StallDetector,
	health HealthRefresher,
	jobs JobPruner,
) *Maintainer {
	return &Maintainer{
		interval:     interval,
		jobRetention: 10 * interval,
		sessions:     sessions,
		health:       health,
		jobs:         jobs,
		logger:       slog.Default().With("component", "maintainer"),
	}
}

// Start runs the maintenance loop.
func (m *Maintainer) Start(ctx context.Context) {
	if m.interval <= 0 {
		return // Maintenance disabled
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Initial pass
	m.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce performs one maintenance pass.
func (m *Maintainer) RunOnce(ctx context.Context) {
	if m.sessions != nil {
		stalled, err := m.sessions.DetectStalled(ctx)
		if err != nil {
			m.logger.Error("Failed to detect stalled sessions", "error", err)
		} else if len(stalled) > 0 {
			m.logger.Warn("Paused stalled sessions", "count", len(stalled), "sessions", stalled)
		}
	}

	if m.health != nil {
		m.health.RefreshHealth(ctx)
	}

	if m.jobs != nil {
		if n := m.jobs.Prune(m.jobRetention); n > 0 {
			m.logger.Debug("Pruned finished jobs", "count", n)
		}
	}
}
