package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Checker rates one shop.
type Checker interface {
	PerformSystemHealthCheck(ctx context.Context, shopID string) (ShopHealth, error)
}

// QueueStats reports queue depth.
type QueueStats interface {
	Depth() (queued, active int)
}

// Monitor aggregates health status across shops.
type Monitor struct {
	shops       []string
	checker     Checker
	queue       QueueStats
	minInterval time.Duration
	lastCheck   time.Time
	lastReport  HealthReport
	mu          sync.Mutex
	logger      *slog.Logger
}

// NewMonitor creates a new health monitor. queue may be nil.
func NewMonitor(shops []string, checker Checker, queue QueueStats) *Monitor {
	return &Monitor{
		shops:       shops,
		checker:     checker,
		queue:       queue,
		minInterval: 10 * time.Second,
		logger:      slog.Default().With("component", "health"),
	}
}

// CheckHealth returns the health report, re-running checks at most once per
// minInterval since each check also performs maintenance.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < m.minInterval && m.lastReport.Shops != nil {
		return m.lastReport
	}
	return m.refreshLocked(ctx)
}

// Refresh runs the checks regardless of when they last ran.
func (m *Monitor) Refresh(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshLocked(ctx)
}

func (m *Monitor) refreshLocked(ctx context.Context) HealthReport {
	report := HealthReport{
		SystemStatus: StatusHealthy,
		Shops:        make(map[string]ShopHealth, len(m.shops)),
	}

	for _, shopID := range m.shops {
		h, err := m.checker.PerformSystemHealthCheck(ctx, shopID)
		if err != nil {
			m.logger.Warn("Health check failed", "shop", shopID, "error", err)
			h.ShopID = shopID
			h.Status = StatusDegraded
		}
		report.Shops[shopID] = h
		if h.Status.Severity() > report.SystemStatus.Severity() {
			report.SystemStatus = h.Status
		}
	}

	if m.queue != nil {
		queued, active := m.queue.Depth()
		report.Queue = &QueueHealth{Queued: queued, Active: active}
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

// RefreshHealth satisfies the maintenance worker's refresher.
func (m *Monitor) RefreshHealth(ctx context.Context) {
	m.Refresh(ctx)
}
