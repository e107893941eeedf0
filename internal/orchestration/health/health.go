// Package health provides system health monitoring and status reporting.
package health

import "time"

// SystemStatus represents the overall health state of the system or a shop.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Severity orders statuses so the worst can be picked.
func (s SystemStatus) Severity() int {
	switch s {
	case StatusCritical:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// ShopHealth contains health metrics for one shop.
type ShopHealth struct {
	ShopID          string       `json:"shop_id"`
	Status          SystemStatus `json:"status"`
	FailureRate     float64      `json:"failure_rate"`
	Attempted       int          `json:"attempted"`
	Failed          int          `json:"failed"`
	RecentErrors    int          `json:"recent_errors"`
	StalledSessions int          `json:"stalled_sessions"`
	StorageLatency  string       `json:"storage_latency"`
	StorageError    string       `json:"storage_error,omitempty"`
	ArchivedErrors  int64        `json:"archived_errors"`
	DemotedSessions []string     `json:"demoted_sessions,omitempty"`
	CheckedAt       time.Time    `json:"checked_at"`
}

// QueueHealth is the queue section of the detailed report.
type QueueHealth struct {
	Queued int `json:"queued"`
	Active int `json:"active"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus          `json:"system_status"`
	Shops        map[string]ShopHealth `json:"shops"`
	Queue        *QueueHealth          `json:"queue,omitempty"`
}
