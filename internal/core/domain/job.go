package domain

import "time"

// JobState is the lifecycle state of a queued translation job.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// IsTerminal reports whether no further work happens for the job.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateCancelled
}

// Urgency describes who is waiting on a job.
type Urgency int

const (
	UrgencyBackground Urgency = iota
	UrgencyInteractive
)

// JobSpec describes requested translation work.
type JobSpec struct {
	ShopID        string
	ResourceID    string
	ResourceType  ResourceType
	Language      string
	Urgency       Urgency
	ContentLength int
	SessionID     string
	Force         bool
	Retry         bool // re-queued for a failed row; a success replaces the failed status
	Recovery      bool
	Delay         time.Duration
	Params        map[string]string
}

// Key returns the dedup key of the spec.
func (s JobSpec) Key() WorkKey {
	return WorkKey{ResourceID: s.ResourceID, Language: s.Language}
}

// Job is a queued unit of translation work.
type Job struct {
	ID         string
	Key        WorkKey
	Spec       JobSpec
	State      JobState
	Priority   int
	Attempts   int
	LastError  string
	EnqueuedAt time.Time
	NotBefore  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}
