package domain

import "time"

// SessionStatus is the state of a bulk translation run.
type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "RUNNING"
	SessionStatusPaused    SessionStatus = "PAUSED"
	SessionStatusCompleted SessionStatus = "COMPLETED"
	SessionStatusFailed    SessionStatus = "FAILED"
)

// Trace is an audit entry recorded against a session.
type Trace struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// Session tracks a bulk translation run over resources x languages.
type Session struct {
	ID               string
	ShopID           string
	Status           SessionStatus
	ResourceIDs      []string
	Languages        []string
	Total            int
	Completed        int
	Errored          int
	Skipped          int
	LastCheckpointAt time.Time
	Traces           []Trace
	Archived         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Processed returns the number of items that reached a terminal outcome.
func (s *Session) Processed() int {
	return s.Completed + s.Errored + s.Skipped
}

// Remaining returns the number of items still outstanding.
func (s *Session) Remaining() int {
	if r := s.Total - s.Processed(); r > 0 {
		return r
	}
	return 0
}

// ErrorRate is errored items over processed items.
func (s *Session) ErrorRate() float64 {
	p := s.Processed()
	if p == 0 {
		return 0
	}
	return float64(s.Errored) / float64(p)
}

// IsTerminal reports whether the session can no longer change state.
func (s *Session) IsTerminal() bool {
	return s.Status == SessionStatusCompleted || s.Status == SessionStatusFailed
}

// ProgressDelta is an increment applied to session counters at a checkpoint.
type ProgressDelta struct {
	Completed int
	Errored   int
	Skipped   int
	// Reopened moves errored items back to outstanding when they are
	// re-queued. It never takes Errored below zero.
	Reopened int
}

// IsZero reports whether the delta changes nothing.
func (d ProgressDelta) IsZero() bool {
	return d.Completed == 0 && d.Errored == 0 && d.Skipped == 0 && d.Reopened == 0
}
