package domain

import "time"

// ErrorLog is a fingerprinted error record.
type ErrorLog struct {
	ID          string
	ShopID      string
	Fingerprint string
	Category    string
	Code        string
	Message     string
	ResourceID  string
	Language    string
	SessionID   string
	Occurrences int
	FirstSeenAt time.Time
	LastSeenAt  time.Time
	Archived    bool
}

// RecoveryAttempt records one automatic repair attempt.
type RecoveryAttempt struct {
	ID          string
	ErrorID     string
	ScopeKey    string
	Fingerprint string
	Strategy    string
	Success     bool
	Detail      string
	AttemptedAt time.Time
}
