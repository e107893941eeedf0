package session

import (
	"errors"
	"slices"
	"time"

	"github.com/vietddude/transync/internal/core/domain"
)

// State is an alias for domain.SessionStatus for internal use.
type State = domain.SessionStatus

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
var ValidTransitions = map[State][]State{
	domain.SessionStatusRunning: {
		domain.SessionStatusPaused,
		domain.SessionStatusCompleted,
		domain.SessionStatusFailed,
	},
	domain.SessionStatusPaused: {
		domain.SessionStatusRunning,
		domain.SessionStatusFailed,
	},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	return slices.Contains(ValidTransitions[from], to)
}

// Transition represents a state change with metadata.
type Transition struct {
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

// NewTransition creates a new transition record.
func NewTransition(from, to State, reason string, at time.Time) Transition {
	return Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: at,
	}
}

// IsValid returns true if this transition is allowed by the state machine.
func (t Transition) IsValid() bool {
	return CanTransition(t.From, t.To)
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s State) string {
	switch s {
	case domain.SessionStatusRunning:
		return "Running - work is being enqueued and checkpointed"
	case domain.SessionStatusPaused:
		return "Paused - stopped by operator or stalled"
	case domain.SessionStatusCompleted:
		return "Completed - every item reached a terminal outcome"
	case domain.SessionStatusFailed:
		return "Failed - error rate ceiling breached or cancelled"
	default:
		return "Unknown state"
	}
}
