package failure

import (
	"math"
	"time"
)

// RetryStrategy defines how retries should be handled.
type RetryStrategy interface {
	// GetDelay returns the delay for the given attempt (0-indexed).
	GetDelay(attempt int) time.Duration

	// ShouldRetry checks if we should retry based on the error and attempt count.
	ShouldRetry(err error, attempt int) bool
}

// ExponentialBackoff doubles the delay on every attempt.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

// DefaultBackoff returns 2s, 4s, 8s ... capped at 60s, 3 attempts.
func DefaultBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		MaxAttempts:  3,
	}
}

// GetDelay calculates delay: InitialDelay * 2^attempt
func (s *ExponentialBackoff) GetDelay(attempt int) time.Duration {
	delay := float64(s.InitialDelay) * math.Pow(2, float64(attempt))
	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry checks if the error is transient and max attempts not exceeded.
func (s *ExponentialBackoff) ShouldRetry(err error, attempt int) bool {
	if attempt >= s.MaxAttempts {
		return false
	}
	return Classify(err).Kind.Transient()
}

// LinearBackoff grows the delay by Step on every attempt.
type LinearBackoff struct {
	Step        time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// GetDelay calculates delay: Step * (attempt+1)
func (s *LinearBackoff) GetDelay(attempt int) time.Duration {
	delay := s.Step * time.Duration(attempt+1)
	if s.MaxDelay > 0 && delay > s.MaxDelay {
		return s.MaxDelay
	}
	return delay
}

func (s *LinearBackoff) ShouldRetry(err error, attempt int) bool {
	if attempt >= s.MaxAttempts {
		return false
	}
	return Classify(err).Retryable
}
