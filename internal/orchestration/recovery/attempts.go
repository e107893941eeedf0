package recovery

import (
	"context"
	"sync"
	"time"
)

// MemoryAttemptCounter is an in-process AttemptCounter.
type MemoryAttemptCounter struct {
	mu     sync.Mutex
	window time.Duration
	times  map[string][]time.Time
}

// NewMemoryAttemptCounter creates a counter that forgets attempts older than window.
func NewMemoryAttemptCounter(window time.Duration) *MemoryAttemptCounter {
	return &MemoryAttemptCounter{window: window, times: make(map[string][]time.Time)}
}

func (c *MemoryAttemptCounter) Record(ctx context.Context, scope string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.times[scope] = append(c.trim(scope, at.Add(-c.window)), at)
	return nil
}

func (c *MemoryAttemptCounter) Count(ctx context.Context, scope string, since time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.times[scope] {
		if !t.Before(since) {
			n++
		}
	}
	return n, nil
}

func (c *MemoryAttemptCounter) trim(scope string, cutoff time.Time) []time.Time {
	kept := c.times[scope][:0]
	for _, t := range c.times[scope] {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
