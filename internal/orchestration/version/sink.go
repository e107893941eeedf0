package version

import (
	"context"
	"log/slog"
	"sync"
)

// ChanSink buffers change records on a channel. When the buffer is full the
// record is dropped and counted; the next full scan picks the change up again.
type ChanSink struct {
	ch      chan ChangeRecord
	mu      sync.Mutex
	dropped int
	closed  bool
}

func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{ch: make(chan ChangeRecord, buffer)}
}

func (s *ChanSink) Publish(ctx context.Context, record ChangeRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- record:
	default:
		s.dropped++
		slog.Warn("Change feed full, dropping record", "resource", record.ResourceID, "dropped", s.dropped)
	}
}

// Records returns the receive side of the feed.
func (s *ChanSink) Records() <-chan ChangeRecord {
	return s.ch
}

func (s *ChanSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *ChanSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
