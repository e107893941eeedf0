package skip

import (
	"sync"

	"github.com/vietddude/transync/internal/core/domain"
)

// Progress is one batch evaluation update.
type Progress struct {
	SessionID string
	Done      int
	Total     int
	Key       domain.WorkKey
	Decision  Decision
	Err       error
}

// ProgressStream broadcasts progress to any number of subscribers. Publishing
// never blocks: a subscriber that falls behind loses its oldest update.
type ProgressStream struct {
	mu     sync.Mutex
	subs   map[int]chan Progress
	nextID int
	closed bool
}

func NewProgressStream() *ProgressStream {
	return &ProgressStream{subs: make(map[int]chan Progress)}
}

// Subscribe returns a channel of updates and a function to stop receiving them.
func (s *ProgressStream) Subscribe(buffer int) (<-chan Progress, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Progress, buffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *ProgressStream) Publish(p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, ch := range s.subs {
		select {
		case ch <- p:
			continue
		default:
		}
		// Drop the oldest so the latest update gets through.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- p:
		default:
		}
	}
}

// Close ends the stream and closes every subscriber channel.
func (s *ProgressStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
