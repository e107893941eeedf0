package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/transync/internal/orchestration/metrics"
)

// Event names
const (
	StepStart     = "step.start"
	StepSuccess   = "step.success"
	StepFail      = "step.fail"
	PipelineStart = "pipeline.start"
	PipelineEnd   = "pipeline.end"
)

// Event is one pipeline telemetry record.
type Event struct {
	Name       string
	ShopID     string
	SessionID  string
	JobID      string
	ResourceID string
	Language   string
	Duration   time.Duration
	Err        error
	Attrs      map[string]any
	At         time.Time
}

// Emitter defines the interface for emitting telemetry events
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// LogEmitter writes events to slog and counts them in Prometheus.
type LogEmitter struct {
	logger *slog.Logger
}

func NewLogEmitter() *LogEmitter {
	return &LogEmitter{logger: slog.Default().With("component", "telemetry")}
}

func (e *LogEmitter) Emit(ctx context.Context, event Event) {
	metrics.TelemetryEvents.WithLabelValues(event.Name).Inc()

	attrs := []any{"event", event.Name}
	if event.ShopID != "" {
		attrs = append(attrs, "shop", event.ShopID)
	}
	if event.SessionID != "" {
		attrs = append(attrs, "session", event.SessionID)
	}
	if event.JobID != "" {
		attrs = append(attrs, "job", event.JobID)
	}
	if event.ResourceID != "" {
		attrs = append(attrs, "resource", event.ResourceID, "language", event.Language)
	}
	if event.Duration > 0 {
		attrs = append(attrs, "duration", event.Duration)
	}
	for k, v := range event.Attrs {
		attrs = append(attrs, k, v)
	}

	if event.Err != nil {
		e.logger.WarnContext(ctx, "Pipeline event", append(attrs, "error", event.Err)...)
		return
	}
	e.logger.DebugContext(ctx, "Pipeline event", attrs...)
}

// Recorder keeps events in memory. Used by tests and the status command.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(ctx context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events with the given name were recorded.
func (r *Recorder) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

// Multi fans an event out to several emitters.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, event Event) {
	for _, e := range m {
		e.Emit(ctx, event)
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}
