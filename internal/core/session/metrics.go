package session

import (
	"time"
)

type checkpointRecord struct {
	Processed int
	At        time.Time
}

// Metrics holds session throughput data.
type Metrics struct {
	ItemsPerSecond float64
	ETA            time.Duration
	StateHistory   []Transition
}

// MetricsCollector tracks session throughput over recent checkpoints.
type MetricsCollector struct {
	windowSize  int
	checkpoints []checkpointRecord // ring buffer
	transitions []Transition
}

// NewMetricsCollector creates a collector keeping windowSize checkpoints.
func NewMetricsCollector(windowSize int) *MetricsCollector {
	return &MetricsCollector{windowSize: windowSize}
}

// RecordCheckpoint records the processed count at a point in time.
func (mc *MetricsCollector) RecordCheckpoint(processed int, at time.Time) {
	record := checkpointRecord{Processed: processed, At: at}
	if len(mc.checkpoints) >= mc.windowSize {
		copy(mc.checkpoints, mc.checkpoints[1:])
		mc.checkpoints[len(mc.checkpoints)-1] = record
	} else {
		mc.checkpoints = append(mc.checkpoints, record)
	}
}

// RecordTransition records a state transition.
func (mc *MetricsCollector) RecordTransition(t Transition) {
	// Keep only last 10 transitions
	if len(mc.transitions) >= 10 {
		copy(mc.transitions, mc.transitions[1:])
		mc.transitions[len(mc.transitions)-1] = t
	} else {
		mc.transitions = append(mc.transitions, t)
	}
}

// GetMetrics returns current metrics. remaining is used for the ETA.
func (mc *MetricsCollector) GetMetrics(remaining int) Metrics {
	m := Metrics{StateHistory: make([]Transition, len(mc.transitions))}
	copy(m.StateHistory, mc.transitions)

	if len(mc.checkpoints) >= 2 {
		first := mc.checkpoints[0]
		last := mc.checkpoints[len(mc.checkpoints)-1]
		elapsed := last.At.Sub(first.At)
		items := last.Processed - first.Processed
		if elapsed > 0 && items > 0 {
			m.ItemsPerSecond = float64(items) / elapsed.Seconds()
			m.ETA = time.Duration(float64(remaining) / m.ItemsPerSecond * float64(time.Second))
		}
	}
	return m
}
