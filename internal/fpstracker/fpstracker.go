// Package fpstracker computes a rolling average observation rate and
// one-way latency for observability (spec.md §4.8, C8).
package fpstracker

import "sync"

// Metrics is one snapshot of the rolling window.
type Metrics struct {
	AvgFPS         float64
	TargetFPS      float64
	OneWayLatency  float64
}

// Tracker keeps the last WindowSize observation-receive timestamps.
type Tracker struct {
	targetFPS  float64
	windowSize int

	mu        sync.Mutex
	times     []float64 // client-reported timestamps, oldest first
}

// New creates a Tracker targeting targetFPS with the given rolling
// window size (default 60 if <= 0).
func New(targetFPS float64, windowSize int) *Tracker {
	if windowSize <= 0 {
		windowSize = 60
	}
	return &Tracker{targetFPS: targetFPS, windowSize: windowSize}
}

// CalculateFPSMetrics records obsTimestamp (the client's wall-clock
// timestamp) and returns the rolling average FPS, target FPS, and the
// one-way latency between obsTimestamp and now (both in seconds).
func (t *Tracker) CalculateFPSMetrics(obsTimestamp, now float64) Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.times = append(t.times, obsTimestamp)
	if over := len(t.times) - t.windowSize; over > 0 {
		t.times = t.times[over:]
	}

	avg := t.targetFPS
	if len(t.times) >= 2 {
		span := t.times[len(t.times)-1] - t.times[0]
		if span > 0 {
			avg = float64(len(t.times)-1) / span
		}
	}

	return Metrics{
		AvgFPS:        avg,
		TargetFPS:     t.targetFPS,
		OneWayLatency: now - obsTimestamp,
	}
}
