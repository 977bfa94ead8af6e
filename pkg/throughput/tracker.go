// Package throughput estimates task completion rates over a sliding window.
package throughput

import (
	"sync"
	"time"
)

// Tracker retains the most recent completion timestamps in a fixed-size
// ring and derives completions-per-second from the retained span.
type Tracker struct {
	mu    sync.Mutex
	times []time.Time
	head  int
	count int
	total uint64
}

func New(windowSize int) *Tracker {
	if windowSize < 0 {
		windowSize = 0
	}
	return &Tracker{times: make([]time.Time, windowSize)}
}

// RecordCompletion stores ts, evicting the oldest sample once the
// window is full.
func (t *Tracker) RecordCompletion(ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total++
	if len(t.times) == 0 {
		return
	}
	if t.count < len(t.times) {
		t.times[(t.head+t.count)%len(t.times)] = ts
		t.count++
		return
	}
	// overwrite the oldest sample and advance the ring
	t.times[t.head] = ts
	t.head = (t.head + 1) % len(t.times)
}

// Throughput reports completions per second across the retained window.
// ok is false with fewer than two samples or a non-positive span, so a
// window size of 0 or 1 never produces a rate.
func (t *Tracker) Throughput() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate(t.count)
}

// RecentThroughput reports the rate over the newest lastN samples, or
// over everything retained when fewer are available. lastN <= 0 falls
// back to 5.
func (t *Tracker) RecentThroughput(lastN int) (float64, bool) {
	if lastN <= 0 {
		lastN = 5
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if lastN > t.count {
		lastN = t.count
	}
	return t.rate(lastN)
}

// TotalCompleted counts every completion ever recorded, including those
// already evicted from the window.
func (t *Tracker) TotalCompleted() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Size reports how many samples are currently retained.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Window returns the retained timestamps, oldest first.
func (t *Tracker) Window() []time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]time.Time, t.count)
	for i := range out {
		out[i] = t.at(i)
	}
	return out
}

// rate computes (n-1)/span over the newest n samples. Callers hold mu.
func (t *Tracker) rate(n int) (float64, bool) {
	if n < 2 {
		return 0, false
	}
	oldest := t.at(t.count - n)
	newest := t.at(t.count - 1)
	span := newest.Sub(oldest).Seconds()
	if span <= 0 {
		return 0, false
	}
	return float64(n-1) / span, true
}

// at returns the i-th retained sample, oldest first. Callers hold mu.
func (t *Tracker) at(i int) time.Time {
	return t.times[(t.head+i)%len(t.times)]
}
