// Package rollup accumulates per-kind latency statistics for finished tasks
// and merges summaries produced by separate runs into one.
package rollup

import (
	"sync"
	"time"
)

// defaultBoundsMS are the latency bucket upper bounds in milliseconds. The
// final bucket catches everything above the last bound.
var defaultBoundsMS = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// KindStats aggregates the latencies observed for one task kind.
type KindStats struct {
	Count   int64   `json:"count"`
	TotalMS float64 `json:"total_ms"`
	MinMS   float64 `json:"min_ms"`
	MaxMS   float64 `json:"max_ms"`
	Buckets []int64 `json:"buckets"`
}

func (k KindStats) MeanMS() float64 {
	if k.Count == 0 {
		return 0
	}
	return k.TotalMS / float64(k.Count)
}

// Summary is the JSON shape a run emits. BoundsMS travels with the data so
// Merge can refuse parts bucketed on different bounds.
type Summary struct {
	Start    time.Time            `json:"start"`
	End      time.Time            `json:"end"`
	Observed int64                `json:"observed"`
	Failures int64                `json:"failures"`
	BoundsMS []float64            `json:"bounds_ms"`
	Kinds    map[string]KindStats `json:"kinds"`
}

// Collector accumulates observations from the completion path. Safe for
// concurrent use.
type Collector struct {
	mu       sync.Mutex
	start    time.Time
	observed int64
	failures int64
	kinds    map[string]*KindStats
}

func NewCollector() *Collector {
	return &Collector{
		start: time.Now().UTC(),
		kinds: map[string]*KindStats{},
	}
}

// Observe records one successful task of the given kind.
func (c *Collector) Observe(kind string, elapsed time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	ms := float64(elapsed) / float64(time.Millisecond)
	if ms < 0 {
		ms = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.observed++
	ks := c.kinds[kind]
	if ks == nil {
		ks = &KindStats{MinMS: ms, Buckets: make([]int64, len(defaultBoundsMS)+1)}
		c.kinds[kind] = ks
	}
	ks.Count++
	ks.TotalMS += ms
	if ms < ks.MinMS {
		ks.MinMS = ms
	}
	if ms > ks.MaxMS {
		ks.MaxMS = ms
	}
	ks.Buckets[bucketIndex(defaultBoundsMS, ms)]++
}

// ObserveFailure records one failed task. Failures carry no latency.
func (c *Collector) ObserveFailure() {
	c.mu.Lock()
	c.failures++
	c.mu.Unlock()
}

// Summary snapshots the collector. The returned value shares nothing with
// the collector's internal state.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := Summary{
		Start:    c.start,
		End:      time.Now().UTC(),
		Observed: c.observed,
		Failures: c.failures,
		BoundsMS: append([]float64(nil), defaultBoundsMS...),
		Kinds:    make(map[string]KindStats, len(c.kinds)),
	}
	for k, ks := range c.kinds {
		cp := *ks
		cp.Buckets = append([]int64(nil), ks.Buckets...)
		out.Kinds[k] = cp
	}
	return out
}

// bucketIndex returns the bucket for ms: the first bound that ms does not
// exceed, or the overflow slot past the last bound.
func bucketIndex(bounds []float64, ms float64) int {
	for i, b := range bounds {
		if ms <= b {
			return i
		}
	}
	return len(bounds)
}
