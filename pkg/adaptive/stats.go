package adaptive

import "time"

// Adaptation is one controller tick: the concurrency that was in effect
// and the throughput measured at that moment.
type Adaptation struct {
	Time        time.Time `json:"time"`
	Concurrency int64     `json:"concurrency"`
	Throughput  float64   `json:"throughput"`
}

// Stats is a point-in-time snapshot of an Executor. Throughput is nil
// while the tracker has too little data for a rate estimate;
// RecentThroughput covers only the newest few completions and reacts
// faster to load shifts.
type Stats struct {
	Concurrency      int64        `json:"concurrency"`
	Throughput       *float64     `json:"throughput,omitempty"`
	RecentThroughput *float64     `json:"recent_throughput,omitempty"`
	TotalTasks       int64        `json:"total_tasks"`
	TotalCompleted   uint64       `json:"total_completed"`
	TotalFailures    int64        `json:"total_failures"`
	RecentErrors     int64        `json:"recent_errors"`
	Increases        int64        `json:"increases_total"`
	Decreases        int64        `json:"decreases_total"`
	Recent           []Adaptation `json:"recent_adaptations,omitempty"`
}

const (
	recentAdaptations = 10
	recentRateWindow  = 5
)

func (e *Executor) Stats() Stats {
	st := Stats{
		Concurrency:    e.concurrency.Load(),
		TotalTasks:     e.totalTasks.Load(),
		TotalCompleted: e.tracker.TotalCompleted(),
		TotalFailures:  e.totalFailures.Load(),
		RecentErrors:   e.recentErrors.Load(),
		Increases:      e.increases.Load(),
		Decreases:      e.decreases.Load(),
		Recent:         e.History(recentAdaptations),
	}
	if tp, ok := e.tracker.Throughput(); ok {
		st.Throughput = &tp
	}
	if tp, ok := e.tracker.RecentThroughput(recentRateWindow); ok {
		st.RecentThroughput = &tp
	}
	return st
}

// History returns the newest n adaptation records, oldest first. n <= 0
// returns everything retained.
func (e *Executor) History(n int) []Adaptation {
	e.histMu.Lock()
	defer e.histMu.Unlock()
	if n <= 0 || n > len(e.history) {
		n = len(e.history)
	}
	out := make([]Adaptation, n)
	copy(out, e.history[len(e.history)-n:])
	return out
}

func (e *Executor) recordAdaptation(a Adaptation) {
	e.histMu.Lock()
	e.history = append(e.history, a)
	if len(e.history) > e.cfg.HistorySize {
		e.history = e.history[len(e.history)-e.cfg.HistorySize:]
	}
	e.histMu.Unlock()
}
