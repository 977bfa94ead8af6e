package adaptive

import (
	"math"
	"time"
)

// Reason labels why the controller changed concurrency.
type Reason string

const (
	ReasonErrorBackoff      Reason = "error_backoff"
	ReasonThroughputRising  Reason = "throughput_rising"
	ReasonThroughputFalling Reason = "throughput_falling"
)

// applyMeasurement runs one adaptation step against a measured throughput.
//
// Failures observed since the previous tick take priority and always back
// concurrency off multiplicatively, one factor per failure. Otherwise the
// measurement is compared to the previous one and a trend adjustment is
// applied once the same direction has held for StabilityWindow consecutive
// ticks. The previous measurement is updated unconditionally.
func (e *Executor) applyMeasurement(now time.Time, tp float64) {
	cur := e.concurrency.Load()
	e.recordAdaptation(Adaptation{Time: now, Concurrency: cur, Throughput: tp})

	if errs := e.recentErrors.Swap(0); errs > 0 {
		factor := math.Pow(e.cfg.ErrorBackoffFactor, float64(errs))
		e.upStreak, e.downStreak = 0, 0
		e.scaleTo(int64(float64(cur)*factor), ReasonErrorBackoff, tp)
	} else if e.haveLast && e.lastThroughput > 0 {
		ratio := tp / e.lastThroughput
		switch {
		case ratio > e.cfg.IncreaseThreshold:
			e.downStreak = 0
			e.upStreak++
			if e.upStreak >= e.cfg.StabilityWindow {
				e.upStreak = 0
				e.scaleTo(nextIncrease(cur), ReasonThroughputRising, tp)
			}
		case ratio < e.cfg.DecreaseThreshold:
			e.upStreak = 0
			e.downStreak++
			if e.downStreak >= e.cfg.StabilityWindow {
				e.downStreak = 0
				e.scaleTo(int64(float64(cur)*e.cfg.DecreaseFactor), ReasonThroughputFalling, tp)
			}
		default:
			e.upStreak, e.downStreak = 0, 0
		}
	}

	e.lastThroughput = tp
	e.haveLast = true
}

// scaleTo clamps target into the configured bounds and applies it.
func (e *Executor) scaleTo(target int64, reason Reason, tp float64) {
	cur := e.concurrency.Load()
	if target < int64(e.cfg.MinConcurrency) {
		target = int64(e.cfg.MinConcurrency)
	}
	if target > int64(e.cfg.MaxConcurrency) {
		target = int64(e.cfg.MaxConcurrency)
	}
	if target == cur {
		return
	}
	e.concurrency.Store(target)
	if target > cur {
		e.increases.Add(1)
	} else {
		e.decreases.Add(1)
	}
	e.log.Info("concurrency adjusted",
		"from", cur,
		"to", target,
		"reason", string(reason),
		"throughput", tp)
}

// nextIncrease grows small levels additively and larger ones geometrically.
func nextIncrease(cur int64) int64 {
	switch {
	case cur < 10:
		return cur + 2
	case cur < 50:
		return int64(float64(cur) * 1.2)
	default:
		return int64(float64(cur) * 1.1)
	}
}
