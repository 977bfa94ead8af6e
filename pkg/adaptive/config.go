package adaptive

import (
	"fmt"
	"time"
)

// Config tunes how an Executor schedules tasks and adapts concurrency.
// Zero fields take the corresponding DefaultConfig value, so a partially
// filled Config is fine; explicitly invalid values fail New.
type Config struct {
	// InitialConcurrency is the starting parallelism. Defaults to
	// MinConcurrency when unset.
	InitialConcurrency int

	// MinConcurrency and MaxConcurrency bound the adapted level.
	MinConcurrency int
	MaxConcurrency int

	// AdaptationInterval is how often the controller re-evaluates
	// throughput and adjusts concurrency.
	AdaptationInterval time.Duration

	// ThroughputWindow is how many completion timestamps are retained
	// for the rate estimate. A window of 0 or 1 can never produce a
	// rate, which effectively disables adaptation.
	ThroughputWindow int

	// IncreaseThreshold and DecreaseThreshold bound the dead band on
	// the current/previous throughput ratio. Ratios above the increase
	// threshold count toward scaling up, below the decrease threshold
	// toward scaling down, anything between resets both trends.
	IncreaseThreshold float64
	DecreaseThreshold float64

	// StabilityWindow is how many consecutive same-direction signals
	// are required before a trend adjustment is applied.
	StabilityWindow int

	// ErrorBackoffFactor shrinks concurrency multiplicatively per
	// failure observed since the previous adaptation tick.
	ErrorBackoffFactor float64

	// DecreaseFactor shrinks concurrency on a sustained throughput drop.
	DecreaseFactor float64

	// HistorySize caps the retained adaptation history.
	HistorySize int

	// ContinueOnError keeps the execution running when a task fails
	// instead of aborting the whole stream.
	ContinueOnError bool
}

func DefaultConfig() Config {
	return Config{
		InitialConcurrency: 5,
		MinConcurrency:     1,
		MaxConcurrency:     100,
		AdaptationInterval: 5 * time.Second,
		ThroughputWindow:   50,
		IncreaseThreshold:  1.1,
		DecreaseThreshold:  0.9,
		StabilityWindow:    3,
		ErrorBackoffFactor: 0.7,
		DecreaseFactor:     0.8,
		HistorySize:        500,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MinConcurrency == 0 {
		c.MinConcurrency = def.MinConcurrency
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = def.MaxConcurrency
	}
	if c.InitialConcurrency == 0 {
		c.InitialConcurrency = c.MinConcurrency
	}
	if c.AdaptationInterval == 0 {
		c.AdaptationInterval = def.AdaptationInterval
	}
	if c.ThroughputWindow == 0 {
		c.ThroughputWindow = def.ThroughputWindow
	}
	if c.IncreaseThreshold == 0 {
		c.IncreaseThreshold = def.IncreaseThreshold
	}
	if c.DecreaseThreshold == 0 {
		c.DecreaseThreshold = def.DecreaseThreshold
	}
	if c.StabilityWindow == 0 {
		c.StabilityWindow = def.StabilityWindow
	}
	if c.ErrorBackoffFactor == 0 {
		c.ErrorBackoffFactor = def.ErrorBackoffFactor
	}
	if c.DecreaseFactor == 0 {
		c.DecreaseFactor = def.DecreaseFactor
	}
	if c.HistorySize == 0 {
		c.HistorySize = def.HistorySize
	}
	return c
}

func (c Config) validate() error {
	if c.MinConcurrency < 1 {
		return fmt.Errorf("adaptive: min concurrency must be >= 1, got %d", c.MinConcurrency)
	}
	if c.MaxConcurrency < c.MinConcurrency {
		return fmt.Errorf("adaptive: max concurrency %d below min %d", c.MaxConcurrency, c.MinConcurrency)
	}
	if c.InitialConcurrency < c.MinConcurrency || c.InitialConcurrency > c.MaxConcurrency {
		return fmt.Errorf("adaptive: initial concurrency %d outside [%d, %d]", c.InitialConcurrency, c.MinConcurrency, c.MaxConcurrency)
	}
	if c.AdaptationInterval <= 0 {
		return fmt.Errorf("adaptive: adaptation interval must be positive, got %v", c.AdaptationInterval)
	}
	if c.ThroughputWindow < 0 {
		return fmt.Errorf("adaptive: throughput window must be >= 0, got %d", c.ThroughputWindow)
	}
	if c.IncreaseThreshold < 1 {
		return fmt.Errorf("adaptive: increase threshold must be >= 1, got %v", c.IncreaseThreshold)
	}
	if c.DecreaseThreshold <= 0 || c.DecreaseThreshold >= 1 {
		return fmt.Errorf("adaptive: decrease threshold must be in (0, 1), got %v", c.DecreaseThreshold)
	}
	if c.StabilityWindow < 1 {
		return fmt.Errorf("adaptive: stability window must be >= 1, got %d", c.StabilityWindow)
	}
	if c.ErrorBackoffFactor <= 0 || c.ErrorBackoffFactor >= 1 {
		return fmt.Errorf("adaptive: error backoff factor must be in (0, 1), got %v", c.ErrorBackoffFactor)
	}
	if c.DecreaseFactor <= 0 || c.DecreaseFactor >= 1 {
		return fmt.Errorf("adaptive: decrease factor must be in (0, 1), got %v", c.DecreaseFactor)
	}
	if c.HistorySize < 1 {
		return fmt.Errorf("adaptive: history size must be >= 1, got %d", c.HistorySize)
	}
	return nil
}
