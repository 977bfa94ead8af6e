package adaptive

import (
	"log/slog"
	"testing"
	"time"
)

func newTestExecutor(t *testing.T, cfg Config) *Executor {
	t.Helper()
	e, err := New(slog.Default(), cfg)
	if err != nil {
		t.Fatalf("executor init: %v", err)
	}
	return e
}

// tick feeds one measurement straight into the controller.
func tick(e *Executor, sec int, tp float64) {
	e.applyMeasurement(time.Unix(int64(sec), 0).UTC(), tp)
}

func TestTrend_IncreaseAfterStabilityWindow(t *testing.T) {
	e := newTestExecutor(t, Config{
		InitialConcurrency: 5,
		MinConcurrency:     1,
		MaxConcurrency:     100,
		StabilityWindow:    3,
	})

	tick(e, 0, 1.0) // baseline, no previous measurement to compare against
	if got := e.Concurrency(); got != 5 {
		t.Fatalf("baseline tick changed concurrency to %d", got)
	}

	tick(e, 1, 1.5)
	tick(e, 2, 2.25)
	if got := e.Concurrency(); got != 5 {
		t.Fatalf("concurrency changed before the stability window filled: %d", got)
	}

	tick(e, 3, 3.375)
	if got := e.Concurrency(); got != 7 {
		t.Fatalf("expected 7 after three rising ticks, got %d", got)
	}
	if e.upStreak != 0 {
		t.Fatalf("expected streak reset after adjustment, got %d", e.upStreak)
	}
	if st := e.Stats(); st.Increases != 1 || st.Decreases != 0 {
		t.Fatalf("expected one increase, got stats %+v", st)
	}
}

func TestTrend_DecreaseAfterStabilityWindow(t *testing.T) {
	e := newTestExecutor(t, Config{
		InitialConcurrency: 10,
		MinConcurrency:     1,
		MaxConcurrency:     100,
		StabilityWindow:    2,
		DecreaseFactor:     0.8,
	})

	tick(e, 0, 4.0)
	tick(e, 1, 2.0)
	if got := e.Concurrency(); got != 10 {
		t.Fatalf("concurrency changed before the stability window filled: %d", got)
	}
	tick(e, 2, 1.0)
	if got := e.Concurrency(); got != 8 {
		t.Fatalf("expected 8 after two falling ticks, got %d", got)
	}
	if st := e.Stats(); st.Decreases != 1 {
		t.Fatalf("expected one decrease, got stats %+v", st)
	}
}

func TestTrend_StableBandResetsStreaks(t *testing.T) {
	e := newTestExecutor(t, Config{
		InitialConcurrency: 5,
		MinConcurrency:     1,
		MaxConcurrency:     100,
		StabilityWindow:    3,
	})

	tick(e, 0, 1.0)
	tick(e, 1, 1.5) // rising
	tick(e, 2, 1.5) // ratio 1.0, inside the dead band
	if e.upStreak != 0 || e.downStreak != 0 {
		t.Fatalf("stable tick left streaks up=%d down=%d", e.upStreak, e.downStreak)
	}

	tick(e, 3, 2.25) // rising again, streak restarts from one
	tick(e, 4, 3.375)
	if got := e.Concurrency(); got != 5 {
		t.Fatalf("expected no change after interrupted streak, got %d", got)
	}
}

func TestTrend_OppositeSignalResetsStreak(t *testing.T) {
	e := newTestExecutor(t, Config{
		InitialConcurrency: 5,
		MinConcurrency:     1,
		MaxConcurrency:     100,
		StabilityWindow:    3,
	})

	tick(e, 0, 1.0)
	tick(e, 1, 1.5)
	tick(e, 2, 2.25)
	tick(e, 3, 1.0) // sharp drop
	if e.upStreak != 0 {
		t.Fatalf("expected rising streak reset, got %d", e.upStreak)
	}
	if e.downStreak != 1 {
		t.Fatalf("expected falling streak of 1, got %d", e.downStreak)
	}
	if got := e.Concurrency(); got != 5 {
		t.Fatalf("expected no change, got %d", got)
	}
}

func TestErrorBackoff_CompoundsPerFailure(t *testing.T) {
	e := newTestExecutor(t, Config{
		InitialConcurrency: 10,
		MinConcurrency:     1,
		MaxConcurrency:     100,
		ErrorBackoffFactor: 0.7,
	})

	e.recentErrors.Store(2)
	tick(e, 0, 5.0)
	// 10 * 0.7^2 = 4.9, truncated
	if got := e.Concurrency(); got != 4 {
		t.Fatalf("expected 4 after two failures, got %d", got)
	}
	if got := e.recentErrors.Load(); got != 0 {
		t.Fatalf("expected error counter reset, got %d", got)
	}

	// the measurement was still recorded as the new baseline
	tick(e, 1, 5.0)
	if got := e.Concurrency(); got != 4 {
		t.Fatalf("expected stable band after identical measurement, got %d", got)
	}
}

func TestErrorBackoff_PriorityOverRisingTrend(t *testing.T) {
	e := newTestExecutor(t, Config{
		InitialConcurrency: 10,
		MinConcurrency:     1,
		MaxConcurrency:     100,
		StabilityWindow:    1,
		ErrorBackoffFactor: 0.7,
	})

	tick(e, 0, 1.0)
	e.recentErrors.Store(1)
	tick(e, 1, 10.0) // would be a strong increase signal
	if got := e.Concurrency(); got != 7 {
		t.Fatalf("expected backoff to 7 despite rising throughput, got %d", got)
	}
	if e.upStreak != 0 || e.downStreak != 0 {
		t.Fatalf("expected streaks cleared, got up=%d down=%d", e.upStreak, e.downStreak)
	}
}

func TestErrorBackoff_ClampsAtMin(t *testing.T) {
	e := newTestExecutor(t, Config{
		InitialConcurrency: 2,
		MinConcurrency:     2,
		MaxConcurrency:     100,
		ErrorBackoffFactor: 0.7,
	})

	e.recentErrors.Store(5)
	tick(e, 0, 1.0)
	if got := e.Concurrency(); got != 2 {
		t.Fatalf("expected clamp at min, got %d", got)
	}
	// clamped to the current value counts as no change
	if st := e.Stats(); st.Decreases != 0 {
		t.Fatalf("expected no recorded decrease, got %+v", st)
	}
}

func TestBounds_NeverExceeded(t *testing.T) {
	e := newTestExecutor(t, Config{
		InitialConcurrency: 5,
		MinConcurrency:     2,
		MaxConcurrency:     12,
		StabilityWindow:    1,
	})

	tp := 1.0
	for i := 0; i < 40; i++ {
		tp *= 1.5
		tick(e, i, tp)
		if c := e.Concurrency(); c < 2 || c > 12 {
			t.Fatalf("tick %d: concurrency %d outside [2, 12]", i, c)
		}
	}
	if got := e.Concurrency(); got != 12 {
		t.Fatalf("expected saturation at max, got %d", got)
	}

	for i := 40; i < 60; i++ {
		e.recentErrors.Store(3)
		tick(e, i, 1.0)
		if c := e.Concurrency(); c < 2 || c > 12 {
			t.Fatalf("tick %d: concurrency %d outside [2, 12]", i, c)
		}
	}
	if got := e.Concurrency(); got != 2 {
		t.Fatalf("expected saturation at min, got %d", got)
	}
}

func TestIncreasePolicy_Curve(t *testing.T) {
	cases := []struct {
		cur, want int64
	}{
		{1, 3},
		{5, 7},
		{9, 11},
		{10, 12},
		{20, 24},
		{49, 58},
		{50, 55},
		{60, 66},
		{100, 110},
	}
	for _, tc := range cases {
		if got := nextIncrease(tc.cur); got != tc.want {
			t.Fatalf("nextIncrease(%d) got=%d want=%d", tc.cur, got, tc.want)
		}
	}
}

func TestAdaptOnce_SkipsWithoutRateEstimate(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())

	e.adaptOnce()
	e.tracker.RecordCompletion(time.Unix(0, 0))
	e.adaptOnce()
	if got := len(e.History(0)); got != 0 {
		t.Fatalf("expected no history without a rate estimate, got %d entries", got)
	}
	if got := e.Concurrency(); got != 5 {
		t.Fatalf("expected untouched concurrency, got %d", got)
	}

	e.tracker.RecordCompletion(time.Unix(1, 0))
	e.adaptOnce()
	if got := len(e.History(0)); got != 1 {
		t.Fatalf("expected one history entry, got %d", got)
	}
}

func TestHistory_CappedAndOrdered(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 5
	e := newTestExecutor(t, cfg)

	for i := 0; i < 12; i++ {
		tick(e, i, 1.0)
	}

	all := e.History(0)
	if len(all) != 5 {
		t.Fatalf("expected history capped at 5, got %d", len(all))
	}
	for i, a := range all {
		if want := time.Unix(int64(7+i), 0).UTC(); !a.Time.Equal(want) {
			t.Fatalf("history[%d] time got=%v want=%v", i, a.Time, want)
		}
	}

	newest := e.History(2)
	if len(newest) != 2 || !newest[1].Time.Equal(time.Unix(11, 0).UTC()) {
		t.Fatalf("unexpected newest slice: %+v", newest)
	}
}

func TestStats_Snapshot(t *testing.T) {
	e := newTestExecutor(t, DefaultConfig())

	if st := e.Stats(); st.Throughput != nil {
		t.Fatalf("expected nil throughput without data, got %v", *st.Throughput)
	}

	e.tracker.RecordCompletion(time.Unix(0, 0))
	e.tracker.RecordCompletion(time.Unix(1, 0))
	st := e.Stats()
	if st.Throughput == nil || *st.Throughput != 1.0 {
		t.Fatalf("expected throughput 1.0, got %v", st.Throughput)
	}
	if st.RecentThroughput == nil || *st.RecentThroughput != 1.0 {
		t.Fatalf("expected recent throughput 1.0, got %v", st.RecentThroughput)
	}
	if st.TotalCompleted != 2 {
		t.Fatalf("expected 2 completions, got %d", st.TotalCompleted)
	}
	if st.Concurrency != 5 {
		t.Fatalf("expected concurrency 5, got %d", st.Concurrency)
	}

	for i := 0; i < 15; i++ {
		tick(e, i, 1.0)
	}
	if got := len(e.Stats().Recent); got != recentAdaptations {
		t.Fatalf("expected %d recent adaptations, got %d", recentAdaptations, got)
	}
}

func TestNew_ValidatesConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"max below min", Config{MinConcurrency: 5, MaxConcurrency: 2}},
		{"initial above max", Config{InitialConcurrency: 50, MaxConcurrency: 10}},
		{"negative min", Config{MinConcurrency: -1}},
		{"negative interval", Config{AdaptationInterval: -time.Second}},
		{"increase threshold below one", Config{IncreaseThreshold: 0.5}},
		{"decrease threshold above one", Config{DecreaseThreshold: 1.5}},
		{"backoff factor above one", Config{ErrorBackoffFactor: 1.5}},
		{"decrease factor negative", Config{DecreaseFactor: -0.1}},
		{"negative window", Config{ThroughputWindow: -1}},
		{"negative stability window", Config{StabilityWindow: -1}},
		{"negative history size", Config{HistorySize: -1}},
	}
	for _, tc := range cases {
		if _, err := New(slog.Default(), tc.cfg); err == nil {
			t.Fatalf("%s: expected config error", tc.name)
		}
	}
}

func TestNew_DefaultsApply(t *testing.T) {
	e, err := New(nil, Config{})
	if err != nil {
		t.Fatalf("executor init: %v", err)
	}
	cfg := e.Config()
	if cfg.InitialConcurrency != 1 || cfg.MinConcurrency != 1 || cfg.MaxConcurrency != 100 {
		t.Fatalf("unexpected defaulted bounds: %+v", cfg)
	}
	if cfg.ThroughputWindow != 50 || cfg.StabilityWindow != 3 || cfg.HistorySize != 500 {
		t.Fatalf("unexpected defaulted tuning: %+v", cfg)
	}
	if got := e.Concurrency(); got != 1 {
		t.Fatalf("expected initial concurrency 1, got %d", got)
	}
}
