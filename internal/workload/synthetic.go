package workload

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/flowtune/flowtune/pkg/adaptive"
)

// SynthConfig shapes the generated task mix.
type SynthConfig struct {
	Count    int
	Mix      map[string]int
	SleepMin time.Duration
	SleepMax time.Duration
	FailRate float64
	URL      string
	Seed     uint64
}

// SpecGen produces synthetic task specs from a weighted kind mix. With the
// same seed it produces the same sequence. Queue seeders use it directly;
// Synthetic wraps it as an executor source.
type SpecGen struct {
	mu    sync.Mutex
	rng   *rand.Rand
	picks []string
	cfg   SynthConfig
	seq   int
}

func NewSpecGen(cfg SynthConfig, logger *slog.Logger) *SpecGen {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SleepMin <= 0 {
		cfg.SleepMin = 5 * time.Millisecond
	}
	if cfg.SleepMax < cfg.SleepMin {
		cfg.SleepMax = cfg.SleepMin
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &SpecGen{
		rng:   rand.New(rand.NewPCG(seed, seed)),
		picks: expandMix(cfg, logger),
		cfg:   cfg,
	}
}

// expandMix turns the weight map into a flat pick table, dropping kinds
// that cannot run. Sorted so identical seeds yield identical sequences.
func expandMix(cfg SynthConfig, logger *slog.Logger) []string {
	kinds := make([]string, 0, len(cfg.Mix))
	for k := range cfg.Mix {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	var picks []string
	for _, raw := range kinds {
		kind := strings.ToLower(strings.TrimSpace(raw))
		if _, ok := reg[kind]; !ok {
			logger.Warn("unknown workload kind in mix, skipping", "kind", raw)
			continue
		}
		if kind == "http" && cfg.URL == "" {
			logger.Warn("http kind in mix without a url, skipping")
			continue
		}
		for i := 0; i < cfg.Mix[raw]; i++ {
			picks = append(picks, kind)
		}
	}
	if len(picks) == 0 {
		picks = []string{"sleep"}
	}
	return picks
}

// Next returns the following spec in the sequence.
func (g *SpecGen) Next() Spec {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	kind := g.picks[g.rng.IntN(len(g.picks))]
	if g.cfg.FailRate > 0 && g.rng.Float64() < g.cfg.FailRate {
		kind = "fail"
	}

	spec := Spec{ID: fmt.Sprintf("synth-%d", g.seq), Kind: kind}
	switch kind {
	case "sleep", "fail":
		spec.SleepMS = g.sleepMS()
	case "cpu":
		spec.Iterations = 2000 + g.rng.IntN(20000)
	case "http":
		spec.URL = g.cfg.URL
	}
	return spec
}

func (g *SpecGen) sleepMS() int {
	minMS := int(g.cfg.SleepMin / time.Millisecond)
	maxMS := int(g.cfg.SleepMax / time.Millisecond)
	if maxMS <= minMS {
		return minMS
	}
	return minMS + g.rng.IntN(maxMS-minMS+1)
}

// Synthetic generates a bounded run of tasks from a weighted kind mix.
type Synthetic struct {
	mu        sync.Mutex
	gen       *SpecGen
	remaining int
	deps      Deps
}

var _ adaptive.Source = (*Synthetic)(nil)

func NewSynthetic(cfg SynthConfig, deps Deps) *Synthetic {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.Count <= 0 {
		cfg.Count = 500
	}
	return &Synthetic{
		gen:       NewSpecGen(cfg, deps.Logger),
		remaining: cfg.Count,
		deps:      deps,
	}
}

func (s *Synthetic) Next(_ context.Context) (adaptive.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.remaining <= 0 {
		return nil, adaptive.ErrDone
	}
	s.remaining--

	t, err := Build(s.gen.Next(), s.deps)
	if err != nil {
		return nil, fmt.Errorf("workload: build synthetic spec: %w", err)
	}
	return t, nil
}
