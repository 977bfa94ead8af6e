// Command bench runs the adaptive executor against an in-process synthetic
// workload and records per-task samples, the adaptation trace, and a summary.
// No queue or network hop sits between source and executor, so the numbers
// isolate controller behavior from transport noise.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/flowtune/flowtune/internal/config"
	"github.com/flowtune/flowtune/internal/httpclient"
	"github.com/flowtune/flowtune/internal/rollup"
	"github.com/flowtune/flowtune/internal/workload"
	"github.com/flowtune/flowtune/pkg/adaptive"
)

type Config struct {
	Count           int
	Mix             string
	SleepMin        time.Duration
	SleepMax        time.Duration
	FailRate        float64
	URL             string
	Seed            uint64
	Initial         int
	MinConcurrency  int
	MaxConcurrency  int
	Interval        time.Duration
	Window          int
	Stability       int
	ContinueOnError bool
	Timeout         time.Duration
	OutputPrefix    string
	AppendTimestamp bool
	TimestampFormat string
}

func loadConfig() Config {
	var cfg Config
	flag.IntVar(&cfg.Count, "count", 2000, "Tasks to run")
	flag.StringVar(&cfg.Mix, "mix", "sleep=80,cpu=20", "Weighted kind mix, e.g. sleep=8,cpu=2")
	flag.DurationVar(&cfg.SleepMin, "sleep-min", 5*time.Millisecond, "Minimum sleep task duration")
	flag.DurationVar(&cfg.SleepMax, "sleep-max", 50*time.Millisecond, "Maximum sleep task duration")
	flag.Float64Var(&cfg.FailRate, "fail-rate", 0, "Probability any task fails (0..1)")
	flag.StringVar(&cfg.URL, "url", "", "Target for http tasks")
	flag.Uint64Var(&cfg.Seed, "seed", 0, "Workload seed (0 = time-based)")
	flag.IntVar(&cfg.Initial, "initial", 0, "Starting concurrency (0 = min)")
	flag.IntVar(&cfg.MinConcurrency, "min-conc", 1, "Concurrency floor")
	flag.IntVar(&cfg.MaxConcurrency, "max-conc", 64, "Concurrency ceiling")
	flag.DurationVar(&cfg.Interval, "interval", 500*time.Millisecond, "Adaptation interval")
	flag.IntVar(&cfg.Window, "window", 50, "Throughput window (completions retained)")
	flag.IntVar(&cfg.Stability, "stability", 3, "Same-direction signals before scaling")
	flag.BoolVar(&cfg.ContinueOnError, "continue-on-error", true, "Keep running past task failures")
	flag.DurationVar(&cfg.Timeout, "timeout", 10*time.Minute, "Hard cap on run time")
	flag.StringVar(&cfg.OutputPrefix, "out", "results/bench", "Output file prefix (JSON/CSV)")
	flag.BoolVar(&cfg.AppendTimestamp, "append-ts", true, "Suffix output files with a timestamp")
	flag.StringVar(&cfg.TimestampFormat, "ts-format", "iso", "Timestamp suffix format: iso|unix|none")
	flag.Parse()
	return cfg
}

// one row per finished task
type sample struct {
	When time.Time
	Kind string
	ID   string
	Took time.Duration
	Err  string
}

type summary struct {
	StartTime       time.Time                   `json:"start"`
	EndTime         time.Time                   `json:"end"`
	DurationSec     float64                     `json:"duration_sec"`
	TotalTasks      int64                       `json:"total"`
	SuccessCount    int64                       `json:"success"`
	ErrorCount      int64                       `json:"errors"`
	ThroughputTPS   float64                     `json:"throughput_tps"`
	P50Ms           float64                     `json:"p50_ms"`
	P95Ms           float64                     `json:"p95_ms"`
	P99Ms           float64                     `json:"p99_ms"`
	InitialConc     int                         `json:"initial_concurrency"`
	MinConc         int                         `json:"min_concurrency"`
	MaxConc         int                         `json:"max_concurrency"`
	FinalConc       int64                       `json:"final_concurrency"`
	Increases       int64                       `json:"increases"`
	Decreases       int64                       `json:"decreases"`
	AdaptIntervalMS int64                       `json:"adaptation_interval_ms"`
	Seed            uint64                      `json:"seed"`
	Mix             string                      `json:"mix"`
	Kinds           map[string]rollup.KindStats `json:"kinds,omitempty"`
}

// recorder folds samples into the CSV stream and the in-memory aggregates.
// It runs on the collector goroutine only, so no locking.
type recorder struct {
	w      *csv.Writer
	roll   *rollup.Collector
	latMs  []float64
	total  int64
	ok     int64
	failed int64
}

func newRecorder(w *csv.Writer, capacity int) *recorder {
	_ = w.Write([]string{"timestamp", "latency_ms", "kind", "id", "error"})
	return &recorder{w: w, roll: rollup.NewCollector(), latMs: make([]float64, 0, capacity)}
}

func (r *recorder) add(s sample) {
	r.total++
	ms := float64(s.Took.Microseconds()) / 1000.0
	if s.Err == "" {
		r.ok++
		r.latMs = append(r.latMs, ms)
		r.roll.Observe(s.Kind, s.Took)
	} else {
		r.failed++
		r.roll.ObserveFailure()
	}
	_ = r.w.Write([]string{
		s.When.UTC().Format(time.RFC3339Nano),
		strconv.FormatFloat(ms, 'f', 3, 64),
		s.Kind,
		s.ID,
		s.Err,
	})
}

func main() {
	cfg := loadConfig()
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPrefix), 0o750); err != nil {
		log.Fatalf("mkdir output dir: %v", err)
	}
	prefix := outPrefix(cfg)

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	// The executor logs adaptation decisions at info level; a benchmark
	// only needs to hear about real problems.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	exec, err := adaptive.New(logger, adaptive.Config{
		InitialConcurrency: cfg.Initial,
		MinConcurrency:     cfg.MinConcurrency,
		MaxConcurrency:     cfg.MaxConcurrency,
		AdaptationInterval: cfg.Interval,
		ThroughputWindow:   cfg.Window,
		StabilityWindow:    cfg.Stability,
		ContinueOnError:    cfg.ContinueOnError,
	})
	if err != nil {
		log.Fatalf("executor: %v", err)
	}

	src := workload.NewSynthetic(workload.SynthConfig{
		Count:    cfg.Count,
		Mix:      config.ParseWeightMap(cfg.Mix),
		SleepMin: cfg.SleepMin,
		SleepMax: cfg.SleepMax,
		FailRate: cfg.FailRate,
		URL:      cfg.URL,
		Seed:     seed,
	}, workload.Deps{Logger: logger, Client: httpclient.NewOutbound()})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	csvPath := prefix + "_samples.csv"
	tracePath := prefix + "_trace.csv"
	jsonPath := prefix + "_summary.json"

	csvFile, err := os.Create(filepath.Clean(csvPath))
	if err != nil {
		log.Fatalf("open csv: %v", err)
	}
	defer func() { _ = csvFile.Close() }()
	csvWriter := csv.NewWriter(csvFile)

	// Callbacks fire on worker goroutines; a buffered channel hands samples
	// to a single collector so the CSV writer and aggregates stay unshared.
	samples := make(chan sample, 4096)
	collected := make(chan *recorder, 1)
	go func() {
		rec := newRecorder(csvWriter, cfg.Count)
		for s := range samples {
			rec.add(s)
		}
		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			log.Printf("csv flush error: %v", err)
		}
		collected <- rec
	}()

	start := time.Now()
	log.Printf("bench start count=%d mix=%s conc=[%d..%d] interval=%s window=%d seed=%d",
		cfg.Count, cfg.Mix, cfg.MinConcurrency, cfg.MaxConcurrency, cfg.Interval, cfg.Window, seed)

	stream := exec.Execute(ctx, src,
		adaptive.WithProgress(func(v any) {
			res, ok := v.(workload.Result)
			if !ok {
				return
			}
			samples <- sample{When: time.Now(), Kind: res.Kind, ID: res.ID, Took: res.Elapsed}
		}),
		adaptive.WithTaskErrorHandler(func(err error) {
			samples <- sample{When: time.Now(), Err: err.Error()}
		}),
	)
	for range stream.Results() {
	}
	if err := stream.Err(); err != nil {
		log.Printf("run ended early: %v", err)
	}

	close(samples)
	rec := <-collected
	end := time.Now()
	elapsed := end.Sub(start).Seconds()

	sort.Float64s(rec.latMs)
	p50 := percentile(rec.latMs, 50)
	p95 := percentile(rec.latMs, 95)
	p99 := percentile(rec.latMs, 99)

	st := exec.Stats()
	if err := writeTrace(tracePath, exec.History(0)); err != nil {
		log.Printf("write trace: %v", err)
	}

	runSummary := summary{
		StartTime:       start.UTC(),
		EndTime:         end.UTC(),
		DurationSec:     elapsed,
		TotalTasks:      rec.total,
		SuccessCount:    rec.ok,
		ErrorCount:      rec.failed,
		ThroughputTPS:   float64(rec.total) / elapsed,
		P50Ms:           p50,
		P95Ms:           p95,
		P99Ms:           p99,
		InitialConc:     cfg.Initial,
		MinConc:         cfg.MinConcurrency,
		MaxConc:         cfg.MaxConcurrency,
		FinalConc:       st.Concurrency,
		Increases:       st.Increases,
		Decreases:       st.Decreases,
		AdaptIntervalMS: cfg.Interval.Milliseconds(),
		Seed:            seed,
		Mix:             cfg.Mix,
		Kinds:           rec.roll.Summary().Kinds,
	}
	if err := writeJSON(jsonPath, runSummary); err != nil {
		log.Printf("write summary: %v", err)
	}

	log.Printf("done: total=%d succ=%d err=%d thr=%.2f tps p50=%.1fms p95=%.1fms p99=%.1fms conc=%d (+%d/-%d)",
		rec.total, rec.ok, rec.failed, runSummary.ThroughputTPS, p50, p95, p99,
		st.Concurrency, st.Increases, st.Decreases)
	log.Printf("wrote %s, %s and %s", jsonPath, csvPath, tracePath)
}

// outPrefix appends the configured timestamp suffix so repeated runs do not
// clobber each other's files.
func outPrefix(cfg Config) string {
	if !cfg.AppendTimestamp {
		return cfg.OutputPrefix
	}
	switch strings.ToLower(cfg.TimestampFormat) {
	case "none":
		return cfg.OutputPrefix
	case "unix":
		return cfg.OutputPrefix + "_" + strconv.FormatInt(time.Now().Unix(), 10)
	default: // "iso"
		return cfg.OutputPrefix + "_" + time.Now().UTC().Format("20060102_150405Z")
	}
}

// writeTrace dumps the adaptation history as CSV, one row per controller tick.
func writeTrace(path string, hist []adaptive.Adaptation) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	_ = w.Write([]string{"time", "concurrency", "throughput"})
	for _, a := range hist {
		_ = w.Write([]string{
			a.Time.UTC().Format(time.RFC3339Nano),
			strconv.FormatInt(a.Concurrency, 10),
			strconv.FormatFloat(a.Throughput, 'f', 3, 64),
		})
	}
	w.Flush()
	return w.Error()
}

func writeJSON(path string, v any) error {
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// percentile interpolates linearly between the two sorted samples straddling
// the requested rank.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	rank := min(max(p, 0), 100) / 100 * float64(n-1)
	lo := int(rank)
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
