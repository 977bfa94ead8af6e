package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowtune/flowtune/internal/adaptevents"
	"github.com/flowtune/flowtune/internal/config"
	"github.com/flowtune/flowtune/internal/logger"
	"github.com/flowtune/flowtune/internal/metrics"
	"github.com/flowtune/flowtune/internal/observability"
	"github.com/flowtune/flowtune/internal/resultstore"
	"github.com/flowtune/flowtune/internal/rollup"
	"github.com/flowtune/flowtune/internal/server"
	"github.com/flowtune/flowtune/internal/workload"
	"github.com/flowtune/flowtune/pkg/adaptive"
	"github.com/flowtune/flowtune/pkg/taskqueue/kafkaqueue"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	// overriding driver via flag
	driverFlag := flag.String("driver", "", "task source driver (synthetic|redis|kafka)")
	flag.Parse()

	cfg := config.FromEnv()
	if *driverFlag != "" {
		cfg.Driver = strings.ToLower(strings.TrimSpace(*driverFlag))
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Driver:    cfg.Driver,
		Component: "runner",
	}, os.Stdout)

	appLog := logger.NewSlog(&zl)

	observability.SetDriver(cfg.Driver)
	observability.ExposeBuildInfo(Version)

	runID := logger.NewID()
	appLog.Info("starting runner",
		"addr", cfg.Addr,
		"version", Version,
		"driver", cfg.Driver,
		"run_id", runID)

	exec, err := adaptive.New(appLog, cfg.ExecutorConfig())
	if err != nil {
		appLog.Error("executor setup failed", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithRunID(ctx, runID)

	p := metrics.New(metrics.BuildInfo{
		Version:   os.Getenv("BUILD_VERSION"),
		Revision:  os.Getenv("BUILD_REVISION"),
		Branch:    os.Getenv("BUILD_BRANCH"),
		BuildDate: os.Getenv("BUILD_DATE"),
	})
	p.Register(metrics.NewExecutorCollector(exec, cfg.Driver))
	observability.Init(p.Registerer(), true)

	src, ready, cleanup, err := buildSource(ctx, cfg, appLog, p.Registerer())
	if err != nil {
		appLog.Error("task source setup failed", "driver", cfg.Driver, "err", err)
		return 1
	}
	defer cleanup()

	var store *resultstore.Store
	if cfg.Results.Enabled {
		store, err = resultstore.New(ctx, resultstore.Config{
			Addr:   cfg.Results.Addr,
			Prefix: cfg.Results.Prefix,
			TTL:    cfg.Results.TTL,
		})
		if err != nil {
			appLog.Error("result store setup failed", "err", err)
			return 1
		}
		defer func() { _ = store.Close() }()
	}

	var pub *adaptevents.Publisher
	if cfg.Events.Enabled {
		pub, err = adaptevents.NewPublisher(
			kafkaqueue.ParseBrokers(cfg.Events.Brokers), cfg.Events.Topic, cfg.Events.Queue, appLog)
		if err != nil {
			appLog.Error("adaptation events disabled", "err", err)
		}
	}
	defer func() { _ = pub.Close() }()

	roll := rollup.NewCollector()
	opts := []adaptive.StreamOption{
		adaptive.WithProgress(func(v any) {
			res, ok := v.(workload.Result)
			if !ok {
				return
			}
			observability.IncTaskOK(cfg.Driver)
			roll.Observe(res.Kind, res.Elapsed)
			if store != nil && res.ID != "" {
				if b, err := json.Marshal(res); err == nil {
					if err := store.Put(ctx, res.ID, b); err != nil {
						appLog.Warn("result store put", "id", res.ID, "err", err)
					}
				}
			}
		}),
		adaptive.WithTaskErrorHandler(func(err error) {
			observability.IncTaskError(cfg.Driver)
			roll.ObserveFailure()
		}),
	}

	g, gctx := errgroup.WithContext(ctx)

	deps := server.Deps{
		Stats:   exec,
		Ready:   ready,
		Metrics: p.Handler(),
	}
	if store != nil {
		deps.Results = store
	}
	g.Go(func() error {
		return server.Run(gctx, cfg, appLog, deps)
	})

	stream := exec.Execute(gctx, src, opts...)

	// The ops server keeps answering /stats and /results after a bounded
	// source drains; shutdown stays on the signal.
	g.Go(func() error {
		for range stream.Results() {
		}
		logSummary(appLog, exec, roll, runID)
		if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
			appLog.Error("execution failed", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		pollStats(gctx, appLog, exec, pub, cfg.StatsInterval, cfg.Driver, runID)
		return nil
	})

	if err := g.Wait(); err != nil {
		appLog.Error("runner exited with error", "err", err)
		return 1
	}
	appLog.Info("runner stopped")
	return 0
}

// pollStats logs a periodic snapshot and publishes an adaptation event
// whenever the concurrency level moved since the previous tick.
func pollStats(ctx context.Context, log *slog.Logger, exec *adaptive.Executor, pub *adaptevents.Publisher, interval time.Duration, driver, runID string) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	last := int64(exec.Concurrency())
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st := exec.Stats()
			attrs := []slog.Attr{
				slog.Int64("concurrency", st.Concurrency),
				slog.Uint64("completed", st.TotalCompleted),
				slog.Int64("failures", st.TotalFailures),
				slog.Int64("increases", st.Increases),
				slog.Int64("decreases", st.Decreases),
			}
			if st.Throughput != nil {
				attrs = append(attrs, slog.Float64("throughput", *st.Throughput))
			}
			// ctx carries the run id, so the line picks it up in the bridge.
			log.LogAttrs(ctx, slog.LevelInfo, "executor stats", attrs...)

			if st.Concurrency != last {
				dir := "up"
				if st.Concurrency < last {
					dir = "down"
				}
				ev := adaptevents.Event{
					RunID:       runID,
					Driver:      driver,
					Concurrency: int(st.Concurrency),
					Direction:   dir,
					TS:          time.Now().UTC(),
				}
				if st.Throughput != nil {
					ev.Throughput = *st.Throughput
				}
				pub.Publish(ev)
				last = st.Concurrency
			}
		}
	}
}

func logSummary(log *slog.Logger, exec *adaptive.Executor, roll *rollup.Collector, runID string) {
	sum := roll.Summary()
	st := exec.Stats()
	log.Info("run complete",
		"run_id", runID,
		"observed", sum.Observed,
		"failures", sum.Failures,
		"p50_ms", sum.Quantile(0.50),
		"p95_ms", sum.Quantile(0.95),
		"final_concurrency", st.Concurrency,
		"increases", st.Increases,
		"decreases", st.Decreases,
	)
}
