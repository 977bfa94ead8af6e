package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowtune/flowtune/internal/config"
	"github.com/flowtune/flowtune/internal/health"
	"github.com/flowtune/flowtune/internal/httpclient"
	"github.com/flowtune/flowtune/internal/workload"
	"github.com/flowtune/flowtune/pkg/adaptive"
	"github.com/flowtune/flowtune/pkg/taskqueue/kafkaqueue"
	"github.com/flowtune/flowtune/pkg/taskqueue/redisqueue"
)

// buildSource selects and starts the task source for the configured driver.
// The returned cleanup is safe to call after the source drains.
func buildSource(ctx context.Context, cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) (adaptive.Source, health.Reporter, func(), error) {
	deps := workload.Deps{Logger: logger, Client: httpclient.NewOutbound()}
	decode := func(payload []byte) (adaptive.Task, error) {
		return workload.Decode(payload, deps)
	}

	switch cfg.Driver {
	case "", "synthetic":
		src := workload.NewSynthetic(workload.SynthConfig{
			Count:    cfg.Synthetic.Count,
			Mix:      cfg.Synthetic.Mix,
			SleepMin: cfg.Synthetic.SleepMin,
			SleepMax: cfg.Synthetic.SleepMax,
			FailRate: cfg.Synthetic.FailRate,
			URL:      cfg.Synthetic.URL,
			Seed:     cfg.Synthetic.Seed,
		}, deps)
		return src, nil, func() {}, nil

	case "redis":
		q, err := redisqueue.New(ctx, redisqueue.Config{
			Addr:      cfg.Redis.Addr,
			Queue:     cfg.Redis.Queue,
			OpTimeout: cfg.Redis.OpTimeout,
			IdleDrain: cfg.Redis.IdleDrain,
		}, decode)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("redis source: %w", err)
		}
		return q, health.ReadyFunc(q.Readiness), func() { _ = q.Close() }, nil

	case "kafka":
		q := kafkaqueue.New(kafkaqueue.Config{
			Brokers:       kafkaqueue.ParseBrokers(cfg.Kafka.Brokers),
			Topic:         cfg.Kafka.Topic,
			GroupID:       cfg.Kafka.GroupID,
			InitialOldest: cfg.Kafka.InitialOldest,
			Buffer:        cfg.Kafka.Buffer,
			DedupeSize:    cfg.Kafka.DedupeSize,
		}, decode, kafkaqueue.Options{Logger: logger, Register: reg})
		if err := q.Start(ctx); err != nil {
			return nil, nil, nil, fmt.Errorf("kafka source: %w", err)
		}
		return q, health.ReadyFunc(q.Readiness), q.Stop, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown driver %q (want synthetic|redis|kafka)", cfg.Driver)
	}
}
