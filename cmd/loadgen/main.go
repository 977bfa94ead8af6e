// Command loadgen seeds a task queue with synthetic specs so a runner
// consuming the redis or kafka driver has work to pull.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"

	"github.com/flowtune/flowtune/internal/config"
	"github.com/flowtune/flowtune/internal/workload"
	"github.com/flowtune/flowtune/pkg/taskqueue/kafkaqueue"
)

func main() {
	cfg := config.FromEnv()

	driver := flag.String("driver", "redis", "queue to seed (redis|kafka)")
	count := flag.Int("count", cfg.Synthetic.Count, "number of task specs to enqueue")
	mix := flag.String("mix", "", `kind weights, e.g. "sleep=80,cpu=15,fail=5" (default SYNTH_MIX)`)
	seed := flag.Uint64("seed", cfg.Synthetic.Seed, "rng seed, 0 for time-based")
	flag.Parse()

	synth := cfg.Synthetic
	synth.Count = *count
	synth.Seed = *seed
	if *mix != "" {
		synth.Mix = config.ParseWeightMap(*mix)
	}

	payloads, err := buildPayloads(synth)
	if err != nil {
		fmt.Println("generate error:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	switch strings.ToLower(strings.TrimSpace(*driver)) {
	case "redis":
		if err := seedRedis(ctx, cfg.Redis.Addr, cfg.Redis.Queue, payloads); err != nil {
			fmt.Println("redis error:", err)
			os.Exit(1)
		}
	case "kafka":
		if err := seedKafka(kafkaqueue.ParseBrokers(cfg.Kafka.Brokers), cfg.Kafka.Topic, payloads); err != nil {
			fmt.Println("kafka error:", err)
			os.Exit(1)
		}
	default:
		fmt.Printf("unknown driver %q (want redis|kafka)\n", *driver)
		os.Exit(1)
	}
	fmt.Println("seeding complete")
}

// buildPayloads generates count specs with ids unique to this seeding run.
func buildPayloads(synth config.SyntheticCfg) ([][]byte, error) {
	gen := workload.NewSpecGen(workload.SynthConfig{
		Mix:      synth.Mix,
		SleepMin: synth.SleepMin,
		SleepMax: synth.SleepMax,
		FailRate: synth.FailRate,
		URL:      synth.URL,
		Seed:     synth.Seed,
	}, nil)

	prefix := time.Now().UTC().Format("20060102T150405")
	out := make([][]byte, 0, synth.Count)
	for i := range synth.Count {
		spec := gen.Next()
		spec.ID = fmt.Sprintf("%s-%d", prefix, i+1)
		b, err := json.Marshal(spec)
		if err != nil {
			return nil, fmt.Errorf("marshal spec: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}

func seedRedis(ctx context.Context, addr, queue string, payloads [][]byte) error {
	fmt.Printf("seeding redis list %s at %s\n", queue, addr)
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 2 * time.Second,
	})
	defer func() { _ = client.Close() }()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	// Push in slices so a large seed does not become one giant command.
	const batch = 500
	for start := 0; start < len(payloads); start += batch {
		end := min(start+batch, len(payloads))
		vals := make([]any, 0, end-start)
		for _, p := range payloads[start:end] {
			vals = append(vals, p)
		}
		if err := client.RPush(ctx, queue, vals...).Err(); err != nil {
			return fmt.Errorf("redis rpush: %w", err)
		}
	}

	n, err := client.LLen(ctx, queue).Result()
	if err != nil {
		return fmt.Errorf("redis llen: %w", err)
	}
	fmt.Printf("pushed %d specs, queue length now %d\n", len(payloads), n)
	return nil
}

func seedKafka(brokers []string, topic string, payloads [][]byte) error {
	fmt.Printf("seeding kafka topic %s via %s\n", topic, strings.Join(brokers, ","))

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Version = sarama.V3_6_0_0
	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return fmt.Errorf("producer create: %w", err)
	}
	defer func() { _ = prod.Close() }()

	for i, p := range payloads {
		_, _, err := prod.SendMessage(&sarama.ProducerMessage{
			Topic: topic, Value: sarama.ByteEncoder(p),
		})
		if err != nil {
			return fmt.Errorf("send message %d: %w", i, err)
		}
	}
	fmt.Printf("produced %d specs\n", len(payloads))
	return nil
}
