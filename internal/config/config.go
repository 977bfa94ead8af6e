package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/flowtune/flowtune/pkg/adaptive"
)

type ExecutorCfg struct {
	Initial            int
	Min                int
	Max                int
	AdaptationInterval time.Duration
	ThroughputWindow   int
	IncreaseThreshold  float64
	DecreaseThreshold  float64
	StabilityWindow    int
	ErrorBackoff       float64
	DecreaseFactor     float64
	HistorySize        int
	ContinueOnError    bool
}

type RedisCfg struct {
	Addr      string
	Queue     string
	OpTimeout time.Duration
	IdleDrain time.Duration
}

type KafkaCfg struct {
	Brokers       string
	Topic         string
	GroupID       string
	InitialOldest bool
	Buffer        int
	DedupeSize    int
}

type EventsCfg struct {
	Enabled bool
	Brokers string
	Topic   string
	Queue   int
}

type ResultsCfg struct {
	Enabled bool
	Addr    string
	Prefix  string
	TTL     time.Duration
}

type SyntheticCfg struct {
	Count    int
	Mix      map[string]int
	SleepMin time.Duration
	SleepMax time.Duration
	FailRate float64
	URL      string
	Seed     uint64
}

type Config struct {
	Addr          string
	LogLevel      string
	LogConsole    bool
	Driver        string
	StatsInterval time.Duration

	Executor  ExecutorCfg
	Redis     RedisCfg
	Kafka     KafkaCfg
	Events    EventsCfg
	Results   ResultsCfg
	Synthetic SyntheticCfg
}

func FromEnv() Config {
	minC := envInt("MIN_CONCURRENCY", 1)
	maxC := envInt("MAX_CONCURRENCY", 100)

	if minC < 1 {
		minC = 1
	}
	if maxC < minC {
		minC, maxC = 1, 100
	}
	initial := envInt("INITIAL_CONCURRENCY", 5)
	if initial < minC {
		initial = minC
	}
	if initial > maxC {
		initial = maxC
	}

	brokers := envStr("KAFKA_BROKERS", "localhost:9092")

	return Config{
		Addr:          envStr("ADDR", ":8090"),
		LogLevel:      envStr("LOG_LEVEL", "info"),
		LogConsole:    envBool("LOG_CONSOLE", false),
		Driver:        strings.ToLower(envStr("DRIVER", "synthetic")),
		StatsInterval: envDuration("STATS_INTERVAL", 10*time.Second),
		Executor: ExecutorCfg{
			Initial:            initial,
			Min:                minC,
			Max:                maxC,
			AdaptationInterval: envDuration("ADAPTATION_INTERVAL", 5*time.Second),
			ThroughputWindow:   envInt("THROUGHPUT_WINDOW", 50),
			IncreaseThreshold:  envFloat("INCREASE_THRESHOLD", 1.1),
			DecreaseThreshold:  envFloat("DECREASE_THRESHOLD", 0.9),
			StabilityWindow:    envInt("STABILITY_WINDOW", 3),
			ErrorBackoff:       envFloat("ERROR_BACKOFF_FACTOR", 0.7),
			DecreaseFactor:     envFloat("DECREASE_FACTOR", 0.8),
			HistorySize:        envInt("HISTORY_SIZE", 500),
			ContinueOnError:    envBool("CONTINUE_ON_ERROR", false),
		},
		Redis: RedisCfg{
			Addr:      envStr("REDIS_ADDR", "localhost:6379"),
			Queue:     envStr("REDIS_QUEUE", "flowtune:tasks"),
			OpTimeout: envDuration("REDIS_OP_TIMEOUT", 250*time.Millisecond),
			IdleDrain: envDuration("REDIS_IDLE_DRAIN", 0),
		},
		Kafka: KafkaCfg{
			Brokers:       brokers,
			Topic:         envStr("KAFKA_TOPIC", "flowtune-tasks"),
			GroupID:       envStr("KAFKA_GROUP_ID", "flowtune-runner"),
			InitialOldest: envBool("KAFKA_INITIAL_OLDEST", true),
			Buffer:        envInt("KAFKA_BUFFER", 256),
			DedupeSize:    envInt("KAFKA_DEDUPE_SIZE", 8192),
		},
		Events: EventsCfg{
			Enabled: envBool("EVENTS_ENABLED", false),
			Brokers: envStr("EVENTS_BROKERS", brokers),
			Topic:   envStr("EVENTS_TOPIC", "flowtune-adaptations"),
			Queue:   envInt("EVENTS_QUEUE", 1024),
		},
		Results: ResultsCfg{
			Enabled: envBool("RESULTS_ENABLED", false),
			Addr:    envStr("RESULTS_REDIS_ADDR", envStr("REDIS_ADDR", "localhost:6379")),
			Prefix:  envStr("RESULTS_PREFIX", "flowtune:results"),
			TTL:     envDuration("RESULTS_TTL", time.Hour),
		},
		Synthetic: SyntheticCfg{
			Count:    envInt("SYNTH_COUNT", 500),
			Mix:      ParseWeightMap(envStr("SYNTH_MIX", "sleep=80,cpu=15,fail=5")),
			SleepMin: envDuration("SYNTH_SLEEP_MIN", 5*time.Millisecond),
			SleepMax: envDuration("SYNTH_SLEEP_MAX", 50*time.Millisecond),
			FailRate: envFloat("SYNTH_FAIL_RATE", 0),
			URL:      envStr("SYNTH_URL", ""),
			Seed:     envUint64("SYNTH_SEED", 0),
		},
	}
}

// ExecutorConfig maps the env knobs onto the executor's own config type.
func (c Config) ExecutorConfig() adaptive.Config {
	return adaptive.Config{
		InitialConcurrency: c.Executor.Initial,
		MinConcurrency:     c.Executor.Min,
		MaxConcurrency:     c.Executor.Max,
		AdaptationInterval: c.Executor.AdaptationInterval,
		ThroughputWindow:   c.Executor.ThroughputWindow,
		IncreaseThreshold:  c.Executor.IncreaseThreshold,
		DecreaseThreshold:  c.Executor.DecreaseThreshold,
		StabilityWindow:    c.Executor.StabilityWindow,
		ErrorBackoffFactor: c.Executor.ErrorBackoff,
		DecreaseFactor:     c.Executor.DecreaseFactor,
		HistorySize:        c.Executor.HistorySize,
		ContinueOnError:    c.Executor.ContinueOnError,
	}
}

// lookup reports a set, non-blank env value. Values are trimmed so a
// stray space in a compose file does not flip a knob to its default.
func lookup(k string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(k))
	return v, v != ""
}

func envStr(k, def string) string {
	if v, ok := lookup(k); ok {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v, ok := lookup(k); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envUint64(k string, def uint64) uint64 {
	if v, ok := lookup(k); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envBool(k string, def bool) bool {
	v, ok := lookup(k)
	if !ok {
		return def
	}
	v = strings.ToLower(v)
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	switch v {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	}
	return def
}

func envFloat(k string, def float64) float64 {
	if v, ok := lookup(k); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(k string, def time.Duration) time.Duration {
	if v, ok := lookup(k); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// ParseWeightMap parses "sleep=80,cpu=15,fail=5" into a weight map.
// Entries without a positive integer weight are dropped.
func ParseWeightMap(s string) map[string]int {
	out := map[string]int{}
	for pair := range strings.SplitSeq(s, ",") {
		name, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil || name == "" || n <= 0 {
			continue
		}
		out[name] = n
	}
	return out
}
