package main

import (
	"flag"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr        string
	LogLevel    string
	BaseLatency time.Duration
	Knee        int
	Penalty     time.Duration
	ErrorRate   float64
}

// LoadConfig reads env defaults and lets flags override them.
func LoadConfig() Config {
	var cfg Config
	cfg.Addr = envOr("UPSTREAM_ADDR", ":8091")
	cfg.LogLevel = envOr("LOG_LEVEL", "info")
	cfg.BaseLatency = envDuration("UPSTREAM_BASE_LATENCY", 20*time.Millisecond)
	cfg.Knee = envInt("UPSTREAM_KNEE", 16)
	cfg.Penalty = envDuration("UPSTREAM_PENALTY", 15*time.Millisecond)
	cfg.ErrorRate = envFloat("UPSTREAM_ERROR_RATE", 0)

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address for the simulated upstream")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	flag.DurationVar(&cfg.BaseLatency, "base-latency", cfg.BaseLatency, "response latency with no contention")
	flag.IntVar(&cfg.Knee, "knee", cfg.Knee, "in-flight requests absorbed before slowing down")
	flag.DurationVar(&cfg.Penalty, "penalty", cfg.Penalty, "extra latency per in-flight request past the knee")
	flag.Float64Var(&cfg.ErrorRate, "error-rate", cfg.ErrorRate, "fraction of requests answered with 503")
	flag.Parse()
	return cfg
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
