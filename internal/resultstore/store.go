// Package resultstore persists finished task payloads in Redis so runs can
// be inspected after the fact.
package resultstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/flowtune/flowtune/internal/observability"
)

type Config struct {
	Addr   string
	Prefix string        // key namespace, defaults to "flowtune:results"
	TTL    time.Duration // per-entry expiry, defaults to 1h
}

type Store struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "flowtune:results"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}

	// Result writes ride the progress callback, so the pool sees bursts up
	// to the executor's concurrency ceiling. Short IO timeouts keep a slow
	// Redis from stalling completions.
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		PoolSize:     64,
		MinIdleConns: 4,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	})

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveRedisOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Store{rdb: rdb, prefix: cfg.Prefix, ttl: cfg.TTL}, nil
}

// Put stores payload under the task id with the configured TTL.
func (s *Store) Put(ctx context.Context, id string, payload []byte) error {
	if id == "" {
		return errors.New("result id is required")
	}
	start := time.Now()
	err := s.rdb.Set(ctx, Key(s.prefix, id), payload, s.ttl).Err()
	observability.ObserveRedisOp("set", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SET result %q: %w", id, err)
	}
	return nil
}

// Get fetches one payload. ok is false when the id was never stored or its
// entry expired.
func (s *Store) Get(ctx context.Context, id string) ([]byte, bool, error) {
	start := time.Now()
	val, err := s.rdb.Get(ctx, Key(s.prefix, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveRedisOp("get", nil, time.Since(start).Seconds())
		observability.AddResultMisses(1)
		return nil, false, nil
	}
	observability.ObserveRedisOp("get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, false, fmt.Errorf("redis GET result %q: %w", id, err)
	}
	observability.AddResultHits(1)
	return val, true, nil
}

// MGet returns a map of found ids to their payloads. Missing ids are simply
// absent from the map.
func (s *Store) MGet(ctx context.Context, ids []string) (map[string][]byte, error) {
	start := time.Now()
	if len(ids) == 0 {
		observability.ObserveRedisOp("mget", nil, time.Since(start).Seconds())
		return map[string][]byte{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = Key(s.prefix, id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	observability.ObserveRedisOp("mget", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis MGET %d results: %w", len(ids), err)
	}

	out := make(map[string][]byte, len(vals))
	hits := 0
	for i, v := range vals {
		if v == nil {
			continue // missing id
		}
		hits++
		switch t := v.(type) {
		case string:
			out[ids[i]] = []byte(t)
		case []byte:
			out[ids[i]] = t
		default:
			out[ids[i]] = fmt.Append(nil, t)
		}
	}
	observability.AddResultHits(hits)
	observability.AddResultMisses(len(ids) - hits)
	return out, nil
}

// Delete removes stored payloads. Unknown ids are not an error.
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = Key(s.prefix, id)
	}
	start := time.Now()
	err := s.rdb.Del(ctx, keys...).Err()
	observability.ObserveRedisOp("del", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis DEL %d results: %w", len(ids), err)
	}
	return nil
}

func (s *Store) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
