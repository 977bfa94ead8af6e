// Package redisqueue sources tasks from a Redis list used as a work queue.
// Producers RPUSH task payloads, the queue BLPOPs them off the head.
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/flowtune/flowtune/internal/observability"
	"github.com/flowtune/flowtune/pkg/adaptive"
)

// Decode turns a raw queue payload into a runnable task.
type Decode func([]byte) (adaptive.Task, error)

type Config struct {
	Addr string
	// Queue is the list key to pop from.
	Queue string
	// OpTimeout bounds each BLPOP slice so Next notices cancellation
	// between pops. Defaults to 250ms.
	OpTimeout time.Duration
	// IdleDrain, when set, makes Next report adaptive.ErrDone once the
	// queue has stayed empty for that long. Zero means block forever.
	IdleDrain time.Duration
}

type Queue struct {
	rdb    *redis.Client
	key    string
	decode Decode
	op     time.Duration
	drain  time.Duration
}

var _ adaptive.Source = (*Queue)(nil)

func New(ctx context.Context, cfg Config, decode Decode) (*Queue, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redisqueue: address is required")
	}
	if cfg.Queue == "" {
		return nil, errors.New("redisqueue: queue key is required")
	}
	if decode == nil {
		return nil, errors.New("redisqueue: decode func is required")
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 250 * time.Millisecond
	}

	// Next runs on a single loop, so the pool stays small; the idle conns
	// cover readiness pings and seeding pushes.
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		PoolSize:     8,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redisqueue: ping: %w", err)
	}
	return &Queue{
		rdb:    rdb,
		key:    cfg.Queue,
		decode: decode,
		op:     cfg.OpTimeout,
		drain:  cfg.IdleDrain,
	}, nil
}

// Next pops the oldest payload and decodes it. Payloads that fail to
// decode come back as tasks that fail immediately, so the run's error
// policy decides whether a poison payload aborts the batch.
func (q *Queue) Next(ctx context.Context) (adaptive.Task, error) {
	var deadline time.Time
	if q.drain > 0 {
		deadline = time.Now().Add(q.drain)
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		vals, err := q.rdb.BLPop(ctx, q.op, q.key).Result()
		observability.ObserveQueuePull(time.Since(start).Seconds())

		switch {
		case err == nil:
			if len(vals) != 2 {
				return nil, fmt.Errorf("redisqueue: BLPOP reply has %d elements", len(vals))
			}
			return q.build([]byte(vals[1])), nil
		case errors.Is(err, redis.Nil):
			// Timed out on an empty queue.
			if !deadline.IsZero() && time.Now().After(deadline) {
				return nil, adaptive.ErrDone
			}
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			return nil, fmt.Errorf("redisqueue: BLPOP %q: %w", q.key, err)
		}
	}
}

func (q *Queue) build(payload []byte) adaptive.Task {
	t, err := q.decode(payload)
	if err != nil {
		return func(context.Context) (any, error) {
			return nil, fmt.Errorf("redisqueue: decode payload: %w", err)
		}
	}
	return t
}

// Push appends payloads to the tail of the queue. Used by seeding tools.
func (q *Queue) Push(ctx context.Context, payloads ...[]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	args := make([]any, len(payloads))
	for i, p := range payloads {
		args[i] = p
	}
	if err := q.rdb.RPush(ctx, q.key, args...).Err(); err != nil {
		return fmt.Errorf("redisqueue: RPUSH %q: %w", q.key, err)
	}
	return nil
}

// Len reports the number of payloads waiting in the queue.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redisqueue: LLEN %q: %w", q.key, err)
	}
	return n, nil
}

// Readiness pings the backend so /readyz reflects Redis health.
func (q *Queue) Readiness() (bool, any) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.rdb.Ping(ctx).Err(); err != nil {
		return false, err.Error()
	}
	return true, nil
}

func (q *Queue) Close() error {
	if err := q.rdb.Close(); err != nil {
		return fmt.Errorf("redisqueue: close: %w", err)
	}
	return nil
}
