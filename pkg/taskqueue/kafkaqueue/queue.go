// Package kafkaqueue sources tasks from a Kafka topic through a consumer
// group. Message payloads are task specs; a bounded channel sits between
// the group handler and Next so consumption keeps pace with execution.
package kafkaqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowtune/flowtune/internal/observability"
	"github.com/flowtune/flowtune/pkg/adaptive"
)

// Decode turns a raw message payload into a runnable task.
type Decode func([]byte) (adaptive.Task, error)

type Config struct {
	Brokers []string
	Topic   string
	GroupID string

	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	InitialOldest    bool

	// Buffer caps how many decoded tasks wait between the consumer group
	// and Next. Defaults to 256.
	Buffer int
	// DedupeSize caps the seen-payload LRU. Defaults to 8192.
	DedupeSize int
}

type Options struct {
	Logger   *slog.Logger
	Register prometheus.Registerer
}

type Queue struct {
	log    *slog.Logger
	cfg    Config
	decode Decode
	ms     *queueMetrics
	seen   *payloadDedupe
	tasks  chan adaptive.Task

	assignMu sync.Mutex
	active   bool
	assign   []int32

	wg       sync.WaitGroup
	cancel   context.CancelFunc
	stopOnce sync.Once
}

var _ adaptive.Source = (*Queue)(nil)

func New(cfg Config, decode Decode, opts Options) *Queue {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 30 * time.Second
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 3 * time.Second
	}
	if cfg.RebalanceTimeout <= 0 {
		cfg.RebalanceTimeout = 30 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	return &Queue{
		log:    opts.Logger,
		cfg:    cfg,
		decode: decode,
		ms:     newQueueMetrics(opts.Register),
		seen:   newPayloadDedupe(cfg.DedupeSize),
		tasks:  make(chan adaptive.Task, cfg.Buffer),
	}
}

func (q *Queue) Start(ctx context.Context) error {
	if q.decode == nil {
		return errors.New("kafkaqueue: decode func is required")
	}
	if len(q.cfg.Brokers) == 0 {
		return errors.New("kafkaqueue: brokers are required")
	}
	if q.cfg.Topic == "" || q.cfg.GroupID == "" {
		return errors.New("kafkaqueue: topic and group id are required")
	}

	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	cfg.Consumer.Group.Session.Timeout = q.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = q.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = q.cfg.RebalanceTimeout
	if q.cfg.InitialOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(q.cfg.Brokers, q.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("kafkaqueue: consumer group: %w", err)
	}

	h := groupHandler{q: q}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				q.log.Error("kafka consumer group close", "err", err)
			}
		}()

		for {
			if err := group.Consume(ctx, []string{q.cfg.Topic}, h); err != nil {
				q.log.Error("kafka consume error", "err", err)
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for err := range group.Errors() {
			q.log.Error("kafka group error", "err", err)
		}
	}()

	q.log.Info("kafka task queue started",
		"topic", q.cfg.Topic, "group", q.cfg.GroupID, "brokers", q.cfg.Brokers)
	return nil
}

// Stop shuts down consumption, waits for in-flight handlers, and closes
// the task channel so Next drains what is buffered and then reports done.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		if q.cancel != nil {
			q.cancel()
		}
		q.wg.Wait()
		close(q.tasks)
		q.log.Info("kafka task queue stopped")
	})
}

// Next hands out the oldest buffered task. After Stop it drains the
// remaining buffer and then reports adaptive.ErrDone.
func (q *Queue) Next(ctx context.Context) (adaptive.Task, error) {
	start := time.Now()
	select {
	case t, ok := <-q.tasks:
		observability.ObserveQueuePull(time.Since(start).Seconds())
		if !ok {
			return nil, adaptive.ErrDone
		}
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue) setAssignments(claims map[string][]int32) {
	var parts []int32
	for _, ps := range claims {
		parts = append(parts, ps...)
	}
	q.assignMu.Lock()
	q.active = true
	q.assign = parts
	q.assignMu.Unlock()
}

func (q *Queue) clearAssignments() {
	q.assignMu.Lock()
	q.active = false
	q.assign = nil
	q.assignMu.Unlock()
}

// Readiness reports whether the consumer group holds a live session, with
// the assigned partitions as detail.
func (q *Queue) Readiness() (bool, any) {
	q.assignMu.Lock()
	defer q.assignMu.Unlock()
	if !q.active {
		return false, nil
	}
	return true, append([]int32(nil), q.assign...)
}

func (q *Queue) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	if !msg.Timestamp.IsZero() {
		q.ms.lag.Set(time.Since(msg.Timestamp).Seconds())
	}

	if q.seen.duplicate(msg.Value) {
		q.ms.msgs.WithLabelValues("duplicate").Inc()
		return nil
	}

	task, result := q.build(msg.Value)
	select {
	case q.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	}
	q.ms.msgs.WithLabelValues(result).Inc()
	q.ms.handle.Observe(time.Since(start).Seconds())
	return nil
}

// build decodes a payload. Poison payloads become tasks that fail
// immediately, so the run's error policy decides what happens to them.
func (q *Queue) build(payload []byte) (adaptive.Task, string) {
	t, err := q.decode(payload)
	if err != nil {
		return func(context.Context) (any, error) {
			return nil, fmt.Errorf("kafkaqueue: decode payload: %w", err)
		}, "decode_error"
	}
	return t, "ok"
}

// groupHandler adapts a Queue to sarama's ConsumerGroupHandler.
type groupHandler struct{ q *Queue }

func (h groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.q.setAssignments(sess.Claims())
	return nil
}

func (h groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.q.clearAssignments()
	return nil
}

func (h groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for m := range claim.Messages() {
		if err := h.q.handleMessage(sess.Context(), m); err != nil {
			return err
		}
		sess.MarkMessage(m, "")
	}
	return nil
}

// ParseBrokers splits a comma separated broker list.
func ParseBrokers(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
