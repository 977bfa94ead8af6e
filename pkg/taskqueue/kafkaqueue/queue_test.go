package kafkaqueue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/flowtune/flowtune/pkg/adaptive"
)

// echoDecode yields tasks that return the raw payload. Payloads starting
// with "!" fail to decode.
func echoDecode(payload []byte) (adaptive.Task, error) {
	if strings.HasPrefix(string(payload), "!") {
		return nil, errors.New("bad payload")
	}
	p := string(payload)
	return func(context.Context) (any, error) { return p, nil }, nil
}

type fakeSession struct {
	ctx    context.Context
	claims map[string][]int32
	mu     sync.Mutex
	marked []int64
}

func (f *fakeSession) Claims() map[string][]int32               { return f.claims }
func (f *fakeSession) MemberID() string                         { return "test-member" }
func (f *fakeSession) GenerationID() int32                      { return 1 }
func (f *fakeSession) MarkOffset(string, int32, int64, string)  {}
func (f *fakeSession) Commit()                                  {}
func (f *fakeSession) ResetOffset(string, int32, int64, string) {}

func (f *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	f.mu.Lock()
	f.marked = append(f.marked, msg.Offset)
	f.mu.Unlock()
}
func (f *fakeSession) Context() context.Context {
	if f.ctx != nil {
		return f.ctx
	}
	return context.Background()
}

type fakeClaim struct {
	ch chan *sarama.ConsumerMessage
}

func (f *fakeClaim) Topic() string                            { return "t" }
func (f *fakeClaim) Partition() int32                         { return 0 }
func (f *fakeClaim) InitialOffset() int64                     { return 0 }
func (f *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (f *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return f.ch }

func msg(offset int64, payload string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Topic:     "t",
		Partition: 0,
		Offset:    offset,
		Timestamp: time.Now().UTC(),
		Value:     []byte(payload),
	}
}

func newQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()
	return New(cfg, echoDecode, Options{Register: prometheus.NewRegistry()})
}

func nextTask(t *testing.T, q *Queue) adaptive.Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	task, err := q.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	return task
}

func TestNew_Defaults(t *testing.T) {
	q := newQueue(t, Config{})
	if q.cfg.SessionTimeout != 30*time.Second || q.cfg.Heartbeat != 3*time.Second {
		t.Fatalf("timeouts got=%+v", q.cfg)
	}
	if q.cfg.Buffer != 256 {
		t.Fatalf("buffer got=%d want 256", q.cfg.Buffer)
	}
	if cap(q.tasks) != 256 {
		t.Fatalf("channel cap got=%d want 256", cap(q.tasks))
	}
}

func TestStart_Validates(t *testing.T) {
	q := New(Config{Brokers: []string{"localhost:0"}, Topic: "t", GroupID: "g"}, nil, Options{})
	if err := q.Start(context.Background()); err == nil {
		t.Fatal("expected error for missing decode")
	}

	q = newQueue(t, Config{Topic: "t", GroupID: "g"})
	if err := q.Start(context.Background()); err == nil {
		t.Fatal("expected error for missing brokers")
	}
}

func TestHandleMessage_EnqueuesDecodedTask(t *testing.T) {
	q := newQueue(t, Config{})

	if err := q.handleMessage(context.Background(), msg(1, "hello")); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}

	v, err := nextTask(t, q)(context.Background())
	if err != nil || v != "hello" {
		t.Fatalf("task got=(%v,%v) want hello", v, err)
	}
	if got := testutil.ToFloat64(q.ms.msgs.WithLabelValues("ok")); got != 1 {
		t.Fatalf("ok count got=%v want 1", got)
	}
}

func TestHandleMessage_DeduplicatesPayloads(t *testing.T) {
	q := newQueue(t, Config{})

	if err := q.handleMessage(context.Background(), msg(1, "same")); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	if err := q.handleMessage(context.Background(), msg(2, "same")); err != nil {
		t.Fatalf("replay handleMessage: %v", err)
	}

	if got := len(q.tasks); got != 1 {
		t.Fatalf("buffered tasks got=%d want 1", got)
	}
	if got := testutil.ToFloat64(q.ms.msgs.WithLabelValues("duplicate")); got != 1 {
		t.Fatalf("duplicate count got=%v want 1", got)
	}
}

func TestHandleMessage_DecodeErrorBecomesFailingTask(t *testing.T) {
	q := newQueue(t, Config{})

	if err := q.handleMessage(context.Background(), msg(1, "!poison")); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}

	if _, err := nextTask(t, q)(context.Background()); err == nil || !strings.Contains(err.Error(), "decode payload") {
		t.Fatalf("err got=%v want decode failure", err)
	}
	if got := testutil.ToFloat64(q.ms.msgs.WithLabelValues("decode_error")); got != 1 {
		t.Fatalf("decode_error count got=%v want 1", got)
	}
}

func TestConsumeClaim_ProcessesAndMarks(t *testing.T) {
	q := newQueue(t, Config{})
	h := groupHandler{q: q}

	sess := &fakeSession{claims: map[string][]int32{"t": {0, 2}}}
	if err := h.Setup(sess); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	ready, detail := q.Readiness()
	if !ready {
		t.Fatal("expected ready after setup")
	}
	if parts, ok := detail.([]int32); !ok || len(parts) != 2 {
		t.Fatalf("detail got=%v want two partitions", detail)
	}

	claim := &fakeClaim{ch: make(chan *sarama.ConsumerMessage, 3)}
	claim.ch <- msg(10, "a")
	claim.ch <- msg(11, "b")
	claim.ch <- msg(12, "c")
	close(claim.ch)

	if err := h.ConsumeClaim(sess, claim); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(sess.marked) != 3 || sess.marked[2] != 12 {
		t.Fatalf("marked got=%v want offsets 10..12", sess.marked)
	}

	for _, want := range []string{"a", "b", "c"} {
		v, err := nextTask(t, q)(context.Background())
		if err != nil || v != want {
			t.Fatalf("task got=(%v,%v) want %q", v, err, want)
		}
	}

	if err := h.Cleanup(sess); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if ready, _ := q.Readiness(); ready {
		t.Fatal("expected not ready after cleanup")
	}
}

func TestNext_DrainsBufferAfterStop(t *testing.T) {
	q := newQueue(t, Config{})

	if err := q.handleMessage(context.Background(), msg(1, "x")); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	q.Stop()
	q.Stop() // idempotent

	if v, err := nextTask(t, q)(context.Background()); err != nil || v != "x" {
		t.Fatalf("task got=(%v,%v) want x", v, err)
	}
	if _, err := q.Next(context.Background()); !errors.Is(err, adaptive.ErrDone) {
		t.Fatalf("err got=%v want ErrDone", err)
	}
}

func TestNext_CancelledContext(t *testing.T) {
	q := newQueue(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err got=%v want context.Canceled", err)
	}
}

func TestPayloadDedupe_EvictsOldest(t *testing.T) {
	d := newPayloadDedupe(2)

	if d.duplicate([]byte("a")) || d.duplicate([]byte("b")) {
		t.Fatal("fresh payloads flagged as duplicates")
	}
	if !d.duplicate([]byte("a")) {
		t.Fatal("repeat payload not flagged")
	}
	// c evicts b (a was refreshed by the Get above).
	if d.duplicate([]byte("c")) {
		t.Fatal("fresh payload flagged")
	}
	if d.duplicate([]byte("b")) {
		t.Fatal("evicted payload should read as fresh again")
	}
}

func TestParseBrokers(t *testing.T) {
	got := ParseBrokers(" k1:9092, ,k2:9092 ")
	if len(got) != 2 || got[0] != "k1:9092" || got[1] != "k2:9092" {
		t.Fatalf("got=%v", got)
	}
}
