package redisqueue

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowtune/flowtune/internal/observability"
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

func newMini(t *testing.T, cfg Config) (*miniredis.Miniredis, *Queue) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg.Addr = mr.Addr()
	if cfg.Queue == "" {
		cfg.Queue = "test:tasks"
	}
	if cfg.OpTimeout == 0 {
		cfg.OpTimeout = 50 * time.Millisecond
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	q, err := New(ctx, cfg, echoDecode)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return mr, q
}

func runTask(t *testing.T, task adaptive.Task) (any, error) {
	t.Helper()
	if task == nil {
		t.Fatal("nil task")
	}
	return task(context.Background())
}

func TestNew_Validates(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, Config{Queue: "q"}, echoDecode); err == nil {
		t.Fatal("expected error for missing addr")
	}
	if _, err := New(ctx, Config{Addr: "localhost:0"}, echoDecode); err == nil {
		t.Fatal("expected error for missing queue key")
	}
	if _, err := New(ctx, Config{Addr: "localhost:0", Queue: "q"}, nil); err == nil {
		t.Fatal("expected error for missing decode")
	}
}

func TestNext_PopsInOrder(t *testing.T) {
	_, q := newMini(t, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := q.Push(ctx, []byte("a"), []byte("b"), []byte("c")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if n, err := q.Len(ctx); err != nil || n != 3 {
		t.Fatalf("Len got=(%d,%v) want 3", n, err)
	}

	for _, want := range []string{"a", "b", "c"} {
		task, err := q.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		v, err := runTask(t, task)
		if err != nil || v != want {
			t.Fatalf("task got=(%v,%v) want %q", v, err, want)
		}
	}
}

func TestNext_IdleDrainReportsDone(t *testing.T) {
	_, q := newMini(t, Config{OpTimeout: 50 * time.Millisecond, IdleDrain: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := q.Next(ctx); !errors.Is(err, adaptive.ErrDone) {
		t.Fatalf("err got=%v want ErrDone", err)
	}
}

func TestNext_DecodeFailureYieldsFailingTask(t *testing.T) {
	_, q := newMini(t, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := q.Push(ctx, []byte("!poison")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	task, err := q.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if _, err := runTask(t, task); err == nil || !strings.Contains(err.Error(), "decode payload") {
		t.Fatalf("err got=%v want decode failure", err)
	}
}

func TestNext_CancelledContext(t *testing.T) {
	_, q := newMini(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err got=%v want context.Canceled", err)
	}
}

func TestReadiness_TracksBackend(t *testing.T) {
	mr, q := newMini(t, Config{})

	if ready, _ := q.Readiness(); !ready {
		t.Fatal("expected ready while backend is up")
	}

	mr.Close()
	if ready, detail := q.Readiness(); ready {
		t.Fatalf("expected not ready after backend stop, detail=%v", detail)
	}
}

func TestNext_ObservesPullDuration(t *testing.T) {
	observability.SetDriver("redis")
	_, q := newMini(t, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := q.Push(ctx, []byte("a")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if _, err := q.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `queue_pull_duration_seconds_bucket{driver="redis"`) {
		t.Fatal("missing queue_pull_duration_seconds for redis driver")
	}
}
