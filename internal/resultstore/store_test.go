package resultstore

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

// creates a store connected to miniredis for testing
func newMini(t *testing.T, cfg Config) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	cfg.Addr = mr.Addr()
	st, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return mr, st
}

func TestPutGetMGetDelete_HappyPath(t *testing.T) {
	_, st := newMini(t, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := st.Put(ctx, "t1", []byte(`{"kind":"sleep"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := st.Put(ctx, "t2", []byte(`{"kind":"cpu"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := st.Get(ctx, "t1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(got) != `{"kind":"sleep"}` {
		t.Fatalf("unexpected payload: %s", got)
	}

	if _, ok, err := st.Get(ctx, "nope"); err != nil || ok {
		t.Fatalf("missing id: ok=%v err=%v", ok, err)
	}

	all, err := st.MGet(ctx, []string{"t1", "t2", "missing"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("MGet size=%d want 2", len(all))
	}
	if string(all["t2"]) != `{"kind":"cpu"}` {
		t.Fatalf("unexpected values: %+v", all)
	}

	if err := st.Delete(ctx, "t1", "t2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := st.Get(ctx, "t1"); ok {
		t.Fatalf("expected t1 gone after delete")
	}
}

func TestPut_RequiresID(t *testing.T) {
	_, st := newMini(t, Config{})
	if err := st.Put(context.Background(), "", []byte("x")); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestContextCancellation_IsRespected(t *testing.T) {
	_, st := newMini(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := st.Put(ctx, "k", []byte("v")); err == nil {
		t.Fatalf("expected error on Put with canceled context")
	}
	if _, _, err := st.Get(ctx, "k"); err == nil {
		t.Fatalf("expected error on Get with canceled context")
	}
	if _, err := st.MGet(ctx, []string{"k"}); err == nil {
		t.Fatalf("expected error on MGet with canceled context")
	}
	if err := st.Delete(ctx, "k"); err == nil {
		t.Fatalf("expected error on Delete with canceled context")
	}
}

func TestTTLExpiry_GetMissesAfterExpiry(t *testing.T) {
	mr, st := newMini(t, Config{TTL: 2 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := st.Put(ctx, "ttl-task", []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok, err := st.Get(ctx, "ttl-task"); err != nil || !ok {
		t.Fatalf("pre expiry: ok=%v err=%v", ok, err)
	}

	mr.FastForward(3 * time.Second)

	if _, ok, err := st.Get(ctx, "ttl-task"); err != nil || ok {
		t.Fatalf("expected ttl-task absent after expiry: ok=%v err=%v", ok, err)
	}
}

func TestNew_RequiresAddr(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without redis address")
	}
}
