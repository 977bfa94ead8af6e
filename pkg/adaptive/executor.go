package adaptive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowtune/flowtune/pkg/throughput"
)

// Executor runs tasks pulled from a Source at a bounded parallelism level
// and retunes that level in the background from observed throughput. An
// Executor is reusable but runs one execution at a time; its tracker,
// counters and adaptation history carry over between executions.
type Executor struct {
	log *slog.Logger
	cfg Config

	tracker *throughput.Tracker

	concurrency   atomic.Int64
	totalTasks    atomic.Int64
	totalFailures atomic.Int64
	recentErrors  atomic.Int64
	increases     atomic.Int64
	decreases     atomic.Int64

	// trend state, owned by the adaptation loop
	lastThroughput float64
	haveLast       bool
	upStreak       int
	downStreak     int

	histMu  sync.Mutex
	history []Adaptation

	running atomic.Bool

	now func() time.Time // for tests
}

func New(logger *slog.Logger, cfg Config) (*Executor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	e := &Executor{
		log:     logger,
		cfg:     cfg,
		tracker: throughput.New(cfg.ThroughputWindow),
		now:     time.Now,
	}
	e.concurrency.Store(int64(cfg.InitialConcurrency))
	return e, nil
}

// Config returns the effective configuration after defaulting.
func (e *Executor) Config() Config {
	return e.cfg
}

// Concurrency reports the current target parallelism.
func (e *Executor) Concurrency() int {
	return int(e.concurrency.Load())
}

// Execute drains src and returns a Stream of results in completion order.
// The stream must be consumed (or ctx cancelled) for the execution to make
// progress. Cancelling ctx stops admission, cancels in-flight tasks and
// closes the stream once they have returned.
//
// Only one execution may run at a time; a concurrent call returns an
// already-closed stream carrying ErrBusy.
func (e *Executor) Execute(ctx context.Context, src Source, opts ...StreamOption) *Stream {
	s := newStream()
	var so streamOptions
	for _, o := range opts {
		if o != nil {
			o(&so)
		}
	}
	if src == nil {
		s.fail(errors.New("adaptive: nil source"))
		close(s.results)
		return s
	}
	if !e.running.CompareAndSwap(false, true) {
		s.fail(ErrBusy)
		close(s.results)
		return s
	}
	go e.run(ctx, src, s, so)
	return s
}

type outcome struct {
	value any
	err   error
}

// run drives one execution: keep admissions filled to the current target,
// consume completions in finish order, refill, and repeat until the source
// is drained and nothing is left in flight.
func (e *Executor) run(ctx context.Context, src Source, s *Stream, so streamOptions) {
	runCtx, cancel := context.WithCancel(ctx)

	var adaptDone sync.WaitGroup
	adaptDone.Add(1)
	go func() {
		defer adaptDone.Done()
		e.adaptLoop(runCtx)
	}()

	// buffered to MaxConcurrency so task goroutines can always deliver
	// their outcome, even after the loop below has bailed out
	completions := make(chan outcome, e.cfg.MaxConcurrency)
	var inflight sync.WaitGroup

	defer func() {
		cancel()
		inflight.Wait()
		adaptDone.Wait()
		e.running.Store(false)
		close(s.results)
	}()

	inFlight := 0
	drained := false

	launch := func(t Task) {
		e.totalTasks.Add(1)
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			v, err := t(runCtx)
			completions <- outcome{value: v, err: err}
		}()
	}

	fill := func() error {
		for !drained && inFlight < int(e.concurrency.Load()) {
			t, err := src.Next(runCtx)
			if err != nil {
				if errors.Is(err, ErrDone) {
					drained = true
					return nil
				}
				return fmt.Errorf("adaptive: pull task: %w", err)
			}
			if t == nil {
				return errors.New("adaptive: source returned nil task")
			}
			launch(t)
			inFlight++
		}
		return nil
	}

	if err := fill(); err != nil {
		s.fail(err)
		return
	}

	for inFlight > 0 {
		var out outcome
		select {
		case <-runCtx.Done():
			s.fail(runCtx.Err())
			return
		case out = <-completions:
		}
		inFlight--
		if err := e.consume(runCtx, out, s, so); err != nil {
			s.fail(err)
			return
		}

		// pick up whatever else finished in the meantime before refilling
	ready:
		for {
			select {
			case out = <-completions:
				inFlight--
				if err := e.consume(runCtx, out, s, so); err != nil {
					s.fail(err)
					return
				}
			default:
				break ready
			}
		}

		if err := fill(); err != nil {
			s.fail(err)
			return
		}
	}
}

// consume handles a single task outcome: accounting, callbacks and the
// yield on the stream. A non-nil return terminates the execution.
func (e *Executor) consume(ctx context.Context, out outcome, s *Stream, so streamOptions) error {
	if out.err != nil {
		// counted before any propagation so the next adaptation tick
		// still observes the failure
		e.recentErrors.Add(1)
		e.totalFailures.Add(1)
		if so.onTaskError != nil {
			so.onTaskError(out.err)
		}
		if e.cfg.ContinueOnError {
			e.log.Warn("task failed, continuing", "err", out.err)
			return nil
		}
		return out.err
	}

	e.tracker.RecordCompletion(e.now())
	if out.value == nil {
		return nil
	}
	if so.progress != nil {
		so.progress(out.value)
	}
	select {
	case s.results <- out.value:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) adaptLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.AdaptationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.adaptOnce()
		}
	}
}

// adaptOnce runs one controller tick. Ticks without a usable rate estimate
// leave concurrency and trend state untouched.
func (e *Executor) adaptOnce() {
	tp, ok := e.tracker.Throughput()
	if !ok {
		return
	}
	e.applyMeasurement(e.now(), tp)
}
