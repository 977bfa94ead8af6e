// Package adaptive executes streams of tasks at a concurrency level that is
// tuned online from observed throughput.
package adaptive

import (
	"context"
	"errors"
)

// Task is a unit of work. It receives the execution context and should
// return promptly once that context is cancelled. A nil result with a nil
// error is valid and is simply not yielded on the stream.
type Task func(ctx context.Context) (any, error)

// Source hands out tasks on demand. Next returns ErrDone once exhausted;
// any other error aborts the execution.
type Source interface {
	Next(ctx context.Context) (Task, error)
}

var (
	// ErrDone is returned by a Source when no tasks remain.
	ErrDone = errors.New("adaptive: task source exhausted")

	// ErrBusy is returned on a Stream when Execute is called while a
	// previous execution on the same Executor is still running.
	ErrBusy = errors.New("adaptive: execution already in progress")
)
