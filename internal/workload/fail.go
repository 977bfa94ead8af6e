package workload

import (
	"context"
	"errors"
	"time"

	"github.com/flowtune/flowtune/pkg/adaptive"
)

func init() {
	Register("fail", newFail)
}

// newFail builds a task that always errors, optionally after sleep_ms.
// Useful for driving the error backoff path under load.
func newFail(spec Spec, _ Deps) (adaptive.Task, error) {
	msg := spec.Message
	if msg == "" {
		msg = "injected failure"
	}
	d := time.Duration(spec.SleepMS) * time.Millisecond
	return func(ctx context.Context) (any, error) {
		if d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return nil, errors.New(msg)
	}, nil
}
