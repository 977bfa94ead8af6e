package workload

import (
	"context"
	"time"

	"github.com/flowtune/flowtune/pkg/adaptive"
)

func init() {
	Register("sleep", newSleep)
}

// newSleep builds a task that idles for sleep_ms, standing in for
// latency-bound work.
func newSleep(spec Spec, _ Deps) (adaptive.Task, error) {
	d := time.Duration(spec.SleepMS) * time.Millisecond
	return func(ctx context.Context) (any, error) {
		start := time.Now()
		if d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return Result{
			ID:      spec.ID,
			Kind:    "sleep",
			Elapsed: time.Since(start),
		}, nil
	}, nil
}
