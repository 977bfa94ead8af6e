package workload

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/flowtune/flowtune/pkg/adaptive"
)

func init() {
	Register("cpu", newCPU)
}

const defaultIterations = 10000

// newCPU builds a task that burns cycles hashing, standing in for
// compute-bound work. Cancellation is checked between hash rounds.
func newCPU(spec Spec, _ Deps) (adaptive.Task, error) {
	iters := spec.Iterations
	if iters <= 0 {
		iters = defaultIterations
	}
	return func(ctx context.Context) (any, error) {
		start := time.Now()

		var buf [8]byte
		sum := uint64(len(spec.ID))
		for i := 0; i < iters; i++ {
			if i%1024 == 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				default:
				}
			}
			binary.LittleEndian.PutUint64(buf[:], sum+uint64(i))
			sum = xxhash.Sum64(buf[:])
		}

		return Result{
			ID:      spec.ID,
			Kind:    "cpu",
			Output:  fmt.Sprintf("%016x", sum),
			Elapsed: time.Since(start),
		}, nil
	}, nil
}
