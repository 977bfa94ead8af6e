package workload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flowtune/flowtune/pkg/adaptive"
)

func init() {
	Register("http", newHTTP)
}

// newHTTP builds a task that issues a GET against spec.URL. Non-2xx
// responses count as task failures.
func newHTTP(spec Spec, deps Deps) (adaptive.Task, error) {
	if spec.URL == "" {
		return nil, errors.New("workload: http kind requires url")
	}
	client := deps.Client
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) (any, error) {
		start := time.Now()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("do request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		n, _ := io.Copy(io.Discard, resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
		}

		return Result{
			ID:      spec.ID,
			Kind:    "http",
			Output:  fmt.Sprintf("status=%d bytes=%d", resp.StatusCode, n),
			Elapsed: time.Since(start),
		}, nil
	}, nil
}
