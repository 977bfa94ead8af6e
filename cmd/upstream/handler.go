package main

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"
)

// workHandler simulates a capacity-limited dependency: latency grows
// linearly once in-flight requests exceed the knee, and an optional error
// rate answers 503 before doing any work. Driving it with the http task
// kind shows the executor converging near the knee.
func workHandler(logger *slog.Logger, cfg Config) http.Handler {
	var inflight atomic.Int64

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inflight.Add(1)
		defer inflight.Add(-1)

		if cfg.ErrorRate > 0 && rand.Float64() < cfg.ErrorRate {
			http.Error(w, "injected failure", http.StatusServiceUnavailable)
			return
		}

		delay := cfg.BaseLatency
		if over := cur - int64(cfg.Knee); over > 0 {
			delay += time.Duration(over) * cfg.Penalty
		}

		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			logger.Debug("request cancelled", "inflight", cur)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"inflight":%d,"delay_ms":%d}`, cur, delay.Milliseconds())
	})
}
