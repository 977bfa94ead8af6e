package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flowtune/flowtune/internal/observability"
)

// ResultGetter is the result store surface the results endpoint reads from.
type ResultGetter interface {
	Get(ctx context.Context, id string) ([]byte, bool, error)
}

// HandleResult serves the stored payload of one finished task. Payloads are
// written as-is; the store holds marshaled result JSON.
func HandleResult(logger *slog.Logger, store ResultGetter) http.HandlerFunc {
	const route = "/results/{id}"
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		id := chi.URLParam(r, "id")
		payload, ok, err := store.Get(r.Context(), id)
		switch {
		case err != nil:
			logger.Error("result lookup", "id", id, "err", err)
			http.Error(sw, "result lookup failed", http.StatusBadGateway)
		case !ok:
			http.Error(sw, "result not found", http.StatusNotFound)
		default:
			sw.Header().Set("Content-Type", "application/json")
			if _, err := sw.Write(payload); err != nil {
				logger.Error("write result", "id", id, "err", err)
			}
		}
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}
