// Package server wires the ops HTTP surface: health, readiness, stats and metrics.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowtune/flowtune/internal/config"
	"github.com/flowtune/flowtune/internal/health"
	"github.com/flowtune/flowtune/internal/middleware"
)

type Deps struct {
	Stats   StatsSource
	Ready   health.Reporter
	Metrics http.Handler
	Results ResultGetter
}

// Run serves the ops endpoints until ctx is canceled or the listener fails.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, deps Deps) error {
	if deps.Ready == nil {
		deps.Ready = health.ReadyFunc(func() (bool, any) { return true, nil })
	}
	if deps.Metrics == nil {
		deps.Metrics = promhttp.Handler()
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router(logger, deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      time.Minute,
		IdleTimeout:       time.Minute,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", "addr", cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// router assembles the chi mux with the ops routes and middlewares.
func router(logger *slog.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(deps.Ready))
	r.Get("/metrics", deps.Metrics.ServeHTTP)
	if deps.Stats != nil {
		r.Get("/stats", HandleStats(logger, deps.Stats))
	}
	if deps.Results != nil {
		r.Get("/results/{id}", HandleResult(logger, deps.Results))
	}
	return r
}
