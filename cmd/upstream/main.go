// Command upstream is a demo dependency with a capacity knee, used to
// exercise the runner's http workload against realistic backpressure.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := LoadConfig()
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	log.Info("starting upstream",
		"addr", cfg.Addr,
		"version", Version,
		"base_latency", cfg.BaseLatency,
		"knee", cfg.Knee,
		"penalty", cfg.Penalty,
		"error_rate", cfg.ErrorRate)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /work", workHandler(log, cfg))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Writes stay open long enough for the simulated stall past the
		// knee to play out instead of being cut off by the server.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.Info("http listen", "addr", cfg.Addr)
		errc <- srv.ListenAndServe()
	}()

	code := 0
	select {
	case <-ctx.Done():
		log.Info("shutting down on signal")
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen failed", "err", err)
			code = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("upstream stopped")
	return code
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
