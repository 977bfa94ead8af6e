package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/flowtune/flowtune/internal/observability"
	"github.com/flowtune/flowtune/pkg/adaptive"
)

// StatsSource is the executor surface the stats endpoint reads from.
type StatsSource interface {
	Stats() adaptive.Stats
	History(n int) []adaptive.Adaptation
}

// HandleStats serves an executor snapshot. The optional history query
// parameter attaches the newest n adaptation records ("all" for everything
// retained) on top of the snapshot's recent tail.
func HandleStats(logger *slog.Logger, src StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		n, err := parseHistoryParam(r)
		if err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/stats", http.StatusBadRequest, time.Since(start).Seconds())
			return
		}

		type payload struct {
			adaptive.Stats
			History []adaptive.Adaptation `json:"history,omitempty"`
		}
		out := payload{Stats: src.Stats()}
		if n != 0 {
			out.History = src.History(n)
		}

		sw.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(sw).Encode(out); err != nil {
			logger.Error("encode stats", "err", err)
		}
		observability.ObserveHTTP(r.Method, "/stats", sw.code, time.Since(start).Seconds())
	}
}

// parseHistoryParam maps the history query parameter to a record count:
// 0 when absent, -1 for "all", otherwise the requested positive count.
func parseHistoryParam(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("history"))
	if raw == "" {
		return 0, nil
	}
	if strings.EqualFold(raw, "all") {
		return -1, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid history parameter: %w", err)
	}
	if n <= 0 {
		return 0, errors.New("history parameter must be positive")
	}
	return n, nil
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
