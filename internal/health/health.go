package health

import (
	"encoding/json"
	"net/http"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// Reporter is implemented by task sources that only become usable after
// some setup, like a consumer group waiting for partition assignment.
// detail is driver specific and shows up in the readiness payload.
type Reporter interface {
	Readiness() (ready bool, detail any)
}

// ReadyFunc adapts a closure to the Reporter interface.
type ReadyFunc func() (bool, any)

func (f ReadyFunc) Readiness() (bool, any) { return f() }

type readyPayload struct {
	Status string `json:"status"`
	Detail any    `json:"detail,omitempty"`
}

func Readiness(rep Reporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		ready, detail := rep.Readiness()
		w.Header().Set("Content-Type", "application/json")
		status := "ready"
		if !ready {
			status = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(readyPayload{Status: status, Detail: detail})
	}
}
