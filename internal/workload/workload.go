// Package workload turns task specs into executable tasks. Kinds register
// themselves at init time; queue drivers decode specs off the wire and the
// synthetic source generates them locally.
package workload

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/flowtune/flowtune/pkg/adaptive"
)

// Spec is the wire format of a single task.
type Spec struct {
	ID         string `json:"id,omitempty"`
	Kind       string `json:"kind"`
	SleepMS    int    `json:"sleep_ms,omitempty"`
	Iterations int    `json:"iterations,omitempty"`
	URL        string `json:"url,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Result is what a finished task yields on the stream.
type Result struct {
	ID      string        `json:"id,omitempty"`
	Kind    string        `json:"kind"`
	Output  string        `json:"output,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

type Deps struct {
	Logger *slog.Logger
	Client *http.Client
}

type Builder func(spec Spec, deps Deps) (adaptive.Task, error)

var reg = map[string]Builder{}

func Register(kind string, b Builder) {
	reg[kind] = b
}

func Kinds() []string {
	out := make([]string, 0, len(reg))
	for k := range reg {
		out = append(out, k)
	}
	return out
}

func Build(spec Spec, deps Deps) (adaptive.Task, error) {
	b, ok := reg[strings.ToLower(strings.TrimSpace(spec.Kind))]
	if !ok {
		return nil, fmt.Errorf("workload: unknown kind %q", spec.Kind)
	}
	return b(spec, deps)
}

// Decode builds a task from a raw spec payload as it arrives off a queue.
func Decode(data []byte, deps Deps) (adaptive.Task, error) {
	var s Spec
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("workload: decode spec: %w", err)
	}
	return Build(s, deps)
}
