package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestMetricsHandler_Smoke(t *testing.T) {
	ExposeBuildInfo("test")
	ObserveHTTP("GET", "/stats", 200, 0.001)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "app_build_info") && !strings.Contains(body, "http_requests_total") {
		t.Fatalf("metrics payload did not contain expected metric names; got:\n%s", body)
	}
}

func TestTaskResultCounters_Labels(t *testing.T) {
	SetDriver("redis")
	defer SetDriver("")

	IncTaskOK("")
	IncTaskError("")
	IncTaskError("kafka")
	ObserveQueuePull(0.002)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()

	if !strings.Contains(body, `task_results_total{driver="redis",outcome="ok"} `) &&
		!strings.Contains(body, `task_results_total{outcome="ok",driver="redis"} `) {
		t.Fatalf("missing task_results_total ok sample:\n%s", body)
	}
	if !strings.Contains(body, `task_results_total{driver="kafka",outcome="error"} `) &&
		!strings.Contains(body, `task_results_total{outcome="error",driver="kafka"} `) {
		t.Fatalf("missing task_results_total error sample with explicit driver:\n%s", body)
	}
	if !strings.Contains(body, "queue_pull_duration_seconds_bucket") {
		t.Fatalf("missing histogram buckets for queue_pull_duration_seconds:\n%s", body)
	}
}

func TestInit_PrivateRegistryServesPackageMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, true)

	ObserveHTTP("GET", "/healthz", 200, 0.0001)
	ObserveRedisOp("set", nil, 0.001)
	ObserveRedisOp("get", errors.New("boom"), 0.002)
	AddResultHits(3)
	AddResultMisses(1)
	AddResultMisses(0) // no-op

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()

	for _, want := range []string{
		"http_requests_total",
		`redis_operation_duration_seconds_count{op="set",outcome="ok"} `,
		`redis_operation_duration_seconds_count{op="get",outcome="error"} `,
		"result_store_hits_total 3",
		"result_store_misses_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("private registry missing %q:\n%s", want, body)
		}
	}
}

func TestInit_DisabledLeavesRegistryEmpty(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, false)
	Init(nil, true)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) != 0 {
		t.Fatalf("expected empty registry, got %d families", len(mfs))
	}
}
