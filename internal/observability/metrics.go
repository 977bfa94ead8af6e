package observability

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var driverLabel atomic.Value

func init() {
	driverLabel.Store("synthetic")
}

func SetDriver(d string) {
	if d == "" {
		d = "synthetic"
	}
	driverLabel.Store(d)
}

func getDriver() string {
	if s, _ := driverLabel.Load().(string); s != "" {
		return s
	}
	return "synthetic"
}

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests served by the ops endpoints.",
		},
		[]string{"method", "route", "status", "driver"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status", "driver"},
	)

	queuePullDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_pull_duration_seconds",
			Help:    "Time spent pulling a task from the queue in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~8s
		},
		[]string{"driver"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Version of the running binary (value is always 1).",
		},
		[]string{"version"},
	)

	taskResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_results_total",
			Help: "Task results by outcome.",
		},
		[]string{"outcome", "driver"},
	)

	redisOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Duration of result store Redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~8s
		},
		[]string{"op", "outcome"},
	)

	resultHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "result_store_hits_total",
		Help: "Result lookups that found a stored payload.",
	})

	resultMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "result_store_misses_total",
		Help: "Result lookups that found nothing.",
	})
)

// Init registers the package collectors with reg so binaries serving
// metrics from a private registry include them. The collectors stay on the
// default registry either way; enabled=false leaves reg untouched.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	reg.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		queuePullDurationSeconds,
		taskResults,
		redisOpDurationSeconds,
		resultHitsTotal,
		resultMissesTotal,
	)
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	d := getDriver()
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st, d).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st, d).Observe(durationSeconds)
}

func ObserveQueuePull(durationSeconds float64) {
	queuePullDurationSeconds.WithLabelValues(getDriver()).Observe(durationSeconds)
}

func IncTaskOK(driver string) {
	d := driver
	if d == "" {
		d = getDriver()
	}
	taskResults.WithLabelValues("ok", d).Inc()
}

func IncTaskError(driver string) {
	d := driver
	if d == "" {
		d = getDriver()
	}
	taskResults.WithLabelValues("error", d).Inc()
}

func ObserveRedisOp(op string, err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	redisOpDurationSeconds.WithLabelValues(op, outcome).Observe(durationSeconds)
}

func AddResultHits(n int) {
	if n > 0 {
		resultHitsTotal.Add(float64(n))
	}
}

func AddResultMisses(n int) {
	if n > 0 {
		resultMissesTotal.Add(float64(n))
	}
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
