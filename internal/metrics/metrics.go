// Package metrics exposes Prometheus metrics for the runner.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowtune/flowtune/pkg/adaptive"
)

// BuildInfo labels the app_build_info gauge. An empty Version is reported
// as "dev".
type BuildInfo struct {
	Version   string
	Revision  string
	Branch    string
	BuildDate string
}

// Provider carries a private registry; nothing here touches the client
// library's global default.
type Provider struct {
	reg *prometheus.Registry
}

func New(build BuildInfo) *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if build.Version == "" {
		build.Version = "dev"
	}
	promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
		Name: "app_build_info",
		Help: "Build info for this binary (value is always 1).",
	}, []string{"version", "revision", "branch", "build_date"}).
		WithLabelValues(build.Version, build.Revision, build.Branch, build.BuildDate).Set(1)

	return &Provider{reg: reg}
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

func (p *Provider) Register(cs ...prometheus.Collector) {
	for _, c := range cs {
		p.reg.MustRegister(c)
	}
}

func (p *Provider) Registerer() prometheus.Registerer { return p.reg }

// StatsSource is the executor surface the collector scrapes.
type StatsSource interface {
	Stats() adaptive.Stats
}

// ExecutorCollector exports executor state at scrape time, so gauges and
// counters need no polling loop.
type ExecutorCollector struct {
	src StatsSource

	concurrency *prometheus.Desc
	throughput  *prometheus.Desc
	launched    *prometheus.Desc
	completed   *prometheus.Desc
	failures    *prometheus.Desc
	adaptations *prometheus.Desc
}

var _ prometheus.Collector = (*ExecutorCollector)(nil)

func NewExecutorCollector(src StatsSource, driver string) *ExecutorCollector {
	if driver == "" {
		driver = "synthetic"
	}
	labels := prometheus.Labels{"driver": driver}
	return &ExecutorCollector{
		src: src,
		concurrency: prometheus.NewDesc(
			"executor_concurrency",
			"Current target parallelism.",
			nil, labels,
		),
		throughput: prometheus.NewDesc(
			"executor_throughput_per_second",
			"Observed task completions per second.",
			nil, labels,
		),
		launched: prometheus.NewDesc(
			"executor_tasks_launched_total",
			"Tasks handed to worker goroutines.",
			nil, labels,
		),
		completed: prometheus.NewDesc(
			"executor_tasks_completed_total",
			"Tasks completed successfully.",
			nil, labels,
		),
		failures: prometheus.NewDesc(
			"executor_task_failures_total",
			"Tasks that returned an error.",
			nil, labels,
		),
		adaptations: prometheus.NewDesc(
			"executor_adaptations_total",
			"Concurrency adjustments by direction.",
			[]string{"direction"}, labels,
		),
	}
}

func (c *ExecutorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.concurrency
	ch <- c.throughput
	ch <- c.launched
	ch <- c.completed
	ch <- c.failures
	ch <- c.adaptations
}

func (c *ExecutorCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(c.concurrency, prometheus.GaugeValue, float64(st.Concurrency))
	if st.Throughput != nil {
		ch <- prometheus.MustNewConstMetric(c.throughput, prometheus.GaugeValue, *st.Throughput)
	}
	ch <- prometheus.MustNewConstMetric(c.launched, prometheus.CounterValue, float64(st.TotalTasks))
	ch <- prometheus.MustNewConstMetric(c.completed, prometheus.CounterValue, float64(st.TotalCompleted))
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(st.TotalFailures))
	ch <- prometheus.MustNewConstMetric(c.adaptations, prometheus.CounterValue, float64(st.Increases), "up")
	ch <- prometheus.MustNewConstMetric(c.adaptations, prometheus.CounterValue, float64(st.Decreases), "down")
}
