package kafkaqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// queueMetrics instruments the consumer loop. A nil registerer yields
// working but unregistered metrics, which keeps tests quiet.
type queueMetrics struct {
	msgs   *prometheus.CounterVec
	handle prometheus.Histogram
	lag    prometheus.Gauge
}

func newQueueMetrics(r prometheus.Registerer) *queueMetrics {
	f := promauto.With(r)
	return &queueMetrics{
		msgs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskqueue_msgs_total",
			Help: "Count of task messages by result.",
		}, []string{"result"}),
		handle: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskqueue_handle_seconds",
			Help:    "Time from receiving a message to handing it off.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		lag: f.NewGauge(prometheus.GaugeOpts{
			Name: "taskqueue_lag_seconds",
			Help: "Approximate lag: now - message.timestamp.",
		}),
	}
}
