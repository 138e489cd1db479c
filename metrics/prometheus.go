package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type PrometheusRecorder struct {
	counters  *prometheus.CounterVec
	histogram *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the facilitator's metric vectors with
// the default registry. Counters are partitioned by event type and chain,
// latencies by operation and chain.
func NewPrometheusRecorder() Recorder {
	counters := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "x402",
			Name:      "events_total",
			Help:      "facilitator event counters",
		},
		[]string{"type", "chain"},
	)

	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "x402",
			Name:      "latency_seconds",
			Help:      "facilitator operation latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "chain"},
	)

	prometheus.MustRegister(counters, histogram)

	return &PrometheusRecorder{
		counters:  counters,
		histogram: histogram,
	}
}

func (p *PrometheusRecorder) IncCounter(name string, labels map[string]string) {
	p.counters.With(prometheus.Labels{
		"type":  name,
		"chain": labels["chain"],
	}).Inc()
}

func (p *PrometheusRecorder) ObserveLatency(name string, d time.Duration, labels map[string]string) {
	p.histogram.With(prometheus.Labels{
		"operation": name,
		"chain":     labels["chain"],
	}).Observe(d.Seconds())
}
