package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder exports pipeline events as Prometheus metrics.
type PrometheusRecorder struct {
	events    *prometheus.CounterVec
	latencies *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the pipeline metrics with the given
// registerer (pass prometheus.DefaultRegisterer for the usual /metrics setup).
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	events := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "solgate",
			Name:      "events_total",
			Help:      "Payment pipeline event counts",
		},
		[]string{"event", "outcome"},
	)

	latencies := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "solgate",
			Name:      "operation_latency_seconds",
			Help:      "Latency of RPC and facilitator operations",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "outcome"},
	)

	reg.MustRegister(events, latencies)

	return &PrometheusRecorder{events: events, latencies: latencies}
}

func (p *PrometheusRecorder) IncCounter(name string, labels map[string]string) {
	p.events.With(prometheus.Labels{
		"event":   name,
		"outcome": labels["outcome"],
	}).Inc()
}

func (p *PrometheusRecorder) ObserveLatency(name string, d time.Duration, labels map[string]string) {
	p.latencies.With(prometheus.Labels{
		"operation": name,
		"outcome":   labels["outcome"],
	}).Observe(d.Seconds())
}
