package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Dispatch related metrics
	BatchCalls        *prometheus.CounterVec
	EndpointsCreated  *prometheus.CounterVec
	AddressesFiltered *prometheus.CounterVec
	ProviderLatency   *prometheus.HistogramVec

	// Directory store metrics
	DirectoryOperations *prometheus.CounterVec
	DirectoryLatency    *prometheus.HistogramVec

	// Worker metrics
	JobsConsumed *prometheus.CounterVec
}

// NewMetrics creates all application metrics and registers them on reg.
// A nil registerer falls back to the default prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		BatchCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "batch_calls_total",
			Help:      "Total number of provider batch send calls",
		}, []string{"channel", "status"}),
		EndpointsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "endpoints_created_total",
			Help:      "Total number of provider endpoint creation attempts",
		}, []string{"channel", "result"}),
		AddressesFiltered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "addresses_filtered_total",
			Help:      "Total number of addresses removed before dispatch",
		}, []string{"channel", "reason"}),
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "call_duration_seconds",
			Help:      "Duration of delivery provider API calls",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"operation"}),

		DirectoryOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "directory",
			Name:      "operations_total",
			Help:      "Total number of endpoint directory store operations",
		}, []string{"operation", "status"}),
		DirectoryLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "directory",
			Name:      "operation_duration_seconds",
			Help:      "Duration of endpoint directory store operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),

		JobsConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "jobs_consumed_total",
			Help:      "Total number of dispatch jobs consumed from the broker",
		}, []string{"status"}),
	}
}

// NewNop returns metrics registered on a private registry, for tests and tools.
func NewNop() *Metrics {
	return NewMetrics("test", prometheus.NewRegistry())
}
