// Package metrics exposes provider registry activity as Prometheus metrics
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/repo-analyzer/analyzer/pkg/types"
)

const namespace = "analyzer"

var allStates = []types.StatusState{
	types.StatusInactive,
	types.StatusTesting,
	types.StatusActive,
	types.StatusError,
}

// Collector records registry events. It satisfies providers.Observer.
type Collector struct {
	// TestsTotal counts provider tests.
	// Labels: provider, result (success, failure)
	TestsTotal *prometheus.CounterVec

	// TestDuration tracks probe latency. Configuration failures never
	// reach the provider and are not observed.
	TestDuration *prometheus.HistogramVec

	// ErrorsTotal counts categorized provider errors.
	// Labels: provider, kind
	ErrorsTotal *prometheus.CounterVec

	// Status is 1 for the provider's current state and 0 for the others
	Status *prometheus.GaugeVec

	// HTTPRequests counts API requests.
	// Labels: method, route, status
	HTTPRequests *prometheus.CounterVec

	// HTTPDuration tracks API latency by route
	HTTPDuration *prometheus.HistogramVec
}

// NewCollector registers the analyzer metrics on reg. A nil reg uses the
// default Prometheus registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		TestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "tests_total",
				Help:      "Total number of provider connection tests",
			},
			[]string{"provider", "result"},
		),
		TestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "test_duration_seconds",
				Help:      "Duration of provider connection tests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "errors_total",
				Help:      "Total number of categorized provider errors",
			},
			[]string{"provider", "kind"},
		),
		Status: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "status",
				Help:      "Current provider status (1 for the active state)",
			},
			[]string{"provider", "status"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of API requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// ProviderTested records the outcome of a provider test
func (c *Collector) ProviderTested(name string, result types.HealthCheckResult, perr *types.ProviderError) {
	outcome := "success"
	if !result.Healthy {
		outcome = "failure"
	}
	c.TestsTotal.WithLabelValues(name, outcome).Inc()

	if perr != nil {
		c.ErrorsTotal.WithLabelValues(name, string(perr.Type)).Inc()
		if perr.Type == types.ErrorConfiguration {
			return
		}
	}
	c.TestDuration.WithLabelValues(name).Observe((time.Duration(result.ResponseTime) * time.Millisecond).Seconds())
}

// StatusChanged moves the status gauge to state
func (c *Collector) StatusChanged(name string, state types.StatusState) {
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		c.Status.WithLabelValues(name, string(s)).Set(v)
	}
}

// ObserveRequest records one API request
func (c *Collector) ObserveRequest(method, route string, status int, duration time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
