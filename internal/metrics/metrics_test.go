package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/repo-analyzer/analyzer/pkg/types"
)

func TestCollector_ProviderTested(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.ProviderTested("mock", types.HealthCheckResult{Healthy: true, ResponseTime: 12}, nil)
	c.ProviderTested("claude", types.HealthCheckResult{Healthy: false, ResponseTime: 40}, &types.ProviderError{Type: types.ErrorRateLimit})
	c.ProviderTested("gemini", types.HealthCheckResult{Healthy: false}, &types.ProviderError{Type: types.ErrorConfiguration})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.TestsTotal.WithLabelValues("mock", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.TestsTotal.WithLabelValues("claude", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ErrorsTotal.WithLabelValues("claude", "RATE_LIMIT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ErrorsTotal.WithLabelValues("gemini", "CONFIGURATION_ERROR")))

	// configuration failures never reached the provider
	assert.Equal(t, 2, testutil.CollectAndCount(c.TestDuration))
}

func TestCollector_StatusChanged(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.StatusChanged("claude", types.StatusTesting)
	c.StatusChanged("claude", types.StatusError)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Status.WithLabelValues("claude", "error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.Status.WithLabelValues("claude", "testing")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.Status.WithLabelValues("claude", "active")))
}

func TestCollector_ObserveRequest(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.ObserveRequest("GET", "/api/providers", 200, 5*time.Millisecond)
	c.ObserveRequest("GET", "/api/providers", 204, 5*time.Millisecond)
	c.ObserveRequest("POST", "/api/analyze", 503, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.HTTPRequests.WithLabelValues("GET", "/api/providers", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.HTTPRequests.WithLabelValues("POST", "/api/analyze", "5xx")))
}

func TestNewCollector_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollector(prometheus.NewRegistry())
		NewCollector(prometheus.NewRegistry())
	})
}
