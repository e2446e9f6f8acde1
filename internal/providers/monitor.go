package providers

import (
	"context"
	"sync"
	"time"

	"github.com/repo-analyzer/analyzer/pkg/utils"
)

// HealthMonitor periodically re-tests providers whose last test is stale.
// Providers missing the config a probe needs are skipped.
type HealthMonitor struct {
	registry *Registry
	interval time.Duration
	logger   *utils.Logger

	stopCh    chan struct{}
	stopped   bool
	stoppedMu sync.Mutex
	wg        sync.WaitGroup
}

// NewHealthMonitor creates a monitor; call Start to run it
func NewHealthMonitor(registry *Registry, interval time.Duration, logger *utils.Logger) *HealthMonitor {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &HealthMonitor{
		registry: registry,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start runs a check immediately and then every interval until Stop or ctx is done
func (m *HealthMonitor) Start(ctx context.Context) {
	m.stoppedMu.Lock()
	if m.stopped || m.interval <= 0 {
		m.stoppedMu.Unlock()
		return
	}
	m.stoppedMu.Unlock()

	ticker := time.NewTicker(m.interval)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ticker.Stop()

		m.CheckOnce(ctx)

		for {
			select {
			case <-ticker.C:
				m.CheckOnce(ctx)
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the monitor and waits for a running check to finish
func (m *HealthMonitor) Stop() {
	m.stoppedMu.Lock()
	if !m.stopped {
		m.stopped = true
		close(m.stopCh)
	}
	m.stoppedMu.Unlock()
	m.wg.Wait()
}

// CheckOnce tests every testable provider that needs attention
func (m *HealthMonitor) CheckOnce(ctx context.Context) map[string]bool {
	results := make(map[string]bool)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for _, name := range m.registry.ProvidersNeedingAttention() {
		if !m.registry.Testable(name) {
			continue
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			start := time.Now()
			ok := m.registry.TestProvider(ctx, name)
			st, _ := m.registry.ProviderStatus(name)
			m.logger.LogProviderTest(name, ok, time.Since(start), st.Error)

			mu.Lock()
			results[name] = ok
			mu.Unlock()
		}(name)
	}
	wg.Wait()

	return results
}
