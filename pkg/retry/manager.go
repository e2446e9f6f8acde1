package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/repo-analyzer/analyzer/pkg/types"
	"github.com/repo-analyzer/analyzer/pkg/utils"
)

// RetryManager re-runs recoverable operations with exponential backoff
type RetryManager struct {
	policy *types.RetryPolicy
	logger *utils.Logger
	stats  *RetryStats
	mutex  sync.RWMutex
}

// RetryStats tracks retry statistics
type RetryStats struct {
	TotalAttempts     int64   `json:"total_attempts"`
	TotalRetries      int64   `json:"total_retries"`
	SuccessfulRetries int64   `json:"successful_retries"`
	FailedRetries     int64   `json:"failed_retries"`
	AverageAttempts   float64 `json:"average_attempts"`
}

// RetryableOperation is one attempt; attempt starts at 1
type RetryableOperation func(ctx context.Context, attempt int) error

// NewRetryManager creates a retry manager. A nil policy means one immediate attempt.
func NewRetryManager(policy *types.RetryPolicy, logger *utils.Logger) *RetryManager {
	if policy == nil {
		policy = types.DefaultRetryPolicy()
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	return &RetryManager{
		policy: policy,
		logger: logger,
		stats:  &RetryStats{},
	}
}

// Policy returns the active policy
func (rm *RetryManager) Policy() types.RetryPolicy {
	return *rm.policy
}

// ExecuteWithRetry runs operation until it succeeds, the policy is exhausted,
// or the error is not retryable.
func (rm *RetryManager) ExecuteWithRetry(ctx context.Context, operation RetryableOperation) error {
	var lastErr error
	attempt := 0
	executed := 0

	defer func() {
		atomic.AddInt64(&rm.stats.TotalAttempts, 1)
		if executed > 1 {
			atomic.AddInt64(&rm.stats.TotalRetries, int64(executed-1))
			if lastErr == nil {
				atomic.AddInt64(&rm.stats.SuccessfulRetries, 1)
			} else {
				atomic.AddInt64(&rm.stats.FailedRetries, 1)
			}
		}
		rm.updateAverageAttempts(float64(executed))
	}()

	for attempt = 1; attempt <= rm.policy.MaxRetries+1; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		}

		executed = attempt
		err := operation(ctx, attempt)
		if err == nil {
			lastErr = nil
			if attempt > 1 {
				rm.logger.WithField("attempts", attempt).Debug("Operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !rm.ShouldRetry(err, attempt) {
			break
		}

		delay := rm.CalculateDelay(attempt)
		rm.logger.WithField("attempt", attempt).WithField("delay", delay).WithError(err).Debug("Operation failed, retrying after delay")

		if err := rm.waitWithContext(ctx, delay); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", executed, lastErr)
}

// ShouldRetry determines whether another attempt is allowed
func (rm *RetryManager) ShouldRetry(err error, attempt int) bool {
	if attempt > rm.policy.MaxRetries {
		return false
	}
	return IsRetryable(err)
}

// CalculateDelay returns the wait before the attempt following attempt.
// A zero base delay disables waiting entirely.
func (rm *RetryManager) CalculateDelay(attempt int) time.Duration {
	if rm.policy.BaseDelay <= 0 {
		return 0
	}

	delay := float64(rm.policy.BaseDelay) * math.Pow(rm.policy.BackoffFactor, float64(attempt-1))

	if maxDelay := float64(rm.policy.MaxDelay); maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	// +/-10% jitter
	delay += delay * 0.1 * (rand.Float64()*2 - 1)
	if delay < 0 {
		delay = float64(rm.policy.BaseDelay)
	}

	return time.Duration(delay)
}

// GetRetryStats returns current retry statistics
func (rm *RetryManager) GetRetryStats() *RetryStats {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	return &RetryStats{
		TotalAttempts:     atomic.LoadInt64(&rm.stats.TotalAttempts),
		TotalRetries:      atomic.LoadInt64(&rm.stats.TotalRetries),
		SuccessfulRetries: atomic.LoadInt64(&rm.stats.SuccessfulRetries),
		FailedRetries:     atomic.LoadInt64(&rm.stats.FailedRetries),
		AverageAttempts:   rm.stats.AverageAttempts,
	}
}

// ResetStats resets retry statistics
func (rm *RetryManager) ResetStats() {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	atomic.StoreInt64(&rm.stats.TotalAttempts, 0)
	atomic.StoreInt64(&rm.stats.TotalRetries, 0)
	atomic.StoreInt64(&rm.stats.SuccessfulRetries, 0)
	atomic.StoreInt64(&rm.stats.FailedRetries, 0)
	rm.stats.AverageAttempts = 0
}

func (rm *RetryManager) waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (rm *RetryManager) updateAverageAttempts(attempts float64) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	totalOps := atomic.LoadInt64(&rm.stats.TotalAttempts)
	if totalOps > 0 {
		rm.stats.AverageAttempts = (rm.stats.AverageAttempts*float64(totalOps-1) + attempts) / float64(totalOps)
	} else {
		rm.stats.AverageAttempts = attempts
	}
}
