// Package retry provides the single retry policy shared by the incremental
// puller and the outbound delivery queue, so their backoff semantics cannot
// drift apart.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/storemirror/internal/logging"
)

// Policy configures retry behavior
type Policy struct {
	MaxAttempts  int              // Maximum number of attempts (including the first)
	InitialDelay time.Duration    // Delay before the first retry
	MaxDelay     time.Duration    // Cap on the delay between retries
	Multiplier   float64          // Multiplier for exponential backoff
	Retryable    func(error) bool // Predicate deciding whether an error is worth retrying
}

// DefaultPolicy returns the default retry policy.
// Pattern: 1s, 2s, 4s, 8s, 16s, capped at 60s.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
	}
}

// Delay returns the backoff delay after the given 1-based attempt number.
// Delivery rescheduling uses this directly so queued retries follow the same
// schedule as in-process ones.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

func (p *Policy) shouldRetry(err error) bool {
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// Result contains information about a retried operation
type Result struct {
	Attempts      int           `json:"attempts"`
	Success       bool          `json:"success"`
	TotalDuration time.Duration `json:"totalDuration"`
	LastError     error         `json:"lastError,omitempty"`
}

// Func is a function that can be retried
type Func func(ctx context.Context, attempt int) error

// Do executes fn under the policy, backing off exponentially between attempts.
// A non-retryable error (per the policy predicate) stops immediately.
func (p *Policy) Do(ctx context.Context, fn Func) *Result {
	logger := logging.FromContext(ctx)
	startTime := time.Now()

	result := &Result{}

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result.Attempts = attempt

		err := fn(ctx, attempt)
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(startTime)

			if attempt > 1 {
				logger.WithFields(map[string]interface{}{
					"attempts":      attempt,
					"totalDuration": result.TotalDuration,
				}).Info("Operation succeeded after retry")
			}

			return result
		}

		result.LastError = err

		if !p.shouldRetry(err) {
			logger.WithError(err).Warn("Operation failed with non-retryable error")
			break
		}

		if attempt >= p.MaxAttempts {
			logger.WithFields(map[string]interface{}{
				"attempts":      attempt,
				"totalDuration": time.Since(startTime),
				"error":         err.Error(),
			}).Error("Operation failed after max retry attempts")
			break
		}

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			break
		}

		delay := p.Delay(attempt)

		logger.WithFields(map[string]interface{}{
			"attempt":     attempt,
			"maxAttempts": p.MaxAttempts,
			"delay":       delay,
			"error":       err.Error(),
		}).Warn("Operation failed, retrying with exponential backoff")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		}
	}

	// LastError already holds the most recent fn error, or the context
	// error when the loop stopped on cancellation.
	result.TotalDuration = time.Since(startTime)
	return result
}

// Do executes fn under the default policy and returns an error on exhaustion.
func Do(ctx context.Context, fn Func) error {
	result := DefaultPolicy().Do(ctx, fn)
	if !result.Success {
		return fmt.Errorf("operation failed after %d attempts: %w", result.Attempts, result.LastError)
	}
	return nil
}
