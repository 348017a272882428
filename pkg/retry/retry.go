// Package retry executes idempotent operations with bounded exponential
// backoff. It must never wrap operations with side effects that are not safe
// to repeat.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrMaxRetriesExceeded wraps the last error once all attempts are spent
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Policy configures retry behavior
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// RetryableFunc decides per error; nil retries everything
	RetryableFunc func(error) bool
}

// Validate checks the policy for sane values
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0")
	}
	if p.InitialBackoff <= 0 {
		return fmt.Errorf("initial backoff must be positive")
	}
	return nil
}

// Retrier handles retry logic
type Retrier struct {
	policy Policy
	logger *zap.Logger
}

// NewRetrier creates a new retrier
func NewRetrier(policy Policy, logger *zap.Logger) *Retrier {
	if err := policy.Validate(); err != nil {
		panic(fmt.Sprintf("invalid retry policy: %v", err))
	}
	if policy.MaxBackoff == 0 {
		policy.MaxBackoff = 30 * time.Second
	}
	return &Retrier{policy: policy, logger: logger}
}

// Do executes a function with retry logic
func (r *Retrier) Do(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 0 {
				r.logger.Info("Operation succeeded after retries",
					zap.Int("attempt", attempt))
			}
			return nil
		}

		if r.policy.RetryableFunc != nil && !r.policy.RetryableFunc(lastErr) {
			return lastErr
		}

		if attempt >= r.policy.MaxRetries {
			break
		}

		backoff := r.backoff(attempt + 1)
		r.logger.Debug("Retrying operation",
			zap.Error(lastErr),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

func (r *Retrier) backoff(attempt int) time.Duration {
	d := r.policy.InitialBackoff << (attempt - 1)
	if d > r.policy.MaxBackoff || d <= 0 {
		return r.policy.MaxBackoff
	}
	return d
}
