package utils

import (
	"context"
	"time"
)

// RetryConfig holds the parameters for the retry strategy.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// ShouldRetry reports whether an error is worth another attempt.
	// A nil ShouldRetry retries every error.
	ShouldRetry func(error) bool
	Logger      *Logger
}

// Do executes fn with exponential back-off retry logic. It returns the
// number of attempts made and the last error, unwrapped, so callers can
// classify it. MaxAttempts below 1 is treated as 1.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func(ctx context.Context) error) (int, error) {
	maxAttempts := r.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	delay := r.BaseDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		if r.ShouldRetry != nil && !r.ShouldRetry(lastErr) {
			return attempt, lastErr
		}

		if attempt < maxAttempts {
			if r.Logger != nil {
				r.Logger.Warn("[retry] %s failed (attempt %d/%d): %v, retrying in %v",
					operationName, attempt, maxAttempts, lastErr, delay)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, lastErr
			case <-timer.C:
			}
			delay *= 2
		}
	}

	return maxAttempts, lastErr
}
