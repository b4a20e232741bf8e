package errors

import (
	"context"
	"math/rand/v2"
	"time"
)

// RestartConfig configures how a caller restarts failed save attempts.
// Each attempt must run with a fresh disambiguation counter so that its
// barrier keys do not collide with the abandoned attempt.
type RestartConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial).
	MaxAttempts int

	// InitialBackoff is the starting backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each attempt.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64

	// RestartableFunc optionally overrides IsRestartable.
	RestartableFunc func(error) bool
}

// DefaultRestart is the standard restart configuration.
var DefaultRestart = RestartConfig{
	MaxAttempts:    3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// NoRestart disables restarts.
var NoRestart = RestartConfig{
	MaxAttempts: 1,
}

// RestartResult contains the result of a restarted operation.
type RestartResult[T any] struct {
	// Value is the result if successful.
	Value T

	// Err is the final error if all attempts failed.
	Err error

	// Attempts is the number of attempts made.
	Attempts int

	// Duration is the total time spent.
	Duration time.Duration
}

// WithRestarts runs fn until it succeeds, fails with a non-restartable
// error, or MaxAttempts is reached. The attempt number (starting at 1) is
// passed to fn.
func WithRestarts[T any](
	ctx context.Context,
	cfg RestartConfig,
	fn func(ctx context.Context, attempt int) (T, error),
) RestartResult[T] {
	start := time.Now()
	backoff := cfg.InitialBackoff
	var lastErr error

	restartable := cfg.RestartableFunc
	if restartable == nil {
		restartable = IsRestartable
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return RestartResult[T]{
				Err:      &CategorizedError{Err: err, Category: CategoryCancelled, Attempts: attempt, Context: "context cancelled"},
				Attempts: attempt,
				Duration: time.Since(start),
			}
		}

		result, err := fn(ctx, attempt+1)
		if err == nil {
			return RestartResult[T]{
				Value:    result,
				Attempts: attempt + 1,
				Duration: time.Since(start),
			}
		}

		lastErr = err

		if !restartable(err) {
			return RestartResult[T]{
				Err: &CategorizedError{
					Err:      err,
					Category: Categorize(err),
					Attempts: attempt + 1,
				},
				Attempts: attempt + 1,
				Duration: time.Since(start),
			}
		}

		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return RestartResult[T]{
					Err:      &CategorizedError{Err: ctx.Err(), Category: CategoryCancelled, Attempts: attempt + 1, Context: "context cancelled during backoff"},
					Attempts: attempt + 1,
					Duration: time.Since(start),
				}
			case <-time.After(calculateBackoff(backoff, cfg.Jitter)):
			}

			backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
			if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}
	}

	return RestartResult[T]{
		Err: &CategorizedError{
			Err:      lastErr,
			Category: Categorize(lastErr),
			Attempts: maxAttempts,
			Context:  "max attempts exceeded",
		},
		Attempts: maxAttempts,
		Duration: time.Since(start),
	}
}

// calculateBackoff returns the backoff duration with jitter applied.
func calculateBackoff(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	jitterAmount := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + jitterAmount)
}

// RestartOption configures restart behavior.
type RestartOption func(*RestartConfig)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) RestartOption {
	return func(cfg *RestartConfig) {
		cfg.MaxAttempts = n
	}
}

// WithInitialBackoff sets the initial backoff duration.
func WithInitialBackoff(d time.Duration) RestartOption {
	return func(cfg *RestartConfig) {
		cfg.InitialBackoff = d
	}
}

// WithMaxBackoff sets the maximum backoff duration.
func WithMaxBackoff(d time.Duration) RestartOption {
	return func(cfg *RestartConfig) {
		cfg.MaxBackoff = d
	}
}

// WithJitter sets the jitter factor.
func WithJitter(j float64) RestartOption {
	return func(cfg *RestartConfig) {
		cfg.Jitter = j
	}
}

// WithRestartableFunc sets a custom restartability check.
func WithRestartableFunc(fn func(error) bool) RestartOption {
	return func(cfg *RestartConfig) {
		cfg.RestartableFunc = fn
	}
}

// NewRestartConfig creates a restart configuration with the given options.
func NewRestartConfig(opts ...RestartOption) RestartConfig {
	cfg := DefaultRestart
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
