package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clothscan/pkg/config"
	errs "clothscan/pkg/errors"
	"clothscan/pkg/logger"
)

// Config holds retry configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts (0 means unlimited)
	MaxAttempts int
	// Backoff is used when no per-type strategy applies
	Backoff BackoffStrategy
	// PerType, when set, picks the strategy from the error's type
	PerType *ErrorTypeBackoff
	// RetryIf determines if an error should be retried
	RetryIf func(error) bool
	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration)
	Logger  logger.Logger
}

// DefaultConfig returns a retry configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		Backoff:     DefaultExponentialBackoff(),
		RetryIf:     DefaultRetryIf,
		Logger:      logger.GetLogger(),
	}
}

// FromConfig builds a retry configuration from the retry settings
func FromConfig(rc config.RetryConfig, log logger.Logger) *Config {
	cfg := DefaultConfig()
	if rc.MaxAttempts > 0 {
		cfg.MaxAttempts = rc.MaxAttempts
	}
	if rc.InitialBackoff > 0 {
		cfg.Backoff = &ExponentialBackoff{
			BaseDelay:    rc.InitialBackoff,
			MaxDelay:     rc.MaxBackoff,
			Multiplier:   rc.Multiplier,
			JitterFactor: 0.1,
		}
	}
	if log != nil {
		cfg.Logger = log
	}
	return cfg
}

// DefaultRetryIf retries transient typed errors and unknown errors, never
// cancellation or the record pipeline's own failures.
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *errs.Error
	if errors.As(err, &apiErr) {
		return errs.IsRetryable(apiErr.Type)
	}
	return true
}

// Do runs op until it succeeds, fails permanently, runs out of attempts or ctx ends
func Do(ctx context.Context, cfg *Config, op func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = DefaultRetryIf
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if cfg.MaxAttempts > 0 && attempt > cfg.MaxAttempts {
			return fmt.Errorf("max retry attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
		}

		err := op()
		if err == nil {
			if attempt > 1 && cfg.Logger != nil {
				cfg.Logger.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return nil
		}
		lastErr = err

		if !retryIf(err) {
			return err
		}

		delay := cfg.delayFor(err, attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
		if cfg.Logger != nil {
			cfg.Logger.WarnWithFields("retrying operation", map[string]interface{}{
				"attempt":      attempt,
				"error":        err.Error(),
				"delay":        delay,
				"max_attempts": cfg.MaxAttempts,
			})
		}

		if err := Wait(ctx, delay); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}
}

// DoWithResult runs op like Do and returns its last result
func DoWithResult[T any](ctx context.Context, cfg *Config, op func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var opErr error
		result, opErr = op()
		return opErr
	})
	return result, err
}

func (c *Config) delayFor(err error, attempt int) time.Duration {
	if c.PerType != nil {
		return c.PerType.For(errs.TypeOf(err)).NextDelay(attempt)
	}
	if c.Backoff == nil {
		return 0
	}
	return c.Backoff.NextDelay(attempt)
}
