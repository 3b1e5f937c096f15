// Package retry provides retry with exponential backoff and jitter for
// transient backend and LLM failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts     int              // total attempts, including the first
	InitialDelay    time.Duration    // delay before the second attempt
	MaxDelay        time.Duration    // ceiling for backoff growth
	Multiplier      float64          // backoff multiplier
	RandomizeFactor float64          // jitter factor in [0,1]
	RetryIf         func(error) bool // predicate deciding retryability
}

// DefaultConfig returns the configuration used for store probes.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:     3,
		InitialDelay:    100 * time.Millisecond,
		MaxDelay:        10 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.1,
		RetryIf:         DefaultRetryIf,
	}
}

// OnceMore returns the configuration for LLM calls: a single retry on
// transient errors, per the degradation policy.
func OnceMore() *Config {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 2
	cfg.InitialDelay = 250 * time.Millisecond
	return cfg
}

// Operation is a retryable unit of work.
type Operation func(ctx context.Context) error

// Retrier executes operations under a Config.
type Retrier struct {
	config *Config
}

// New creates a retrier, normalizing out-of-range settings.
func New(config *Config) *Retrier {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	if config.RandomizeFactor < 0 {
		config.RandomizeFactor = 0
	} else if config.RandomizeFactor > 1 {
		config.RandomizeFactor = 1
	}
	if config.RetryIf == nil {
		config.RetryIf = DefaultRetryIf
	}
	return &Retrier{config: config}
}

// Do runs op until it succeeds, exhausts attempts, hits a non-retryable
// error, or the context is cancelled.
func (r *Retrier) Do(ctx context.Context, op Operation) error {
	var lastErr error
	delay := r.config.InitialDelay

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled: %w", err)
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.config.RetryIf(err) || attempt >= r.config.MaxAttempts {
			break
		}

		select {
		case <-time.After(r.jitter(delay)):
			delay = r.next(delay)
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during retry delay: %w", ctx.Err())
		}
	}
	return lastErr
}

func (r *Retrier) jitter(delay time.Duration) time.Duration {
	if r.config.RandomizeFactor == 0 {
		return delay
	}
	delta := float64(delay) * r.config.RandomizeFactor
	return time.Duration(float64(delay) - delta + rand.Float64()*2*delta)
}

func (r *Retrier) next(current time.Duration) time.Duration {
	n := time.Duration(float64(current) * r.config.Multiplier)
	if n > r.config.MaxDelay {
		return r.config.MaxDelay
	}
	return n
}

// Do executes op with the given config; nil config means DefaultConfig.
func Do(ctx context.Context, config *Config, op Operation) error {
	return New(config).Do(ctx, op)
}

// TemporaryError marks an error as transient and therefore retryable.
type TemporaryError struct {
	Err error
}

func (e *TemporaryError) Error() string   { return fmt.Sprintf("temporary error: %v", e.Err) }
func (e *TemporaryError) Unwrap() error   { return e.Err }
func (e *TemporaryError) Temporary() bool { return true }

// PermanentError marks an error as final; it will not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent error: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// DefaultRetryIf retries temporary errors, refuses permanent ones, and
// retries everything else.
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}

	type temporary interface {
		Temporary() bool
	}
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}

	var perm *PermanentError
	return !errors.As(err, &perm)
}
