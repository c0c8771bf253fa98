// Package retry provides bounded retry with exponential backoff for the
// planner's remote operations. Session creation and message delivery
// share the same semantics: retry the same logical unit of work, never a
// new one, and treat user cancellation as a distinct outcome rather than
// a failure.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config controls a retry chain.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Zero or one means no retries.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between retries.
	MaxBackoff time.Duration
	// Multiplier grows the backoff after each attempt. 2.0 gives
	// exponential backoff.
	Multiplier float64

	// Retryable classifies errors. A nil func retries everything.
	// Non-retryable errors abort the chain immediately.
	Retryable func(error) bool

	// OnAttemptFailure is invoked after each failed attempt that will
	// be retried, with the delay until the next attempt. Used by the
	// session lifecycle to publish attempt/nextRetryAt to the UI.
	OnAttemptFailure func(attempt int, err error, next time.Duration)
}

// Default returns the backoff policy used across the planner: base 1s,
// cap 30s, doubling.
func Default(maxAttempts int) Config {
	return Config{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// ExhaustedError reports that every attempt failed. It is the terminal
// failure of a chain; the caller decides whether the unit of work stays
// visible for a manual retry.
type ExhaustedError struct {
	Attempts    int
	MaxAttempts int
	LastError   error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("exhausted %d/%d attempts: %v", e.Attempts, e.MaxAttempts, e.LastError)
}

func (e *ExhaustedError) Unwrap() error { return e.LastError }

// Do runs fn up to cfg.MaxAttempts times, sleeping between attempts.
// The context is checked before every attempt and during every sleep;
// cancellation surfaces as ctx.Err() (context.Canceled), never as an
// *ExhaustedError. A non-retryable error aborts the chain and is
// returned as-is.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		lastErr = err

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		delay := Backoff(cfg, attempt)
		if cfg.OnAttemptFailure != nil {
			cfg.OnAttemptFailure(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return &ExhaustedError{
		Attempts:    cfg.MaxAttempts,
		MaxAttempts: cfg.MaxAttempts,
		LastError:   lastErr,
	}
}

// Backoff computes the sleep before the retry that follows the given
// attempt: min(cap, initial * multiplier^(attempt-1)), scaled by a
// 0.5–1.0 jitter factor so concurrent clients spread out.
func Backoff(cfg Config, attempt int) time.Duration {
	mult := cfg.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	d := float64(cfg.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if cfg.MaxBackoff > 0 && d > float64(cfg.MaxBackoff) {
		d = float64(cfg.MaxBackoff)
	}
	d *= 0.5 + rand.Float64()*0.5
	return time.Duration(d)
}
