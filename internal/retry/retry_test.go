package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastConfig keeps test runs quick.
func fastConfig(maxAttempts int) Config {
	return Config{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsExactly(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), fastConfig(3), func(ctx context.Context) error {
		calls++
		return boom
	})

	assert.Equal(t, 3, calls, "operation must run exactly MaxAttempts times")

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, 3, exhausted.MaxAttempts)
	assert.ErrorIs(t, err, boom)
}

func TestDoNonRetryableAbortsImmediately(t *testing.T) {
	calls := 0
	fatal := errors.New("bad request")
	cfg := fastConfig(5)
	cfg.Retryable = func(err error) bool { return !errors.Is(err, fatal) }

	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return fatal
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, fatal)
	var exhausted *ExhaustedError
	assert.False(t, errors.As(err, &exhausted), "non-retryable must not be reported as exhaustion")
}

func TestDoCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig(3)
	cfg.InitialBackoff = time.Hour // never elapses

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, cfg, func(ctx context.Context) error {
			calls++
			return errors.New("transient")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls, "no further attempts after cancellation")
	case <-time.After(time.Second):
		t.Fatal("Do did not unwind after cancel")
	}
}

func TestDoCancelledBeforeAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fastConfig(3), func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestDoReportsAttemptFailures(t *testing.T) {
	var attempts []int
	cfg := fastConfig(3)
	cfg.OnAttemptFailure = func(attempt int, err error, next time.Duration) {
		attempts = append(attempts, attempt)
		assert.Positive(t, next)
	}

	_ = Do(context.Background(), cfg, func(ctx context.Context) error {
		return errors.New("transient")
	})

	// The final attempt has no retry scheduled, so no callback for it.
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	cfg := Config{
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}

	for attempt := 1; attempt <= 10; attempt++ {
		d := Backoff(cfg, attempt)
		ideal := time.Duration(float64(time.Second) * float64(int(1)<<uint(attempt-1)))
		if ideal > cfg.MaxBackoff {
			ideal = cfg.MaxBackoff
		}
		// Jitter scales by 0.5–1.0 of the ideal delay.
		assert.GreaterOrEqual(t, d, ideal/2, "attempt %d", attempt)
		assert.LessOrEqual(t, d, ideal, "attempt %d", attempt)
	}
}
