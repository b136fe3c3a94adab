package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-pipeline/internal/extracterr"
)

func newTestExecutor(p RetryPolicy) *Executor {
	e := NewExecutor(p, nil)
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	e := newTestExecutor(DefaultRetryPolicy())

	calls := 0
	err := e.Do(context.Background(), "fetch", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustionWrapsLastError(t *testing.T) {
	p := DefaultRetryPolicy()
	p.MaxRetries = 3
	e := newTestExecutor(p)

	calls := 0
	last := errors.New("network unreachable")
	err := e.Do(context.Background(), "fetch", func(context.Context) error {
		calls++
		return last
	})
	assert.Equal(t, 4, calls, "maxRetries+1 attempts")

	var ue *UnavailableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, 4, ue.Attempts)
	assert.Equal(t, p.RetryAfter, ue.RetryAfter)
	assert.ErrorIs(t, err, last)
}

func TestRetryNonRetryablePropagatesImmediately(t *testing.T) {
	e := newTestExecutor(DefaultRetryPolicy())

	calls := 0
	orig := extracterr.New("document is encrypted")
	err := e.Do(context.Background(), "parse", func(context.Context) error {
		calls++
		return orig
	})
	assert.Equal(t, 1, calls)

	var ce *extracterr.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, extracterr.DocumentEncrypted, ce.Kind)
}

func TestRetryBudgetAbortsChain(t *testing.T) {
	p := DefaultRetryPolicy()
	p.MaxRetries = 10
	p.Budget = time.Minute
	e := newTestExecutor(p)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time {
		now = now.Add(25 * time.Second)
		return now
	}

	err := e.Do(context.Background(), "fetch", func(context.Context) error {
		return errors.New("connection refused")
	})
	require.ErrorIs(t, err, ErrBudgetExceeded)

	// Distinct from the wrapped failure and from plain exhaustion.
	var ue *UnavailableError
	assert.False(t, errors.As(err, &ue))
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	e := NewExecutor(DefaultRetryPolicy(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Do(ctx, "fetch", func(context.Context) error {
		return errors.New("connection refused")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryComposesWithBreaker(t *testing.T) {
	b := NewBreaker("ocr-service", BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute, SuccessThreshold: 1}, nil)
	p := DefaultRetryPolicy()
	p.MaxRetries = 1
	e := newTestExecutor(p)

	run := func() error {
		return b.Do(func() error {
			return e.Do(context.Background(), "detect", func(context.Context) error {
				return errors.New("service error from textract")
			})
		})
	}

	// Each exhausted retry chain counts as one breaker failure.
	require.Error(t, run())
	require.Error(t, run())
	assert.Equal(t, StateOpen, b.Status().State)
	assert.ErrorIs(t, run(), ErrCircuitOpen)
}
