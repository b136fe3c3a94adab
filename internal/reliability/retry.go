package reliability

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"resume-pipeline/internal/extracterr"
)

// ErrBudgetExceeded marks a retry chain aborted because its total time
// budget ran out. Callers treat it the same as exhausting retries.
var ErrBudgetExceeded = errors.New("retry budget exceeded")

// UnavailableError is the terminal failure after retries are exhausted. It
// wraps the last attempt's error and carries the 503-equivalent retry hint.
type UnavailableError struct {
	Attempts   int
	RetryAfter time.Duration
	Last       error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("service unavailable after %d attempts: %v", e.Attempts, e.Last)
}

func (e *UnavailableError) Unwrap() error { return e.Last }

// RetryPolicy bounds one retry chain.
type RetryPolicy struct {
	MaxRetries    int
	BackoffFactor time.Duration
	Retryable     map[extracterr.Kind]bool
	Budget        time.Duration // zero means unbounded
	RetryAfter    time.Duration // hint on the terminal error
}

// DefaultRetryPolicy retries transient service-side failures.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		BackoffFactor: time.Second,
		Retryable: map[extracterr.Kind]bool{
			extracterr.ServiceError:      true,
			extracterr.NetworkError:      true,
			extracterr.JobTimeout:        true,
			extracterr.ProcessingTimeout: true,
			extracterr.Unknown:           true,
		},
		Budget:     2 * time.Minute,
		RetryAfter: 30 * time.Second,
	}
}

// Executor runs functions under a retry policy. Sleeps block only the
// calling goroutine's unit of work and honor context cancellation.
type Executor struct {
	policy RetryPolicy
	log    *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewExecutor builds an executor for the given policy.
func NewExecutor(policy RetryPolicy, log *zap.Logger) *Executor {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.BackoffFactor <= 0 {
		policy.BackoffFactor = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		policy: policy,
		log:    log.Named("retry"),
		sleep:  sleepCtx,
		now:    time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// classify resolves the kind driving the retry decision: classified errors
// keep their kind, anything else is classified from its message.
func classify(err error) extracterr.Kind {
	var ce *extracterr.Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return extracterr.Classify(err.Error())
}

// Do invokes fn up to MaxRetries+1 times. Non-retryable failures propagate
// immediately; budget exhaustion aborts with ErrBudgetExceeded; exhausting
// retries wraps the last failure in an UnavailableError.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := e.now()
	var last error

	for attempt := 0; attempt <= e.policy.MaxRetries; attempt++ {
		if e.policy.Budget > 0 && e.now().Sub(start) > e.policy.Budget {
			return fmt.Errorf("%s after %d attempts: %w", op, attempt, ErrBudgetExceeded)
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				e.log.Info("succeeded after retry",
					zap.String("op", op), zap.Int("attempt", attempt+1))
			}
			return nil
		}
		last = err

		kind := classify(err)
		if !e.policy.Retryable[kind] {
			return err
		}
		if attempt == e.policy.MaxRetries {
			break
		}

		delay := e.backoff(attempt)
		e.log.Warn("retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", e.policy.MaxRetries+1),
			zap.String("kind", string(kind)),
			zap.Duration("delay", delay),
			zap.Error(err))
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return &UnavailableError{
		Attempts:   e.policy.MaxRetries + 1,
		RetryAfter: e.policy.RetryAfter,
		Last:       last,
	}
}

func (e *Executor) backoff(attempt int) time.Duration {
	exp := float64(e.policy.BackoffFactor) * math.Pow(2, float64(attempt))
	jitter := time.Duration(rand.Int63n(int64(e.policy.BackoffFactor)))
	return time.Duration(exp) + jitter
}
