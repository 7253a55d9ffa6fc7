// Package retry provides fixed-delay retry policies for calls against the
// query engine.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redash_retries_total",
		Help: "Total number of retry attempts by operation",
	}, []string{"operation"})

	retryWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "redash_retry_wait_seconds",
		Help:    "Wait duration before a retry by operation",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"operation"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redash_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by operation",
	}, []string{"operation"})
)

var (
	// ErrExhausted matches every *ExhaustedError via errors.Is.
	ErrExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled while waiting
	// between attempts.
	ErrContextCancelled = errors.New("context cancelled")

	// errRetryableResult stands in for the last error when attempts run out on a
	// result the caller asked to retry.
	errRetryableResult = errors.New("result still retryable")
)

// Policy describes how an operation is re-attempted.
type Policy struct {
	// Name labels log lines and metrics (e.g. "submit", "poll", "query").
	Name string

	// MaxAttempts is the maximum number of attempts including the first one.
	// Zero means no limit.
	MaxAttempts int

	// Delay is the fixed wait between two attempts.
	Delay time.Duration

	// RetryIf reports whether an error is worth another attempt.
	// Nil retries every error.
	RetryIf func(err error) bool

	// Sleep waits between attempts. Nil waits on a timer and returns early when
	// ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Fixed returns a policy retrying every error up to attempts times with a
// constant delay.
func Fixed(name string, attempts int, delay time.Duration) Policy {
	return Policy{
		Name:        name,
		MaxAttempts: attempts,
		Delay:       delay,
	}
}

// Never reports false for every error. Use it as RetryIf when only results
// should be retried.
func Never(error) bool { return false }

// ExhaustedError is returned once the attempt budget is consumed.
// It unwraps to the error of the last attempt.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %s after %d attempts: %v", e.Op, ErrExhausted, e.Attempts, e.Last)
}

// Unwrap returns the error of the last attempt.
func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Is makes errors.Is(err, ErrExhausted) hold for every ExhaustedError.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

// Do runs op until it succeeds, returns an error the policy does not retry,
// or the attempt budget is exhausted.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, nil)
	return err
}

// DoValue runs op like Do and additionally re-attempts while retryResult
// reports true for a successful result. A nil retryResult accepts every result.
func DoValue[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), retryResult func(T) bool) (T, error) {
	var zero T
	var lastErr error

	attempt := 1
	for ; ; attempt++ {
		value, err := op(ctx)
		if err == nil {
			if retryResult == nil || !retryResult(value) {
				if attempt > 1 {
					log.Debug().
						Str("operation", p.Name).
						Int("attempt", attempt).
						Msg("Operation succeeded after retry")
				}
				return value, nil
			}
			lastErr = errRetryableResult
		} else {
			if !p.shouldRetry(ctx, err) {
				return zero, err
			}
			lastErr = err
		}

		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			break
		}

		retriesTotal.WithLabelValues(p.Name).Inc()
		retryWaitSeconds.WithLabelValues(p.Name).Observe(p.Delay.Seconds())

		event := log.Debug()
		if err != nil {
			event = log.Warn().Err(err)
		}
		event.
			Str("operation", p.Name).
			Int("attempt", attempt).
			Dur("wait", p.Delay).
			Msg("Retrying after fixed delay")

		if err := p.sleep(ctx, p.Delay); err != nil {
			log.Warn().
				Str("operation", p.Name).
				Int("attempt", attempt).
				Msg("Context cancelled during retry wait")
			return zero, fmt.Errorf("%s: %w: %w", p.Name, ErrContextCancelled, err)
		}
	}

	retryExhaustedTotal.WithLabelValues(p.Name).Inc()
	log.Warn().
		Err(lastErr).
		Str("operation", p.Name).
		Int("max_attempts", p.MaxAttempts).
		Msg("Retry attempts exhausted")

	return zero, &ExhaustedError{Op: p.Name, Attempts: attempt, Last: lastErr}
}

func (p Policy) shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if p.RetryIf == nil {
		return true
	}
	return p.RetryIf(err)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
