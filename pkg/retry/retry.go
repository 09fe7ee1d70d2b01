// Package retry implements the bounded-attempt, seeded exponential backoff
// engine shared by the exporter and the export job runner. Delays come
// from clock.Jitter, so two runs with the same correlation id and op
// observe identical backoff sequences.
package retry

import (
	"context"
	"errors"
	"fmt"

	"github.com/sabt-export/core/pkg/clock"
	"github.com/sabt-export/core/pkg/metrics"
)

// Policy configures a bounded retry run.
type Policy struct {
	BaseDelaySeconds float64
	Factor           float64 // reserved for non-doubling policies; exponential doubling is baked into clock.Jitter
	MaxDelaySeconds  float64
	MaxAttempts      int
}

// DefaultPolicy is the stock tuning: three attempts, 100ms base, 5s cap.
func DefaultPolicy() Policy {
	return Policy{BaseDelaySeconds: 0.1, Factor: 2, MaxDelaySeconds: 5, MaxAttempts: 3}
}

// RetryExhaustedError is raised when every attempt of a retryable operation
// has been exhausted.
type RetryExhaustedError struct {
	Op            string
	CorrelationID string
	LastError     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted for op=%s correlation_id=%s: %v", e.Op, e.CorrelationID, e.LastError)
}

func (e *RetryExhaustedError) Unwrap() error { return e.LastError }

// Classifier decides whether an error is retryable at all. Validation,
// authorization, and business-empty errors must never be retried; only the
// transient I/O class should return true.
type Classifier func(err error) bool

// ClassifyAny treats every non-nil error as retryable. Use ClassifyKinds to
// restrict to specific sentinel/wrapped error kinds.
func ClassifyAny(err error) bool { return err != nil }

// ClassifyKinds builds a Classifier that matches via errors.Is against the
// given sentinel errors.
func ClassifyKinds(kinds ...error) Classifier {
	return func(err error) bool {
		for _, k := range kinds {
			if errors.Is(err, k) {
				return true
			}
		}
		return false
	}
}

// Execute runs fn, retrying on classifier-matched errors per policy, using
// sleeper (usually the same clock as clk) for delays so frozen-clock tests
// observe deterministic, non-blocking advancement; clk itself is not read.
// correlationID and op seed the deterministic jitter and label metrics.
func Execute[T any](
	ctx context.Context,
	fn func(ctx context.Context) (T, error),
	policy Policy,
	clk clock.Clock,
	sleeper clock.Sleeper,
	retryable Classifier,
	reg *metrics.Registry,
	correlationID string,
	op string,
) (T, error) {
	var zero T
	var lastErr error

	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			if reg != nil {
				reg.RetryAttempts(op, "success").Inc()
			}
			return result, nil
		}

		lastErr = err

		if retryable == nil || !retryable(err) {
			if reg != nil {
				reg.RetryAttempts(op, "failure").Inc()
			}
			return zero, err
		}

		if attempt == maxAttempts {
			break
		}

		seed := fmt.Sprintf("%s:%s:%d", correlationID, op, attempt)
		delay := clock.JitterBounded(policy.BaseDelaySeconds, attempt, seed, policy.MaxDelaySeconds)
		if reg != nil {
			reg.RetryAttempts(op, "retry").Inc()
			reg.RetryBackoffSeconds(op).Observe(delay)
		}
		sleeper.Sleep(secondsToDuration(delay))
	}

	if reg != nil {
		reg.RetryExhaustion(op).Inc()
	}
	return zero, &RetryExhaustedError{Op: op, CorrelationID: correlationID, LastError: lastErr}
}
