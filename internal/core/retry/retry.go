package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	backoff "github.com/sethvargo/go-retry"

	"github.com/oybaeko/HubSpotPipeline/internal/pipeline/metrics"
)

// Classification buckets a warehouse failure for retry purposes.
type Classification int

const (
	// ExpectedTransient marks failures that are the normal first-attempt
	// outcome against a freshly created table or a streaming insert that has
	// not become queryable yet. Retried, logged at Info.
	ExpectedTransient Classification = iota

	// UnexpectedTransient marks network blips, quota pressure, deadlocks.
	// Retried, logged at Warn.
	UnexpectedTransient

	// Permanent marks authorization, schema and input errors. Never retried.
	Permanent
)

func (c Classification) String() string {
	switch c {
	case ExpectedTransient:
		return "expected_transient"
	case UnexpectedTransient:
		return "unexpected_transient"
	case Permanent:
		return "permanent"
	}
	return "unknown"
}

// Classifier maps a raw failure to its classification.
type Classifier func(error) Classification

// Policy defines retry behavior for warehouse operations.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultPolicy provides sensible defaults. The delay doubles each attempt
// up to MaxDelay.
var DefaultPolicy = Policy{
	MaxAttempts:  5,
	InitialDelay: 1 * time.Second,
	MaxDelay:     30 * time.Second,
}

// ExhaustedError is returned when an operation consumed all attempts without
// succeeding. It carries the last classified failure.
type ExhaustedError struct {
	Operation string
	Attempts  int
	Last      Classification
	Err       error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts (%s): %v",
		e.Operation, e.Attempts, e.Last, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Executor runs warehouse operations under the retry policy.
type Executor struct {
	policy Policy
	log    *slog.Logger
}

// NewExecutor creates an executor; a nil logger falls back to slog.Default.
func NewExecutor(policy Policy, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = DefaultPolicy.InitialDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = DefaultPolicy.MaxDelay
	}
	return &Executor{policy: policy, log: log}
}

// Execute runs op until it succeeds, a Permanent failure surfaces, the policy
// is exhausted, or ctx is done. The operation must be idempotent or otherwise
// safe to re-run.
func (e *Executor) Execute(
	ctx context.Context,
	name string,
	classify Classifier,
	op func(ctx context.Context) error,
) error {
	if classify == nil {
		classify = ClassifyWarehouseError
	}

	schedule := backoff.WithCappedDuration(
		e.policy.MaxDelay,
		backoff.NewExponential(e.policy.InitialDelay),
	)

	var lastErr error
	var lastClass Classification

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				e.log.Info("operation succeeded after retry",
					"operation", name, "attempt", attempt)
			}
			return nil
		}

		lastErr = err
		lastClass = classify(err)
		metrics.RetryAttempts.WithLabelValues(name, lastClass.String()).Inc()

		if lastClass == Permanent {
			e.log.Error("operation failed permanently",
				"operation", name, "attempt", attempt, "error", err)
			return fmt.Errorf("%s: %w", name, err)
		}

		// Every failed attempt is logged, the final one included.
		switch lastClass {
		case ExpectedTransient:
			e.log.Info("operation not ready",
				"operation", name, "attempt", attempt,
				"classification", lastClass.String(), "error", err)
		default:
			e.log.Warn("operation failed",
				"operation", name, "attempt", attempt,
				"classification", lastClass.String(), "error", err)
		}

		if attempt == e.policy.MaxAttempts {
			break
		}

		delay, stop := schedule.Next()
		if stop {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return &ExhaustedError{
		Operation: name,
		Attempts:  e.policy.MaxAttempts,
		Last:      lastClass,
		Err:       lastErr,
	}
}

// IsExhausted reports whether err is a retry exhaustion and returns it.
func IsExhausted(err error) (*ExhaustedError, bool) {
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		return ex, true
	}
	return nil, false
}
