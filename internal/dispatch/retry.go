package dispatch

import (
	"context"
	"fmt"
	"time"
)

// Operation is one unit of provider work. A fresh invocation is made on every
// attempt; no partial state is reused, so retry safety stays with the caller.
type Operation[T any] func(ctx context.Context) (T, error)

// Classifier reports whether a failure is worth retrying against the same
// provider. Anything it rejects is terminal for that provider.
type Classifier func(error) bool

// Executor retries an operation with exponential backoff, stopping early on
// failures the classifier marks terminal.
type Executor struct {
	classify Classifier
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewExecutor(classify Classifier) (*Executor, error) {
	return newExecutor(classify, sleepWithContext)
}

func newExecutor(classify Classifier, sleepFn func(ctx context.Context, d time.Duration) error) (*Executor, error) {
	if classify == nil {
		return nil, fmt.Errorf("failure classifier is required")
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &Executor{
		classify: classify,
		sleep:    sleepFn,
	}, nil
}

// ExhaustedError reports that every attempt the policy allows failed with a
// retryable error. Last carries the final attempt's failure.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry budget exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Retry runs op until it succeeds, fails terminally, or the attempt budget
// runs out. It never exceeds policy.MaxAttempts invocations and never retries
// a terminal failure, regardless of remaining budget.
func Retry[T any](ctx context.Context, ex *Executor, op Operation[T], policy Policy) (T, error) {
	var zero T
	if ex == nil {
		return zero, fmt.Errorf("retry executor is required")
	}
	if op == nil {
		return zero, fmt.Errorf("operation is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	p := policy.normalized()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		if !ex.classify(err) {
			return zero, err
		}
		if attempt == p.MaxAttempts {
			return zero, &ExhaustedError{Attempts: attempt, Last: err}
		}

		if sleepErr := ex.sleep(ctx, p.Delay(attempt+1)); sleepErr != nil {
			return zero, sleepErr
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
