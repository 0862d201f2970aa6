package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"
)

// transientError marks a failure the test classifier treats as retryable.
type transientError struct {
	msg string
}

func (e *transientError) Error() string { return e.msg }

func classifyTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// sleepRecorder captures backoff delays instead of actually sleeping.
type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func newTestExecutor(t *testing.T) (*Executor, *sleepRecorder) {
	t.Helper()

	recorder := &sleepRecorder{}
	ex, err := newExecutor(classifyTransient, recorder.sleep)
	if err != nil {
		t.Fatalf("newExecutor() error = %v", err)
	}
	return ex, recorder
}

// namedRef is a minimal ProviderRef for orchestrator tests.
type namedRef string

func (r namedRef) Name() string { return string(r) }

func refs(names ...string) []ProviderRef {
	out := make([]ProviderRef, 0, len(names))
	for _, name := range names {
		out = append(out, namedRef(name))
	}
	return out
}

// fakeSendResult stands in for a domain result that can report a
// provider-acknowledged rejection.
type fakeSendResult struct {
	id       string
	rejected bool
	reason   string
}

func (r *fakeSendResult) Failed() bool          { return r != nil && r.rejected }
func (r *fakeSendResult) FailureReason() string { return r.reason }
