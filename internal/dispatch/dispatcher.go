package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ProviderRef identifies one configured provider. The order of a provider
// slice is significant: primary first, then backups in declaration order.
// It is never reordered based on runtime health.
type ProviderRef interface {
	Name() string
}

// SoftFailure is implemented by domain results that can report a provider
// acknowledged rejection without a transport error. A rejected result
// advances failover the same way a raised failure does.
type SoftFailure interface {
	Failed() bool
	FailureReason() string
}

// CallConfig tunes one dispatch call. Timeout bounds total wall-clock time
// across all providers and retries combined; zero means unbounded.
type CallConfig struct {
	Policy  Policy
	Timeout time.Duration
}

// Result tags a successful dispatch with the provider that produced it.
type Result[T any] struct {
	Value    T
	Provider string
}

// Dispatcher walks an ordered provider list, delegating each leg to the
// retry executor and aggregating per-provider failures when everything is
// exhausted. It holds no mutable per-call state: concurrent dispatch calls
// do not interfere.
type Dispatcher struct {
	executor *Executor
	logger   *zap.Logger
}

func NewDispatcher(executor *Executor, logger *zap.Logger) (*Dispatcher, error) {
	if executor == nil {
		return nil, fmt.Errorf("retry executor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		executor: executor,
		logger:   logger,
	}, nil
}

// Run tries each provider in order and returns the first success. build is
// invoked once per provider leg so every leg starts from a fresh operation;
// retry counters never carry across providers. Every configured provider is
// attempted before the aggregated failure is returned.
func Run[T any](
	ctx context.Context,
	d *Dispatcher,
	providers []ProviderRef,
	build func(ProviderRef) Operation[T],
	cfg CallConfig,
) (Result[T], error) {
	var zero Result[T]
	if d == nil {
		return zero, fmt.Errorf("dispatcher is required")
	}
	if len(providers) == 0 {
		return zero, fmt.Errorf("no providers configured")
	}
	if build == nil {
		return zero, fmt.Errorf("operation builder is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	failures := make([]ProviderFailure, 0, len(providers))
	for _, ref := range providers {
		if err := ctx.Err(); err != nil {
			// The overall deadline elapsed. Remaining legs fail fast, but the
			// iteration still records every configured provider.
			failures = append(failures, ProviderFailure{Provider: ref.Name(), Reason: reasonText(err)})
			continue
		}

		value, err := Retry(ctx, d.executor, build(ref), cfg.Policy)
		if err != nil {
			reason := reasonText(err)
			d.logger.Warn("provider leg failed",
				zap.String("provider", ref.Name()),
				zap.String("reason", reason),
			)
			failures = append(failures, ProviderFailure{Provider: ref.Name(), Reason: reason})
			continue
		}

		if soft, ok := any(value).(SoftFailure); ok && soft.Failed() {
			reason := soft.FailureReason()
			if reason == "" {
				reason = "rejected by provider"
			}
			d.logger.Warn("provider rejected request",
				zap.String("provider", ref.Name()),
				zap.String("reason", reason),
			)
			failures = append(failures, ProviderFailure{Provider: ref.Name(), Reason: reason})
			continue
		}

		return Result[T]{Value: value, Provider: ref.Name()}, nil
	}

	return zero, &AllFailedError{Failures: failures}
}

// reasonText strips retry bookkeeping so aggregated output carries the last
// observed provider reason rather than the executor's wrapper message.
func reasonText(err error) string {
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) && exhausted.Last != nil {
		return exhausted.Last.Error()
	}
	return err.Error()
}
