package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/courierhq/courier/internal/dispatch"
	"github.com/courierhq/courier/internal/domain"
	"github.com/courierhq/courier/internal/observability"
	"github.com/courierhq/courier/internal/provider"
)

// SendOptions tunes one delivery call. Zero values fall back to the
// service defaults loaded from configuration.
type SendOptions struct {
	SkipValidation bool
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	Timeout        time.Duration
}

// LegOutcome is the audit record of one provider leg: the last attempt's
// response metadata and failure reason, if any. Legs appear in the order
// providers were walked, including legs cut short by an elapsed deadline.
type LegOutcome struct {
	Provider     string
	StatusCode   *int
	ResponseBody *string
	Err          *string
}

// DeliveryResult describes a completed delivery call.
type DeliveryResult struct {
	Provider          string
	ProviderMessageID string
	Legs              []LegOutcome
}

// DeliveryService is the synchronous delivery path: structural validation,
// then an ordered walk over the channel's providers with per-provider retry.
type DeliveryService struct {
	dispatcher *dispatch.Dispatcher
	providers  map[domain.Channel][]provider.MessageProvider
	policy     dispatch.Policy
	timeout    time.Duration
	metrics    *observability.Metrics
	logger     *zap.Logger
}

func NewDeliveryService(
	dispatcher *dispatch.Dispatcher,
	providers map[domain.Channel][]provider.MessageProvider,
	policy dispatch.Policy,
	timeout time.Duration,
	logger *zap.Logger,
) (*DeliveryService, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one channel needs providers")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeliveryService{
		dispatcher: dispatcher,
		providers:  providers,
		policy:     policy,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

func (s *DeliveryService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Providers exposes the configured topology for diagnostics endpoints.
func (s *DeliveryService) Providers() map[domain.Channel][]provider.MessageProvider {
	return s.providers
}

// Deliver sends one message. Validation runs first unless the message or the
// options opt out; a validation failure never reaches a provider. On total
// failure the returned error aggregates one reason per provider leg.
func (s *DeliveryService) Deliver(ctx context.Context, msg domain.Message, opts SendOptions) (*DeliveryResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !opts.SkipValidation && !msg.SkipValidation {
		if err := msg.Validate(); err != nil {
			return nil, err
		}
	}

	chain, ok := s.providers[msg.Channel]
	if !ok || len(chain) == 0 {
		return nil, fmt.Errorf("no providers configured for channel %s", msg.Channel)
	}

	refs := make([]dispatch.ProviderRef, 0, len(chain))
	for _, p := range chain {
		refs = append(refs, p)
	}

	captures := newLegCaptures(len(chain))
	build := func(ref dispatch.ProviderRef) dispatch.Operation[*provider.SendResult] {
		mp := ref.(provider.MessageProvider)
		return func(ctx context.Context) (*provider.SendResult, error) {
			s.metrics.IncDispatchAttempt(mp.Name())
			result, err := mp.Send(ctx, msg)
			captures.record(mp.Name(), result, err)
			return result, err
		}
	}

	channelName := strings.ToLower(msg.Channel.String())
	start := time.Now()
	result, err := dispatch.Run(ctx, s.dispatcher, refs, build, s.callConfig(opts))
	s.metrics.ObserveSendDuration(channelName, time.Since(start))

	if err != nil {
		var allFailed *dispatch.AllFailedError
		if errors.As(err, &allFailed) {
			s.metrics.IncDispatchExhausted(channelName)
			return &DeliveryResult{Legs: captures.mergeFailures(allFailed.Failures)}, err
		}
		return nil, err
	}

	legs := captures.ordered()
	for i := 0; i < len(legs)-1; i++ {
		s.metrics.IncDispatchFailover(legs[i].Provider)
	}
	s.metrics.IncMessageSent(channelName, result.Provider)

	delivered := &DeliveryResult{
		Provider: result.Provider,
		Legs:     legs,
	}
	if result.Value != nil {
		delivered.ProviderMessageID = result.Value.MessageID
	}
	return delivered, nil
}

func (s *DeliveryService) callConfig(opts SendOptions) dispatch.CallConfig {
	policy := s.policy
	if opts.MaxAttempts > 0 {
		policy.MaxAttempts = opts.MaxAttempts
	}
	if opts.InitialDelay > 0 {
		policy.InitialDelay = opts.InitialDelay
	}
	if opts.MaxDelay > 0 {
		policy.MaxDelay = opts.MaxDelay
	}
	if opts.BackoffFactor > 0 {
		policy.BackoffFactor = opts.BackoffFactor
	}

	timeout := s.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	return dispatch.CallConfig{Policy: policy, Timeout: timeout}
}

// legCaptures keeps the last observed outcome per provider, in first-seen
// order. Sequential dispatch means no locking is needed.
type legCaptures struct {
	order   []string
	outcome map[string]LegOutcome
}

func newLegCaptures(capacity int) *legCaptures {
	return &legCaptures{
		order:   make([]string, 0, capacity),
		outcome: make(map[string]LegOutcome, capacity),
	}
}

func (c *legCaptures) record(providerName string, result *provider.SendResult, err error) {
	leg := LegOutcome{Provider: providerName}

	if result != nil {
		if result.StatusCode > 0 {
			code := result.StatusCode
			leg.StatusCode = &code
		}
		if body := strings.TrimSpace(result.Body); body != "" {
			value := result.Body
			leg.ResponseBody = &value
		}
		if result.Failed() {
			reason := result.FailureReason()
			leg.Err = &reason
		}
	}

	if err != nil {
		text := err.Error()
		leg.Err = &text

		var providerErr *provider.ProviderError
		if errors.As(err, &providerErr) && providerErr.StatusCode > 0 && leg.StatusCode == nil {
			code := providerErr.StatusCode
			leg.StatusCode = &code
		}
	}

	if _, seen := c.outcome[providerName]; !seen {
		c.order = append(c.order, providerName)
	}
	c.outcome[providerName] = leg
}

func (c *legCaptures) ordered() []LegOutcome {
	legs := make([]LegOutcome, 0, len(c.order))
	for _, name := range c.order {
		legs = append(legs, c.outcome[name])
	}
	return legs
}

// mergeFailures builds the full leg list from the aggregated failures,
// enriching invoked legs with captured response metadata. Providers that
// were failed fast by an elapsed deadline have no capture; their failure
// reason is all there is to record.
func (c *legCaptures) mergeFailures(failures []dispatch.ProviderFailure) []LegOutcome {
	legs := make([]LegOutcome, 0, len(failures))
	for _, failure := range failures {
		if captured, ok := c.outcome[failure.Provider]; ok {
			if captured.Err == nil {
				reason := failure.Reason
				captured.Err = &reason
			}
			legs = append(legs, captured)
			continue
		}

		reason := failure.Reason
		legs = append(legs, LegOutcome{Provider: failure.Provider, Err: &reason})
	}
	return legs
}
