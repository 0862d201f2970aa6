package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/courierhq/courier/internal/dispatch"
	"github.com/courierhq/courier/internal/domain"
	"github.com/courierhq/courier/internal/observability"
	"github.com/courierhq/courier/internal/provider"
)

const storageRateScope = "storage"

// StorageService uploads attachments and render artifacts through an ordered
// storage-provider chain.
type StorageService struct {
	dispatcher *dispatch.Dispatcher
	providers  []provider.StorageProvider
	policy     dispatch.Policy
	timeout    time.Duration
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// UploadOutcome reports where an object landed.
type UploadOutcome struct {
	Location string
	ETag     string
	Provider string
}

func NewStorageService(
	dispatcher *dispatch.Dispatcher,
	providers []provider.StorageProvider,
	policy dispatch.Policy,
	timeout time.Duration,
	logger *zap.Logger,
) (*StorageService, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one storage provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StorageService{
		dispatcher: dispatcher,
		providers:  providers,
		policy:     policy,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

func (s *StorageService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Providers exposes the configured chain for diagnostics endpoints.
func (s *StorageService) Providers() []provider.StorageProvider {
	return s.providers
}

func (s *StorageService) Upload(ctx context.Context, obj domain.Object) (*UploadOutcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := obj.Validate(); err != nil {
		return nil, err
	}

	refs := make([]dispatch.ProviderRef, 0, len(s.providers))
	for _, p := range s.providers {
		refs = append(refs, p)
	}

	build := func(ref dispatch.ProviderRef) dispatch.Operation[*provider.UploadResult] {
		sp := ref.(provider.StorageProvider)
		return func(ctx context.Context) (*provider.UploadResult, error) {
			s.metrics.IncDispatchAttempt(sp.Name())
			return sp.Upload(ctx, obj)
		}
	}

	result, err := dispatch.Run(ctx, s.dispatcher, refs, build, dispatch.CallConfig{
		Policy:  s.policy,
		Timeout: s.timeout,
	})
	if err != nil {
		s.metrics.IncDispatchExhausted(storageRateScope)
		s.logger.Error("object upload failed on every provider",
			zap.String("key", obj.Key),
			zap.Error(err),
		)
		return nil, err
	}

	outcome := &UploadOutcome{Provider: result.Provider}
	if result.Value != nil {
		outcome.Location = result.Value.Location
		outcome.ETag = result.Value.ETag
	}
	return outcome, nil
}
