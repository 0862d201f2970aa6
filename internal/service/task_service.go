package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/courierhq/courier/internal/dispatch"
	"github.com/courierhq/courier/internal/domain"
	"github.com/courierhq/courier/internal/observability"
	"github.com/courierhq/courier/internal/provider"
)

const taskRateScope = "tasks"

// TaskService enqueues deferred work through an ordered task-provider chain:
// the broker first, falling over to the backup backend when it is down.
type TaskService struct {
	dispatcher *dispatch.Dispatcher
	providers  []provider.TaskProvider
	policy     dispatch.Policy
	timeout    time.Duration
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// EnqueueOutcome reports where a task landed.
type EnqueueOutcome struct {
	TaskID   string
	Provider string
}

func NewTaskService(
	dispatcher *dispatch.Dispatcher,
	providers []provider.TaskProvider,
	policy dispatch.Policy,
	timeout time.Duration,
	logger *zap.Logger,
) (*TaskService, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one task provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TaskService{
		dispatcher: dispatcher,
		providers:  providers,
		policy:     policy,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

func (s *TaskService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Providers exposes the configured chain for diagnostics endpoints.
func (s *TaskService) Providers() []provider.TaskProvider {
	return s.providers
}

func (s *TaskService) Enqueue(ctx context.Context, task domain.Task) (*EnqueueOutcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if strings.TrimSpace(task.ID) == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}

	refs := make([]dispatch.ProviderRef, 0, len(s.providers))
	for _, p := range s.providers {
		refs = append(refs, p)
	}

	build := func(ref dispatch.ProviderRef) dispatch.Operation[*provider.EnqueueResult] {
		tp := ref.(provider.TaskProvider)
		return func(ctx context.Context) (*provider.EnqueueResult, error) {
			s.metrics.IncDispatchAttempt(tp.Name())
			return tp.Enqueue(ctx, task)
		}
	}

	result, err := dispatch.Run(ctx, s.dispatcher, refs, build, dispatch.CallConfig{
		Policy:  s.policy,
		Timeout: s.timeout,
	})
	if err != nil {
		s.metrics.IncDispatchExhausted(taskRateScope)
		s.logger.Error("task enqueue failed on every provider",
			zap.String("taskId", task.ID),
			zap.String("queue", task.Queue),
			zap.Error(err),
		)
		return nil, err
	}

	outcome := &EnqueueOutcome{TaskID: task.ID, Provider: result.Provider}
	if result.Value != nil && result.Value.TaskID != "" {
		outcome.TaskID = result.Value.TaskID
	}
	return outcome, nil
}
