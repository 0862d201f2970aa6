package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/courierhq/courier/internal/domain"
	"github.com/courierhq/courier/internal/observability"
	"github.com/courierhq/courier/internal/queue"
	"github.com/courierhq/courier/internal/ratelimit"
	"github.com/courierhq/courier/internal/repository"
)

const (
	minWorkerConcurrency = 1
	baseRedeliveryDelay  = time.Second
	maxRedeliveryDelay   = 60 * time.Second
)

// WorkerService drains the channel work queues and runs each job through the
// synchronous delivery path, recording the outcome.
type WorkerService struct {
	messages    repository.MessageRepository
	attempts    repository.AttemptRepository
	consumer    queue.Consumer
	delivery    *DeliveryService
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	now         func() time.Time
}

func NewWorkerService(
	messages repository.MessageRepository,
	attempts repository.AttemptRepository,
	consumer queue.Consumer,
	delivery *DeliveryService,
	rateLimiter ratelimit.RateLimiter,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if messages == nil {
		return nil, fmt.Errorf("message repository is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("queue consumer is required")
	}
	if delivery == nil {
		return nil, fmt.Errorf("delivery service is required")
	}
	if rateLimiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		messages:    messages,
		attempts:    attempts,
		consumer:    consumer,
		delivery:    delivery,
		rateLimiter: rateLimiter,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes channel queues and processes delivery jobs until context
// cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := s.consumer.Consume(groupCtx, queueName, s.processJob)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processJob(ctx context.Context, job queue.DeliveryJob) error {
	msg, err := s.messages.LockForSending(ctx, job.MessageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("message not found during lock, skipping",
				zap.String("messageId", job.MessageID),
			)
			return nil
		}
		return fmt.Errorf("failed to lock message for sending: %w", err)
	}

	// Nil means terminal/sending state; ack and skip.
	if msg == nil {
		return nil
	}

	channelName := strings.ToLower(msg.Channel.String())
	if s.metrics != nil {
		s.metrics.IncWorkerInFlight(channelName)
		defer s.metrics.DecWorkerInFlight(channelName)
	}

	if err := s.rateLimiter.Wait(ctx, channelName); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	result, deliverErr := s.delivery.Deliver(ctx, *msg, SendOptions{})

	if err := s.recordLegs(ctx, msg.ID, result); err != nil {
		return fmt.Errorf("failed to record delivery attempts: %w", err)
	}

	if deliverErr == nil {
		if err := s.messages.MarkDelivered(ctx, msg.ID, result.Provider, result.ProviderMessageID); err != nil {
			return fmt.Errorf("failed to mark message as sent: %w", err)
		}
		return nil
	}

	if errors.Is(deliverErr, domain.ErrValidation) {
		if err := s.messages.UpdateStatus(ctx, msg.ID, domain.StatusFailed); err != nil {
			return fmt.Errorf("failed to mark malformed message as failed: %w", err)
		}
		if s.metrics != nil {
			s.metrics.IncMessageFailed(channelName, "validation_failed")
		}
		return nil
	}

	// Every provider failed this cycle. Defer if the message still has
	// dispatch budget, fail it otherwise.
	if msg.DispatchCount+1 < msg.MaxDispatches {
		nextDispatchAt := s.now().Add(redeliveryDelay(msg.DispatchCount + 1))
		if err := s.messages.MarkDeferred(ctx, msg.ID, nextDispatchAt); err != nil {
			return fmt.Errorf("failed to defer message: %w", err)
		}
		if s.metrics != nil {
			s.metrics.IncRedeliveryScheduled(channelName)
		}
		s.logger.Info("message deferred",
			zap.String("messageId", msg.ID),
			zap.Time("nextDispatchAt", nextDispatchAt),
			zap.String("reason", deliverErr.Error()),
		)
		return nil
	}

	if err := s.messages.UpdateStatus(ctx, msg.ID, domain.StatusFailed); err != nil {
		return fmt.Errorf("failed to mark message as failed: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncMessageFailed(channelName, "dispatch_exhausted")
	}
	s.logger.Warn("message failed after exhausting dispatch budget",
		zap.String("messageId", msg.ID),
		zap.Int("dispatches", msg.DispatchCount+1),
		zap.String("reason", deliverErr.Error()),
	)

	return nil
}

// redeliveryDelay grows deterministically with the number of completed
// dispatch cycles, doubling from one second up to the cap.
func redeliveryDelay(completedDispatches int) time.Duration {
	if completedDispatches < 1 {
		completedDispatches = 1
	}

	delay := baseRedeliveryDelay
	for i := 1; i < completedDispatches; i++ {
		delay *= 2
		if delay >= maxRedeliveryDelay {
			return maxRedeliveryDelay
		}
	}

	return delay
}

func (s *WorkerService) recordLegs(ctx context.Context, messageID string, result *DeliveryResult) error {
	if result == nil {
		return nil
	}

	for i, leg := range result.Legs {
		attempt := &domain.DeliveryAttempt{
			ID:            uuid.NewString(),
			MessageID:     messageID,
			Provider:      leg.Provider,
			AttemptNumber: i + 1,
			StatusCode:    leg.StatusCode,
			ResponseBody:  leg.ResponseBody,
			Error:         leg.Err,
			CreatedAt:     s.now().UTC(),
		}
		if err := s.attempts.Create(ctx, attempt); err != nil {
			return err
		}
	}

	return nil
}
