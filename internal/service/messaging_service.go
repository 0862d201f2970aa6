package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/courierhq/courier/internal/domain"
	"github.com/courierhq/courier/internal/queue"
	"github.com/courierhq/courier/internal/repository"
)

const (
	defaultMaxDispatches = 5
	maxBatchSize         = 1000
)

// MessagingService is the API-side intake path: accept a message, persist
// it, and hand it to the async delivery pipeline.
type MessagingService struct {
	messages  repository.MessageRepository
	batches   repository.BatchRepository
	publisher queue.Publisher
	logger    *zap.Logger
}

type BatchSummary struct {
	BatchID    string
	TotalCount int
	Status     domain.BatchStatus
	Counts     []StatusCount
}

type StatusCount struct {
	Status domain.Status
	Count  int
}

func NewMessagingService(
	messages repository.MessageRepository,
	batches repository.BatchRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*MessagingService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MessagingService{
		messages:  messages,
		batches:   batches,
		publisher: publisher,
		logger:    logger,
	}, nil
}

func (s *MessagingService) Create(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := prepareMessageForCreate(msg, nil); err != nil {
		return nil, err
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		existing, resolved, resolveErr := s.resolveIdempotencyConflict(ctx, err, msg.IdempotencyKey)
		if resolveErr != nil {
			return nil, resolveErr
		}
		if resolved {
			return existing, nil
		}
		return nil, err
	}

	now := time.Now().UTC()
	if !shouldEnqueueImmediately(msg.ScheduledAt, now) {
		return msg, nil
	}

	job := queue.DeliveryJob{
		MessageID:     msg.ID,
		CorrelationID: msg.CorrelationID,
		Channel:       msg.Channel,
		Priority:      msg.Priority,
	}
	if err := s.publisher.Publish(ctx, queue.QueueName(msg.Channel), job); err != nil {
		s.logger.Error("failed to publish message",
			zap.String("messageId", msg.ID),
			zap.String("channel", string(msg.Channel)),
			zap.Error(err),
		)
		if updateErr := s.messages.UpdateStatus(ctx, msg.ID, domain.StatusFailed); updateErr != nil {
			s.logger.Error("failed to mark message as failed after publish error",
				zap.String("messageId", msg.ID),
				zap.Error(updateErr),
			)
			return nil, fmt.Errorf("failed to publish message: %w (failed to mark as failed: %v)", err, updateErr)
		}
		msg.Status = domain.StatusFailed
		return nil, fmt.Errorf("failed to publish message: %w", err)
	}

	if err := s.messages.UpdateStatus(ctx, msg.ID, domain.StatusQueued); err != nil {
		return nil, fmt.Errorf("failed to update message status to queued: %w", err)
	}
	msg.Status = domain.StatusQueued

	return msg, nil
}

func (s *MessagingService) CreateBatch(
	ctx context.Context,
	messages []domain.Message,
) (*domain.Batch, []domain.Message, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if len(messages) == 0 {
		return nil, nil, fmt.Errorf("%w: batch must include at least one message", domain.ErrValidation)
	}
	if len(messages) > maxBatchSize {
		return nil, nil, fmt.Errorf("%w: batch size exceeds %d", domain.ErrValidation, maxBatchSize)
	}

	batchID := uuid.NewString()

	created := make([]domain.Message, len(messages))
	createdPtrs := make([]*domain.Message, len(messages))
	for i := range messages {
		created[i] = messages[i]
		if err := prepareMessageForCreate(&created[i], &batchID); err != nil {
			return nil, nil, err
		}
		createdPtrs[i] = &created[i]
	}

	batch := &domain.Batch{
		ID:         batchID,
		TotalCount: len(messages),
		Status:     domain.BatchStatusProcessing,
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, nil, err
	}

	if err := s.messages.CreateBatch(ctx, createdPtrs); err != nil {
		_ = s.batches.UpdateStatus(ctx, batch.ID, domain.BatchStatusPartialFailure)
		return nil, nil, err
	}

	failed := 0
	now := time.Now().UTC()
	for i := range createdPtrs {
		current := createdPtrs[i]
		if !shouldEnqueueImmediately(current.ScheduledAt, now) {
			continue
		}

		job := queue.DeliveryJob{
			MessageID:     current.ID,
			CorrelationID: current.CorrelationID,
			Channel:       current.Channel,
			Priority:      current.Priority,
		}

		if err := s.publisher.Publish(ctx, queue.QueueName(current.Channel), job); err != nil {
			s.logger.Error("batch: failed to publish message",
				zap.String("messageId", current.ID),
				zap.String("channel", string(current.Channel)),
				zap.Error(err),
			)
			failed++
			_ = s.messages.UpdateStatus(ctx, current.ID, domain.StatusFailed)
			current.Status = domain.StatusFailed
			continue
		}
		if err := s.messages.UpdateStatus(ctx, current.ID, domain.StatusQueued); err != nil {
			failed++
			continue
		}
		current.Status = domain.StatusQueued
	}

	batch.Status = domain.BatchStatusCompleted
	if failed > 0 {
		batch.Status = domain.BatchStatusPartialFailure
	}
	if err := s.batches.UpdateStatus(ctx, batch.ID, batch.Status); err != nil {
		return nil, nil, err
	}

	if failed > 0 {
		s.logger.Warn("batch completed with partial failure",
			zap.String("batchId", batch.ID),
			zap.Int("failed", failed),
			zap.Int("total", len(created)),
		)
		return batch, created, fmt.Errorf("batch queued with partial failure: %d/%d failed", failed, len(created))
	}

	return batch, created, nil
}

func (s *MessagingService) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: message id is required", domain.ErrValidation)
	}
	return s.messages.GetByID(ctx, strings.TrimSpace(id))
}

func (s *MessagingService) GetBatchSummary(ctx context.Context, batchID string) (*BatchSummary, error) {
	if strings.TrimSpace(batchID) == "" {
		return nil, fmt.Errorf("%w: batch id is required", domain.ErrValidation)
	}

	batch, err := s.batches.GetByID(ctx, strings.TrimSpace(batchID))
	if err != nil {
		return nil, err
	}

	statuses, err := s.messages.GetBatchSummary(ctx, batchID)
	if err != nil {
		return nil, err
	}

	counts := make([]StatusCount, 0, len(statuses))
	for _, summary := range statuses {
		counts = append(counts, StatusCount{
			Status: summary.Status,
			Count:  summary.Count,
		})
	}

	return &BatchSummary{
		BatchID:    batch.ID,
		TotalCount: batch.TotalCount,
		Status:     batch.Status,
		Counts:     counts,
	}, nil
}

func (s *MessagingService) Cancel(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: message id is required", domain.ErrValidation)
	}
	return s.messages.Cancel(ctx, strings.TrimSpace(id))
}

func (s *MessagingService) List(
	ctx context.Context,
	params repository.ListParams,
) ([]domain.Message, int64, error) {
	return s.messages.List(ctx, params)
}

func prepareMessageForCreate(m *domain.Message, batchID *string) error {
	if m == nil {
		return fmt.Errorf("%w: message is required", domain.ErrValidation)
	}

	m.Recipient = strings.TrimSpace(m.Recipient)
	m.Content = strings.TrimSpace(m.Content)
	m.CorrelationID = strings.TrimSpace(m.CorrelationID)
	if m.CorrelationID == "" {
		m.CorrelationID = uuid.NewString()
	}

	m.ID = strings.TrimSpace(m.ID)
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	m.IdempotencyKey = normalizeOptionalString(m.IdempotencyKey)
	if batchID != nil {
		m.BatchID = batchID
	}

	m.Status = domain.StatusAccepted
	m.DispatchCount = 0
	if m.MaxDispatches <= 0 {
		m.MaxDispatches = defaultMaxDispatches
	}
	m.DeliveredBy = nil
	m.ProviderMessageID = nil
	m.NextDispatchAt = nil

	if m.SkipValidation {
		return nil
	}
	return m.Validate()
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func shouldEnqueueImmediately(scheduledAt *time.Time, now time.Time) bool {
	if scheduledAt == nil {
		return true
	}
	return !scheduledAt.After(now)
}

func (s *MessagingService) resolveIdempotencyConflict(
	ctx context.Context,
	createErr error,
	idempotencyKey *string,
) (*domain.Message, bool, error) {
	if idempotencyKey == nil || strings.TrimSpace(*idempotencyKey) == "" {
		return nil, false, nil
	}
	if !isUniqueViolationError(createErr) {
		return nil, false, nil
	}

	existing, err := s.messages.GetByIdempotencyKey(ctx, strings.TrimSpace(*idempotencyKey))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing message after idempotency conflict: %w", err)
	}
	s.logger.Info("idempotency conflict resolved",
		zap.String("existingId", existing.ID),
		zap.String("idempotencyKey", *idempotencyKey),
	)
	return existing, true, nil
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
