package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/courierhq/courier/internal/domain"
	"github.com/courierhq/courier/internal/queue"
	"github.com/courierhq/courier/internal/repository"
)

const (
	defaultScanInterval = 5 * time.Second
	defaultScanLimit    = 100
)

// RedeliveryScanner periodically re-enqueues due messages: deferred messages
// whose next dispatch time has passed, and scheduled messages whose send
// time has arrived.
type RedeliveryScanner struct {
	messages  repository.MessageRepository
	publisher queue.Publisher
	logger    *zap.Logger
	interval  time.Duration
	limit     int
}

func NewRedeliveryScanner(
	messages repository.MessageRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RedeliveryScanner, error) {
	if messages == nil {
		return nil, fmt.Errorf("message repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultScanInterval
	}
	if limit <= 0 {
		limit = defaultScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedeliveryScanner{
		messages:  messages,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		limit:     limit,
	}, nil
}

func (s *RedeliveryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so already-due messages do not wait for the first
	// ticker edge.
	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("redelivery scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("redelivery scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *RedeliveryScanner) scanDue(ctx context.Context) error {
	dueMessages, err := s.messages.GetDueForDispatch(ctx, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due messages: %w", err)
	}

	for i := range dueMessages {
		msg := dueMessages[i]
		job := queue.DeliveryJob{
			MessageID:     msg.ID,
			CorrelationID: msg.CorrelationID,
			Channel:       msg.Channel,
			Priority:      msg.Priority,
		}

		queueName := queue.QueueName(msg.Channel)
		if err := s.publisher.Publish(ctx, queueName, job); err != nil {
			s.logger.Error("failed to enqueue due message",
				zap.String("messageId", msg.ID),
				zap.String("queue", queueName),
				zap.Error(err),
			)
			continue
		}

		if err := s.messages.UpdateStatus(ctx, msg.ID, domain.StatusQueued); err != nil {
			s.logger.Error("failed to mark due message as queued",
				zap.String("messageId", msg.ID),
				zap.Error(err),
			)
			continue
		}

		if msg.NextDispatchAt != nil {
			if err := s.messages.ClearNextDispatchAt(ctx, msg.ID); err != nil {
				s.logger.Error("failed to clear next dispatch timestamp after enqueue",
					zap.String("messageId", msg.ID),
					zap.Error(err),
				)
			}
		}
	}

	return nil
}
