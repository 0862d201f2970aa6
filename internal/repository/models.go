package repository

import (
	"time"

	"github.com/courierhq/courier/internal/domain"
)

// MessageModel is the persistence model for the messages table.
type MessageModel struct {
	ID                string            `gorm:"type:uuid;primaryKey"`
	CorrelationID     string            `gorm:"type:varchar(36);not null"`
	IdempotencyKey    *string           `gorm:"type:varchar(255)"`
	BatchID           *string           `gorm:"type:uuid"`
	Channel           domain.Channel    `gorm:"type:varchar(10);not null"`
	Priority          domain.Priority   `gorm:"type:varchar(10);not null"`
	Recipient         string            `gorm:"type:varchar(255);not null"`
	Subject           string            `gorm:"type:varchar(998)"`
	Content           string            `gorm:"type:text;not null"`
	Metadata          map[string]string `gorm:"serializer:json;type:jsonb"`
	Status            domain.Status     `gorm:"type:varchar(20);not null"`
	DeliveredBy       *string           `gorm:"type:varchar(255)"`
	ProviderMessageID *string           `gorm:"type:varchar(255)"`
	DispatchCount     int               `gorm:"not null;default:0"`
	MaxDispatches     int               `gorm:"not null;default:5"`
	SkipValidation    bool              `gorm:"not null;default:false"`
	ScheduledAt       *time.Time        `gorm:"type:timestamptz"`
	NextDispatchAt    *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (MessageModel) TableName() string {
	return "messages"
}

// DeliveryAttemptModel is the persistence model for delivery_attempts. One
// row is written per provider leg, including legs cut short by an elapsed
// overall deadline.
type DeliveryAttemptModel struct {
	ID            string  `gorm:"type:uuid;primaryKey"`
	MessageID     string  `gorm:"type:uuid;not null"`
	Provider      string  `gorm:"type:varchar(255);not null"`
	AttemptNumber int     `gorm:"not null"`
	StatusCode    *int    `gorm:"type:int"`
	ResponseBody  *string `gorm:"type:text"`
	Error         *string `gorm:"type:text"`
	CreatedAt     time.Time
}

func (DeliveryAttemptModel) TableName() string {
	return "delivery_attempts"
}

// BatchModel is the persistence model for batches.
type BatchModel struct {
	ID         string             `gorm:"type:uuid;primaryKey"`
	TotalCount int                `gorm:"not null"`
	Status     domain.BatchStatus `gorm:"type:varchar(20);not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (BatchModel) TableName() string {
	return "batches"
}

func messageModelFromDomain(m *domain.Message) *MessageModel {
	if m == nil {
		return nil
	}

	return &MessageModel{
		ID:                m.ID,
		CorrelationID:     m.CorrelationID,
		IdempotencyKey:    m.IdempotencyKey,
		BatchID:           m.BatchID,
		Channel:           m.Channel,
		Priority:          m.Priority,
		Recipient:         m.Recipient,
		Subject:           m.Subject,
		Content:           m.Content,
		Metadata:          m.Metadata,
		Status:            m.Status,
		DeliveredBy:       m.DeliveredBy,
		ProviderMessageID: m.ProviderMessageID,
		DispatchCount:     m.DispatchCount,
		MaxDispatches:     m.MaxDispatches,
		SkipValidation:    m.SkipValidation,
		ScheduledAt:       m.ScheduledAt,
		NextDispatchAt:    m.NextDispatchAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func messageModelToDomain(m *MessageModel) *domain.Message {
	if m == nil {
		return nil
	}

	return &domain.Message{
		ID:                m.ID,
		CorrelationID:     m.CorrelationID,
		IdempotencyKey:    m.IdempotencyKey,
		BatchID:           m.BatchID,
		Channel:           m.Channel,
		Priority:          m.Priority,
		Recipient:         m.Recipient,
		Subject:           m.Subject,
		Content:           m.Content,
		Metadata:          m.Metadata,
		Status:            m.Status,
		DeliveredBy:       m.DeliveredBy,
		ProviderMessageID: m.ProviderMessageID,
		DispatchCount:     m.DispatchCount,
		MaxDispatches:     m.MaxDispatches,
		SkipValidation:    m.SkipValidation,
		ScheduledAt:       m.ScheduledAt,
		NextDispatchAt:    m.NextDispatchAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}

	return &DeliveryAttemptModel{
		ID:            a.ID,
		MessageID:     a.MessageID,
		Provider:      a.Provider,
		AttemptNumber: a.AttemptNumber,
		StatusCode:    a.StatusCode,
		ResponseBody:  a.ResponseBody,
		Error:         a.Error,
		CreatedAt:     a.CreatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:            m.ID,
		MessageID:     m.MessageID,
		Provider:      m.Provider,
		AttemptNumber: m.AttemptNumber,
		StatusCode:    m.StatusCode,
		ResponseBody:  m.ResponseBody,
		Error:         m.Error,
		CreatedAt:     m.CreatedAt,
	}
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	return &BatchModel{
		ID:         b.ID,
		TotalCount: b.TotalCount,
		Status:     b.Status,
		CreatedAt:  b.CreatedAt,
		UpdatedAt:  b.UpdatedAt,
	}
}

func batchModelToDomain(m *BatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	return &domain.Batch{
		ID:         m.ID,
		TotalCount: m.TotalCount,
		Status:     m.Status,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}
