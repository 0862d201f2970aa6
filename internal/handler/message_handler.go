package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/courierhq/courier/internal/dispatch"
	"github.com/courierhq/courier/internal/domain"
	"github.com/courierhq/courier/internal/repository"
	"github.com/courierhq/courier/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type MessageService interface {
	Create(ctx context.Context, msg *domain.Message) (*domain.Message, error)
	CreateBatch(ctx context.Context, messages []domain.Message) (*domain.Batch, []domain.Message, error)
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	GetBatchSummary(ctx context.Context, batchID string) (*service.BatchSummary, error)
	Cancel(ctx context.Context, id string) error
	List(ctx context.Context, params repository.ListParams) ([]domain.Message, int64, error)
}

type AttemptReader interface {
	GetByMessageID(ctx context.Context, messageID string) ([]domain.DeliveryAttempt, error)
}

type MessageHandler struct {
	service  MessageService
	attempts AttemptReader
}

func NewMessageHandler(service MessageService, attempts AttemptReader) (*MessageHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("message service is required")
	}
	return &MessageHandler{service: service, attempts: attempts}, nil
}

func RegisterMessageRoutes(router fiber.Router, service MessageService, attempts AttemptReader) error {
	h, err := NewMessageHandler(service, attempts)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/messages", h.CreateMessage)
	v1.Post("/messages/batch", h.CreateBatch)
	v1.Get("/messages/:id", h.GetMessage)
	v1.Get("/messages/:id/attempts", h.GetMessageAttempts)
	v1.Post("/messages/:id/cancel", h.CancelMessage)
	v1.Get("/messages", h.ListMessages)
	v1.Get("/batches/:batchId", h.GetBatchSummary)

	return nil
}

type createMessageRequest struct {
	CorrelationID  string            `json:"correlationId"`
	IdempotencyKey *string           `json:"idempotencyKey"`
	Channel        string            `json:"channel"`
	Priority       string            `json:"priority"`
	Recipient      string            `json:"recipient"`
	Subject        string            `json:"subject"`
	Content        string            `json:"content"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	MaxDispatches  *int              `json:"maxDispatches,omitempty"`
	SkipValidation bool              `json:"skipValidation,omitempty"`
	ScheduledAt    *string           `json:"scheduledAt,omitempty"`
}

type createBatchRequest struct {
	Messages []createMessageRequest `json:"messages"`
}

type messageResponse struct {
	ID                string            `json:"id"`
	CorrelationID     string            `json:"correlationId"`
	IdempotencyKey    *string           `json:"idempotencyKey,omitempty"`
	BatchID           *string           `json:"batchId,omitempty"`
	Channel           string            `json:"channel"`
	Priority          string            `json:"priority"`
	Recipient         string            `json:"recipient"`
	Subject           string            `json:"subject,omitempty"`
	Content           string            `json:"content"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	Status            string            `json:"status"`
	DeliveredBy       *string           `json:"deliveredBy,omitempty"`
	ProviderMessageID *string           `json:"providerMessageId,omitempty"`
	DispatchCount     int               `json:"dispatchCount"`
	MaxDispatches     int               `json:"maxDispatches"`
	ScheduledAt       *time.Time        `json:"scheduledAt,omitempty"`
	NextDispatchAt    *time.Time        `json:"nextDispatchAt,omitempty"`
	CreatedAt         time.Time         `json:"createdAt,omitempty"`
	UpdatedAt         time.Time         `json:"updatedAt,omitempty"`
}

type createBatchResponse struct {
	BatchID    string            `json:"batchId"`
	Status     string            `json:"status"`
	TotalCount int               `json:"totalCount"`
	Messages   []messageResponse `json:"messages"`
	Warning    string            `json:"warning,omitempty"`
}

type listMessagesResponse struct {
	Data []messageResponse `json:"data"`
	Meta listMeta          `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type batchSummaryResponse struct {
	BatchID    string                 `json:"batchId"`
	TotalCount int                    `json:"totalCount"`
	Status     string                 `json:"status"`
	Counts     []batchStatusCountItem `json:"counts"`
}

type batchStatusCountItem struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

type attemptResponse struct {
	ID            string    `json:"id"`
	Provider      string    `json:"provider"`
	AttemptNumber int       `json:"attemptNumber"`
	StatusCode    *int      `json:"statusCode,omitempty"`
	ResponseBody  *string   `json:"responseBody,omitempty"`
	Error         *string   `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (h *MessageHandler) CreateMessage(c *fiber.Ctx) error {
	var req createMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	msg, err := requestToDomainMessage(req, requestCorrelationID(c))
	if err != nil {
		return toHTTPError(err)
	}

	created, err := h.service.Create(c.Context(), &msg)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toMessageResponse(created))
}

func (h *MessageHandler) CreateBatch(c *fiber.Ctx) error {
	var req createBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if len(req.Messages) == 0 {
		return toHTTPError(fmt.Errorf("%w: messages is required", domain.ErrValidation))
	}

	messages := make([]domain.Message, 0, len(req.Messages))
	for _, item := range req.Messages {
		msg, err := requestToDomainMessage(item, requestCorrelationID(c))
		if err != nil {
			return toHTTPError(err)
		}
		messages = append(messages, msg)
	}

	batch, createdMessages, err := h.service.CreateBatch(c.Context(), messages)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			return toHTTPError(err)
		}
		if batch == nil {
			return err
		}

		return c.Status(fiber.StatusAccepted).JSON(createBatchResponse{
			BatchID:    batch.ID,
			Status:     batch.Status.String(),
			TotalCount: batch.TotalCount,
			Messages:   toMessageResponses(createdMessages),
			Warning:    err.Error(),
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(createBatchResponse{
		BatchID:    batch.ID,
		Status:     batch.Status.String(),
		TotalCount: batch.TotalCount,
		Messages:   toMessageResponses(createdMessages),
	})
}

func (h *MessageHandler) GetMessage(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	msg, err := h.service.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toMessageResponse(msg))
}

// GetMessageAttempts returns the per-leg audit trail: one record per provider
// walked, in dispatch order.
func (h *MessageHandler) GetMessageAttempts(c *fiber.Ctx) error {
	if h.attempts == nil {
		return fiber.NewError(fiber.StatusNotFound, "attempt history is not available")
	}

	id := strings.TrimSpace(c.Params("id"))
	if _, err := h.service.GetByID(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	attempts, err := h.attempts.GetByMessageID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		items = append(items, attemptResponse{
			ID:            a.ID,
			Provider:      a.Provider,
			AttemptNumber: a.AttemptNumber,
			StatusCode:    a.StatusCode,
			ResponseBody:  a.ResponseBody,
			Error:         a.Error,
			CreatedAt:     a.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"messageId": id,
		"attempts":  items,
	})
}

func (h *MessageHandler) CancelMessage(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Cancel(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"messageId": id,
		"status":    domain.StatusCanceled.String(),
	})
}

func (h *MessageHandler) ListMessages(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	messages, total, err := h.service.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(listMessagesResponse{
		Data: toMessageResponses(messages),
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *MessageHandler) GetBatchSummary(c *fiber.Ctx) error {
	batchID := strings.TrimSpace(c.Params("batchId"))
	summary, err := h.service.GetBatchSummary(c.Context(), batchID)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]batchStatusCountItem, 0, len(summary.Counts))
	for _, count := range summary.Counts {
		items = append(items, batchStatusCountItem{
			Status: count.Status.String(),
			Count:  count.Count,
		})
	}

	return c.Status(fiber.StatusOK).JSON(batchSummaryResponse{
		BatchID:    summary.BatchID,
		TotalCount: summary.TotalCount,
		Status:     summary.Status.String(),
		Counts:     items,
	})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	if rawChannel := strings.TrimSpace(c.Query("channel")); rawChannel != "" {
		channel, err := domain.ParseChannelFromString(rawChannel)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Channel = &channel
	}

	if rawBatchID := strings.TrimSpace(c.Query("batchId")); rawBatchID != "" {
		params.BatchID = &rawBatchID
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	if from != nil && to != nil && from.After(*to) {
		return repository.ListParams{}, fmt.Errorf("%w: from must not be after to", domain.ErrValidation)
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func requestToDomainMessage(req createMessageRequest, fallbackCorrelationID string) (domain.Message, error) {
	channel, err := domain.ParseChannelFromString(req.Channel)
	if err != nil {
		return domain.Message{}, err
	}

	priority, err := domain.ParsePriorityFromString(req.Priority)
	if err != nil {
		return domain.Message{}, err
	}

	msg := domain.Message{
		CorrelationID:  strings.TrimSpace(req.CorrelationID),
		IdempotencyKey: req.IdempotencyKey,
		Channel:        channel,
		Priority:       priority,
		Recipient:      strings.TrimSpace(req.Recipient),
		Subject:        strings.TrimSpace(req.Subject),
		Content:        strings.TrimSpace(req.Content),
		Metadata:       req.Metadata,
		SkipValidation: req.SkipValidation,
	}

	if msg.CorrelationID == "" {
		msg.CorrelationID = strings.TrimSpace(fallbackCorrelationID)
	}
	if req.MaxDispatches != nil {
		msg.MaxDispatches = *req.MaxDispatches
	}
	if req.ScheduledAt != nil {
		scheduledAt, err := time.Parse(time.RFC3339, strings.TrimSpace(*req.ScheduledAt))
		if err != nil {
			return domain.Message{}, fmt.Errorf("%w: scheduledAt must be RFC3339", domain.ErrValidation)
		}
		msg.ScheduledAt = &scheduledAt
	}

	return msg, nil
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toMessageResponses(messages []domain.Message) []messageResponse {
	responses := make([]messageResponse, 0, len(messages))
	for _, message := range messages {
		m := message
		responses = append(responses, toMessageResponse(&m))
	}
	return responses
}

func toMessageResponse(m *domain.Message) messageResponse {
	if m == nil {
		return messageResponse{}
	}

	return messageResponse{
		ID:                m.ID,
		CorrelationID:     m.CorrelationID,
		IdempotencyKey:    m.IdempotencyKey,
		BatchID:           m.BatchID,
		Channel:           m.Channel.String(),
		Priority:          m.Priority.String(),
		Recipient:         m.Recipient,
		Subject:           m.Subject,
		Content:           m.Content,
		Metadata:          m.Metadata,
		Status:            m.Status.String(),
		DeliveredBy:       m.DeliveredBy,
		ProviderMessageID: m.ProviderMessageID,
		DispatchCount:     m.DispatchCount,
		MaxDispatches:     m.MaxDispatches,
		ScheduledAt:       m.ScheduledAt,
		NextDispatchAt:    m.NextDispatchAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	var allFailed *dispatch.AllFailedError

	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.As(err, &allFailed):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	default:
		return err
	}
}
