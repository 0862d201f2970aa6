package handler

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/courierhq/courier/internal/domain"
	"github.com/courierhq/courier/internal/service"
)

// TaskEnqueuer and ObjectUploader are the API-facing ports of the task and
// storage dispatch domains.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, task domain.Task) (*service.EnqueueOutcome, error)
}

type ObjectUploader interface {
	Upload(ctx context.Context, obj domain.Object) (*service.UploadOutcome, error)
}

type DispatchHandler struct {
	tasks   TaskEnqueuer
	storage ObjectUploader
}

// RegisterDispatchRoutes wires the task and storage endpoints. Either port
// may be nil when its provider chain is not configured; the corresponding
// routes are simply not registered.
func RegisterDispatchRoutes(router fiber.Router, tasks TaskEnqueuer, storage ObjectUploader) {
	h := &DispatchHandler{tasks: tasks, storage: storage}

	v1 := router.Group("/v1")
	if tasks != nil {
		v1.Post("/tasks", h.EnqueueTask)
	}
	if storage != nil {
		v1.Post("/objects", h.UploadObject)
	}
}

type enqueueTaskRequest struct {
	Queue    string            `json:"queue"`
	Payload  string            `json:"payload"`
	Priority string            `json:"priority,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type uploadObjectRequest struct {
	Key         string            `json:"key"`
	Data        string            `json:"data"`
	ContentType string            `json:"contentType,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (h *DispatchHandler) EnqueueTask(c *fiber.Ctx) error {
	var req enqueueTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	task := domain.Task{
		Queue:    strings.TrimSpace(req.Queue),
		Payload:  []byte(req.Payload),
		Metadata: req.Metadata,
	}
	if raw := strings.TrimSpace(req.Priority); raw != "" {
		priority, err := domain.ParsePriorityFromString(raw)
		if err != nil {
			return toHTTPError(err)
		}
		task.Priority = priority
	}

	outcome, err := h.tasks.Enqueue(c.Context(), task)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"taskId":   outcome.TaskID,
		"provider": outcome.Provider,
	})
}

func (h *DispatchHandler) UploadObject(c *fiber.Ctx) error {
	var req uploadObjectRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return toHTTPError(fmt.Errorf("%w: data must be base64", domain.ErrValidation))
	}

	obj := domain.Object{
		Key:         strings.TrimSpace(req.Key),
		Data:        data,
		ContentType: strings.TrimSpace(req.ContentType),
		Metadata:    req.Metadata,
	}

	outcome, err := h.storage.Upload(c.Context(), obj)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"location": outcome.Location,
		"etag":     outcome.ETag,
		"provider": outcome.Provider,
	})
}
