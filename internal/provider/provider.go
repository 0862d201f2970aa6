// Package provider holds the adapters that translate uniform domain requests
// into vendor-specific calls, plus the shared failure classification every
// adapter builds its errors through.
package provider

import (
	"context"

	"github.com/courierhq/courier/internal/domain"
)

// HealthStatus is a point-in-time diagnostic probe result. Health is a pure
// side channel: dispatch never consults it, and provider ordering is fixed
// configuration regardless of what a probe reports.
type HealthStatus struct {
	OK      bool
	Message string
	Details map[string]string
}

// MessageProvider is the outbound message delivery port, one per vendor.
type MessageProvider interface {
	Name() string
	Send(ctx context.Context, msg domain.Message) (*SendResult, error)
	Health(ctx context.Context) HealthStatus
}

// SendResult stores provider call metadata for audit and persistence.
// Rejected marks a provider-acknowledged refusal (the HTTP call succeeded
// but the vendor declined the message).
type SendResult struct {
	StatusCode int
	Body       string
	MessageID  string
	Rejected   bool
	Reason     string
}

func (r *SendResult) Failed() bool { return r != nil && r.Rejected }

func (r *SendResult) FailureReason() string {
	if r == nil {
		return ""
	}
	return r.Reason
}

// TaskProvider enqueues deferred work to an external task-queue backend.
type TaskProvider interface {
	Name() string
	Enqueue(ctx context.Context, task domain.Task) (*EnqueueResult, error)
	Health(ctx context.Context) HealthStatus
}

type EnqueueResult struct {
	TaskID   string
	Rejected bool
	Reason   string
}

func (r *EnqueueResult) Failed() bool { return r != nil && r.Rejected }

func (r *EnqueueResult) FailureReason() string {
	if r == nil {
		return ""
	}
	return r.Reason
}

// StorageProvider uploads blobs to an object-storage backend.
type StorageProvider interface {
	Name() string
	Upload(ctx context.Context, obj domain.Object) (*UploadResult, error)
	Health(ctx context.Context) HealthStatus
}

type UploadResult struct {
	Location string
	ETag     string
	Rejected bool
	Reason   string
}

func (r *UploadResult) Failed() bool { return r != nil && r.Rejected }

func (r *UploadResult) FailureReason() string {
	if r == nil {
		return ""
	}
	return r.Reason
}
