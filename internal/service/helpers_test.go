package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/courierhq/courier/internal/dispatch"
	"github.com/courierhq/courier/internal/domain"
	"github.com/courierhq/courier/internal/provider"
	"github.com/courierhq/courier/internal/queue"
	"github.com/courierhq/courier/internal/repository"
)

// fastPolicy keeps backoff pauses negligible in tests while exercising the
// full retry budget.
var fastPolicy = dispatch.Policy{
	MaxAttempts:   3,
	InitialDelay:  time.Millisecond,
	MaxDelay:      2 * time.Millisecond,
	BackoffFactor: 2,
}

func newTestDispatcher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()

	executor, err := dispatch.NewExecutor(provider.IsTransient)
	if err != nil {
		t.Fatalf("NewExecutor() error = %v", err)
	}
	dispatcher, err := dispatch.NewDispatcher(executor, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	return dispatcher
}

func validSMSMessage() domain.Message {
	return domain.Message{
		ID:            "msg-1",
		CorrelationID: "corr-1",
		Channel:       domain.ChannelSMS,
		Priority:      domain.PriorityNormal,
		Recipient:     "+905551112233",
		Content:       "hello",
		Status:        domain.StatusQueued,
		MaxDispatches: 3,
	}
}

type fakeMessageProvider struct {
	name   string
	sendFn func(ctx context.Context, msg domain.Message) (*provider.SendResult, error)
	calls  int
}

func (f *fakeMessageProvider) Name() string { return f.name }

func (f *fakeMessageProvider) Send(ctx context.Context, msg domain.Message) (*provider.SendResult, error) {
	f.calls++
	return f.sendFn(ctx, msg)
}

func (f *fakeMessageProvider) Health(context.Context) provider.HealthStatus {
	return provider.HealthStatus{OK: true}
}

type fakeTaskProvider struct {
	name      string
	enqueueFn func(ctx context.Context, task domain.Task) (*provider.EnqueueResult, error)
	calls     int
}

func (f *fakeTaskProvider) Name() string { return f.name }

func (f *fakeTaskProvider) Enqueue(ctx context.Context, task domain.Task) (*provider.EnqueueResult, error) {
	f.calls++
	return f.enqueueFn(ctx, task)
}

func (f *fakeTaskProvider) Health(context.Context) provider.HealthStatus {
	return provider.HealthStatus{OK: true}
}

type fakeStorageProvider struct {
	name     string
	uploadFn func(ctx context.Context, obj domain.Object) (*provider.UploadResult, error)
	calls    int
}

func (f *fakeStorageProvider) Name() string { return f.name }

func (f *fakeStorageProvider) Upload(ctx context.Context, obj domain.Object) (*provider.UploadResult, error) {
	f.calls++
	return f.uploadFn(ctx, obj)
}

func (f *fakeStorageProvider) Health(context.Context) provider.HealthStatus {
	return provider.HealthStatus{OK: true}
}

type fakeMessageRepo struct {
	createFn              func(ctx context.Context, m *domain.Message) error
	createBatchFn         func(ctx context.Context, messages []*domain.Message) error
	getByIDFn             func(ctx context.Context, id string) (*domain.Message, error)
	getByIdempotencyKeyFn func(ctx context.Context, key string) (*domain.Message, error)
	listFn                func(ctx context.Context, params repository.ListParams) ([]domain.Message, int64, error)
	updateStatusFn        func(ctx context.Context, id string, status domain.Status) error
	markDeferredFn        func(ctx context.Context, id string, nextDispatchAt time.Time) error
	markDeliveredFn       func(ctx context.Context, id string, provider string, providerMessageID string) error
	cancelFn              func(ctx context.Context, id string) error
	lockForSendingFn      func(ctx context.Context, id string) (*domain.Message, error)
	getDueForDispatchFn   func(ctx context.Context, limit int) ([]domain.Message, error)
	clearNextDispatchFn   func(ctx context.Context, id string) error
	getBatchSummaryFn     func(ctx context.Context, batchID string) ([]repository.BatchSummary, error)
}

func (f *fakeMessageRepo) Create(ctx context.Context, m *domain.Message) error {
	if f.createFn == nil {
		return nil
	}
	return f.createFn(ctx, m)
}

func (f *fakeMessageRepo) CreateBatch(ctx context.Context, messages []*domain.Message) error {
	if f.createBatchFn == nil {
		return nil
	}
	return f.createBatchFn(ctx, messages)
}

func (f *fakeMessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	if f.getByIDFn == nil {
		return nil, domain.ErrNotFound
	}
	return f.getByIDFn(ctx, id)
}

func (f *fakeMessageRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Message, error) {
	if f.getByIdempotencyKeyFn == nil {
		return nil, domain.ErrNotFound
	}
	return f.getByIdempotencyKeyFn(ctx, key)
}

func (f *fakeMessageRepo) List(ctx context.Context, params repository.ListParams) ([]domain.Message, int64, error) {
	if f.listFn == nil {
		return nil, 0, nil
	}
	return f.listFn(ctx, params)
}

func (f *fakeMessageRepo) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	if f.updateStatusFn == nil {
		return nil
	}
	return f.updateStatusFn(ctx, id, status)
}

func (f *fakeMessageRepo) MarkDeferred(ctx context.Context, id string, nextDispatchAt time.Time) error {
	if f.markDeferredFn == nil {
		return nil
	}
	return f.markDeferredFn(ctx, id, nextDispatchAt)
}

func (f *fakeMessageRepo) MarkDelivered(ctx context.Context, id string, provider string, providerMessageID string) error {
	if f.markDeliveredFn == nil {
		return nil
	}
	return f.markDeliveredFn(ctx, id, provider, providerMessageID)
}

func (f *fakeMessageRepo) Cancel(ctx context.Context, id string) error {
	if f.cancelFn == nil {
		return nil
	}
	return f.cancelFn(ctx, id)
}

func (f *fakeMessageRepo) LockForSending(ctx context.Context, id string) (*domain.Message, error) {
	if f.lockForSendingFn == nil {
		return nil, domain.ErrNotFound
	}
	return f.lockForSendingFn(ctx, id)
}

func (f *fakeMessageRepo) GetDueForDispatch(ctx context.Context, limit int) ([]domain.Message, error) {
	if f.getDueForDispatchFn == nil {
		return nil, nil
	}
	return f.getDueForDispatchFn(ctx, limit)
}

func (f *fakeMessageRepo) ClearNextDispatchAt(ctx context.Context, id string) error {
	if f.clearNextDispatchFn == nil {
		return nil
	}
	return f.clearNextDispatchFn(ctx, id)
}

func (f *fakeMessageRepo) GetBatchSummary(ctx context.Context, batchID string) ([]repository.BatchSummary, error) {
	if f.getBatchSummaryFn == nil {
		return nil, nil
	}
	return f.getBatchSummaryFn(ctx, batchID)
}

type fakeBatchRepo struct {
	createFn       func(ctx context.Context, b *domain.Batch) error
	getByIDFn      func(ctx context.Context, id string) (*domain.Batch, error)
	updateStatusFn func(ctx context.Context, id string, status domain.BatchStatus) error
}

func (f *fakeBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	if f.createFn == nil {
		return nil
	}
	return f.createFn(ctx, b)
}

func (f *fakeBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	if f.getByIDFn == nil {
		return nil, domain.ErrNotFound
	}
	return f.getByIDFn(ctx, id)
}

func (f *fakeBatchRepo) UpdateStatus(ctx context.Context, id string, status domain.BatchStatus) error {
	if f.updateStatusFn == nil {
		return nil
	}
	return f.updateStatusFn(ctx, id, status)
}

type fakeAttemptRepo struct {
	createFn func(ctx context.Context, a *domain.DeliveryAttempt) error
	created  []domain.DeliveryAttempt
}

func (f *fakeAttemptRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	if f.createFn != nil {
		if err := f.createFn(ctx, a); err != nil {
			return err
		}
	}
	f.created = append(f.created, *a)
	return nil
}

func (f *fakeAttemptRepo) GetByMessageID(context.Context, string) ([]domain.DeliveryAttempt, error) {
	return f.created, nil
}

type fakePublisher struct {
	publishFn func(ctx context.Context, queueName string, job queue.DeliveryJob) error
	published []queue.DeliveryJob
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, job queue.DeliveryJob) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, queueName, job); err != nil {
			return err
		}
	}
	f.published = append(f.published, job)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, scope string) error
	waits  []string
}

func (f *fakeRateLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (f *fakeRateLimiter) Wait(ctx context.Context, scope string) error {
	f.waits = append(f.waits, scope)
	if f.waitFn == nil {
		return nil
	}
	return f.waitFn(ctx, scope)
}

func transientSendError(status int) error {
	return &provider.ProviderError{
		StatusCode: status,
		Message:    fmt.Sprintf("gateway returned status %d", status),
		Transient:  true,
	}
}

func terminalSendError(status int, message string) error {
	return &provider.ProviderError{
		StatusCode: status,
		Message:    message,
		Transient:  false,
	}
}
