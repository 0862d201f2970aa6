package handler

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/courierhq/courier/internal/dispatch"
	"github.com/courierhq/courier/internal/domain"
	"github.com/courierhq/courier/internal/provider"
	"github.com/courierhq/courier/internal/repository"
	"github.com/courierhq/courier/internal/service"
	"github.com/courierhq/courier/internal/transport"
)

func TestMessageIntegration_CreateMessage(t *testing.T) {
	t.Parallel()

	svc := &stubMessageService{
		createFn: func(ctx context.Context, m *domain.Message) (*domain.Message, error) {
			if err := m.Validate(); err != nil {
				return nil, err
			}
			m.ID = "m-created"
			m.Status = domain.StatusQueued
			if strings.TrimSpace(m.CorrelationID) == "" {
				m.CorrelationID = "corr-from-service"
			}
			return m, nil
		},
	}

	app := newMessageTestApp(t, svc, nil)

	validBody := `{"channel":"sms","priority":"normal","recipient":"+905551112233","content":"hello"}`
	resp, body := performRequest(t, app, http.MethodPost, "/v1/messages", validBody)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}
	var accepted map[string]any
	if err := json.Unmarshal(body, &accepted); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if accepted["id"] != "m-created" {
		t.Fatalf("id = %v, want m-created", accepted["id"])
	}
	if accepted["status"] != domain.StatusQueued.String() {
		t.Fatalf("status = %v, want %s", accepted["status"], domain.StatusQueued.String())
	}

	missingRecipientBody := `{"channel":"sms","priority":"normal","recipient":"","content":"hello"}`
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/messages", missingRecipientBody)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing recipient", resp.StatusCode)
	}

	tooLongSMSBody := fmt.Sprintf(
		`{"channel":"sms","priority":"normal","recipient":"+905551112233","content":"%s"}`,
		strings.Repeat("a", domain.MaxSMSContent+1),
	)
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/messages", tooLongSMSBody)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for SMS overflow", resp.StatusCode)
	}
}

func TestMessageIntegration_CreateMessageSkipValidation(t *testing.T) {
	t.Parallel()

	svc := &stubMessageService{
		createFn: func(ctx context.Context, m *domain.Message) (*domain.Message, error) {
			if !m.SkipValidation {
				t.Fatal("skipValidation flag should reach the service")
			}
			m.ID = "m-skip"
			m.Status = domain.StatusQueued
			return m, nil
		},
	}

	app := newMessageTestApp(t, svc, nil)

	// Recipient fails the E.164 check, but the caller opted out.
	body := `{"channel":"sms","priority":"normal","recipient":"short-code-42","content":"hello","skipValidation":true}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/messages", body)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(respBody))
	}
}

func TestMessageIntegration_CreateMessageScheduledAt(t *testing.T) {
	t.Parallel()

	expectedScheduledAt, _ := time.Parse(time.RFC3339, "2026-09-01T10:00:00Z")
	svc := &stubMessageService{
		createFn: func(ctx context.Context, m *domain.Message) (*domain.Message, error) {
			if m.ScheduledAt == nil {
				t.Fatal("ScheduledAt should be parsed from request")
			}
			if !m.ScheduledAt.Equal(expectedScheduledAt) {
				t.Fatalf("ScheduledAt = %v, want %v", m.ScheduledAt, expectedScheduledAt)
			}
			m.ID = "m-scheduled"
			m.Status = domain.StatusAccepted
			return m, nil
		},
	}

	app := newMessageTestApp(t, svc, nil)

	validBody := `{"channel":"sms","priority":"normal","recipient":"+905551112233","content":"hello","scheduledAt":"2026-09-01T10:00:00Z"}`
	resp, body := performRequest(t, app, http.MethodPost, "/v1/messages", validBody)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["scheduledAt"] != "2026-09-01T10:00:00Z" {
		t.Fatalf("scheduledAt = %v, want 2026-09-01T10:00:00Z", parsed["scheduledAt"])
	}
	if parsed["status"] != domain.StatusAccepted.String() {
		t.Fatalf("status = %v, want %s", parsed["status"], domain.StatusAccepted.String())
	}

	invalidBody := `{"channel":"sms","priority":"normal","recipient":"+905551112233","content":"hello","scheduledAt":"invalid-date"}`
	resp, _ = performRequest(t, app, http.MethodPost, "/v1/messages", invalidBody)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for invalid scheduledAt", resp.StatusCode)
	}
}

func TestMessageIntegration_CreateBatch(t *testing.T) {
	t.Parallel()

	svc := &stubMessageService{
		createBatchFn: func(ctx context.Context, messages []domain.Message) (*domain.Batch, []domain.Message, error) {
			if len(messages) > 1000 {
				return nil, nil, fmt.Errorf("%w: batch size exceeds 1000", domain.ErrValidation)
			}

			created := make([]domain.Message, len(messages))
			copy(created, messages)
			for i := range created {
				if err := created[i].Validate(); err != nil {
					return nil, nil, err
				}
				created[i].ID = fmt.Sprintf("m-%d", i+1)
				created[i].Status = domain.StatusQueued
			}

			return &domain.Batch{
				ID:         "batch-1",
				TotalCount: len(created),
				Status:     domain.BatchStatusCompleted,
			}, created, nil
		},
	}

	app := newMessageTestApp(t, svc, nil)

	overLimitItems := make([]string, 0, 1001)
	for i := 0; i < 1001; i++ {
		overLimitItems = append(overLimitItems, `{"channel":"sms","priority":"normal","recipient":"+905551112233","content":"hello"}`)
	}
	overLimitBody := `{"messages":[` + strings.Join(overLimitItems, ",") + `]}`
	resp, _ := performRequest(t, app, http.MethodPost, "/v1/messages/batch", overLimitBody)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for batch size > 1000", resp.StatusCode)
	}

	validBody := `{"messages":[{"channel":"sms","priority":"high","recipient":"+905551112233","content":"hello sms"},{"channel":"email","priority":"normal","recipient":"user@example.com","content":"hello email"}]}`
	resp, body := performRequest(t, app, http.MethodPost, "/v1/messages/batch", validBody)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(body))
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["batchId"] != "batch-1" {
		t.Fatalf("batchId = %v, want batch-1", parsed["batchId"])
	}
	if parsed["totalCount"] != float64(2) {
		t.Fatalf("totalCount = %v, want 2", parsed["totalCount"])
	}
}

func TestMessageIntegration_GetMessage(t *testing.T) {
	t.Parallel()

	svc := &stubMessageService{
		getByIDFn: func(ctx context.Context, id string) (*domain.Message, error) {
			if id == "m-found" {
				return &domain.Message{
					ID:            "m-found",
					CorrelationID: "corr-1",
					Channel:       domain.ChannelSMS,
					Priority:      domain.PriorityNormal,
					Recipient:     "+905551112233",
					Content:       "hello",
					Status:        domain.StatusQueued,
					MaxDispatches: 5,
				}, nil
			}
			return nil, domain.ErrNotFound
		},
	}

	app := newMessageTestApp(t, svc, nil)

	resp, _ := performRequest(t, app, http.MethodGet, "/v1/messages/m-found", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/messages/not-exists", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestMessageIntegration_GetMessageAttempts(t *testing.T) {
	t.Parallel()

	code := 502
	reason := "provider error: status=502: gateway returned status 502"
	svc := &stubMessageService{
		getByIDFn: func(ctx context.Context, id string) (*domain.Message, error) {
			if id != "m-audited" {
				return nil, domain.ErrNotFound
			}
			return &domain.Message{ID: id}, nil
		},
	}
	attempts := &stubAttemptReader{
		getByMessageIDFn: func(ctx context.Context, messageID string) ([]domain.DeliveryAttempt, error) {
			return []domain.DeliveryAttempt{
				{ID: "a-1", MessageID: messageID, Provider: "gateway-a", AttemptNumber: 1, StatusCode: &code, Error: &reason},
				{ID: "a-2", MessageID: messageID, Provider: "gateway-b", AttemptNumber: 2},
			}, nil
		},
	}

	app := newMessageTestApp(t, svc, attempts)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/messages/m-audited/attempts", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed struct {
		MessageID string `json:"messageId"`
		Attempts  []struct {
			Provider      string `json:"provider"`
			AttemptNumber int    `json:"attemptNumber"`
			StatusCode    *int   `json:"statusCode"`
		} `json:"attempts"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(parsed.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(parsed.Attempts))
	}
	if parsed.Attempts[0].Provider != "gateway-a" || parsed.Attempts[1].Provider != "gateway-b" {
		t.Fatalf("attempt order: %+v", parsed.Attempts)
	}
	if parsed.Attempts[0].StatusCode == nil || *parsed.Attempts[0].StatusCode != 502 {
		t.Fatalf("first attempt status code = %v, want 502", parsed.Attempts[0].StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/messages/not-exists/attempts", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestMessageIntegration_CancelMessage(t *testing.T) {
	t.Parallel()

	svc := &stubMessageService{
		cancelFn: func(ctx context.Context, id string) error {
			if id == "m-cancelable" {
				return nil
			}
			return domain.ErrConflict
		},
	}

	app := newMessageTestApp(t, svc, nil)

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/messages/m-cancelable/cancel", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/messages/m-locked/cancel", "")
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestMessageIntegration_ListMessagesPaginationAndFilters(t *testing.T) {
	t.Parallel()

	fromExpected, _ := time.Parse(time.RFC3339, "2026-01-01T00:00:00Z")
	toExpected, _ := time.Parse(time.RFC3339, "2026-01-31T23:59:59Z")

	svc := &stubMessageService{
		listFn: func(ctx context.Context, params repository.ListParams) ([]domain.Message, int64, error) {
			if params.Page != 2 {
				t.Fatalf("page = %d, want 2", params.Page)
			}
			if params.PageSize != 10 {
				t.Fatalf("pageSize = %d, want 10", params.PageSize)
			}
			if params.Status == nil || *params.Status != domain.StatusQueued {
				t.Fatalf("status filter = %v, want QUEUED", params.Status)
			}
			if params.Channel == nil || *params.Channel != domain.ChannelSMS {
				t.Fatalf("channel filter = %v, want SMS", params.Channel)
			}
			if params.From == nil || !params.From.Equal(fromExpected) {
				t.Fatalf("from = %v, want %v", params.From, fromExpected)
			}
			if params.To == nil || !params.To.Equal(toExpected) {
				t.Fatalf("to = %v, want %v", params.To, toExpected)
			}

			return []domain.Message{
				{
					ID:            "m-list-1",
					CorrelationID: "corr-list",
					Channel:       domain.ChannelSMS,
					Priority:      domain.PriorityNormal,
					Recipient:     "+905551112233",
					Content:       "hello",
					Status:        domain.StatusQueued,
					MaxDispatches: 5,
				},
			}, 1, nil
		},
	}

	app := newMessageTestApp(t, svc, nil)

	path := "/v1/messages?page=2&pageSize=10&status=queued&channel=sms&from=2026-01-01T00:00:00Z&to=2026-01-31T23:59:59Z"
	resp, body := performRequest(t, app, http.MethodGet, path, "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Data []map[string]any `json:"data"`
		Meta struct {
			Page     int   `json:"page"`
			PageSize int   `json:"pageSize"`
			Total    int64 `json:"total"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}

	if parsed.Meta.Page != 2 || parsed.Meta.PageSize != 10 || parsed.Meta.Total != 1 {
		t.Fatalf("meta = %+v, want page=2,pageSize=10,total=1", parsed.Meta)
	}
	if len(parsed.Data) != 1 {
		t.Fatalf("data len = %d, want 1", len(parsed.Data))
	}

	resp, _ = performRequest(
		t,
		app,
		http.MethodGet,
		"/v1/messages?from=2026-02-01T00:00:00Z&to=2026-01-01T00:00:00Z",
		"",
	)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for invalid date range", resp.StatusCode)
	}
}

func TestMessageIntegration_GetBatchSummary(t *testing.T) {
	t.Parallel()

	svc := &stubMessageService{
		getBatchSummaryFn: func(ctx context.Context, batchID string) (*service.BatchSummary, error) {
			if batchID != "batch-42" {
				return nil, domain.ErrNotFound
			}
			return &service.BatchSummary{
				BatchID:    "batch-42",
				TotalCount: 3,
				Status:     domain.BatchStatusPartialFailure,
				Counts: []service.StatusCount{
					{Status: domain.StatusSent, Count: 2},
					{Status: domain.StatusFailed, Count: 1},
				},
			}, nil
		},
	}

	app := newMessageTestApp(t, svc, nil)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/batches/batch-42", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["batchId"] != "batch-42" {
		t.Fatalf("batchId = %v, want batch-42", parsed["batchId"])
	}
	if parsed["status"] != domain.BatchStatusPartialFailure.String() {
		t.Fatalf("status = %v, want %s", parsed["status"], domain.BatchStatusPartialFailure.String())
	}
}

func TestMessageIntegration_TotalDispatchFailureMapsToBadGateway(t *testing.T) {
	t.Parallel()

	svc := &stubMessageService{
		getByIDFn: func(ctx context.Context, id string) (*domain.Message, error) {
			return nil, &dispatch.AllFailedError{
				Failures: []dispatch.ProviderFailure{
					{Provider: "gateway-a", Reason: "invalid api key"},
					{Provider: "gateway-b", Reason: "gateway returned status 503"},
				},
			}
		},
	}

	app := newMessageTestApp(t, svc, nil)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/messages/m-1", "")
	if resp.StatusCode != fiber.StatusBadGateway {
		t.Fatalf("status = %d, want 502, body=%s", resp.StatusCode, string(body))
	}
	if !strings.Contains(string(body), "gateway-a: invalid api key") {
		t.Fatalf("body should carry the aggregated reasons, got %s", string(body))
	}
}

func TestHealthIntegration_LivezAndReadyz(t *testing.T) {
	t.Parallel()

	t.Run("livez returns 200", func(t *testing.T) {
		t.Parallel()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sql.OpenDB(stubConnector{}), newStubRedisClient(nil))

		resp, body := performRequest(t, app, http.MethodGet, "/livez", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 200 when dependencies healthy", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(nil)
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 503 when dependencies down", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{pingErr: errors.New("postgres down")})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(errors.New("redis down"))
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb)

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}
	})
}

func TestHealthIntegration_ProviderProbes(t *testing.T) {
	t.Parallel()

	healthy := func(ctx context.Context) provider.HealthStatus {
		return provider.HealthStatus{OK: true}
	}
	down := func(ctx context.Context) provider.HealthStatus {
		return provider.HealthStatus{OK: false, Message: "connection refused"}
	}

	t.Run("all healthy", func(t *testing.T) {
		t.Parallel()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterProviderHealthRoutes(app, []ProviderProbe{
			{Group: "messaging/SMS", Name: "gateway-a", Probe: healthy},
			{Group: "tasks", Name: "broker", Probe: healthy},
		})

		resp, body := performRequest(t, app, http.MethodGet, "/healthz/providers", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("degraded when any probe fails", func(t *testing.T) {
		t.Parallel()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterProviderHealthRoutes(app, []ProviderProbe{
			{Group: "messaging/SMS", Name: "gateway-a", Probe: healthy},
			{Group: "storage", Name: "oss-main", Probe: down},
		})

		resp, body := performRequest(t, app, http.MethodGet, "/healthz/providers", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}

		var parsed struct {
			Status    string `json:"status"`
			Providers []struct {
				Name    string `json:"name"`
				OK      bool   `json:"ok"`
				Message string `json:"message"`
			} `json:"providers"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			t.Fatalf("json unmarshal error = %v", err)
		}
		if parsed.Status != "degraded" {
			t.Fatalf("status = %s, want degraded", parsed.Status)
		}
		if len(parsed.Providers) != 2 {
			t.Fatalf("providers = %d, want 2", len(parsed.Providers))
		}
	})
}

type stubMessageService struct {
	createFn          func(ctx context.Context, m *domain.Message) (*domain.Message, error)
	createBatchFn     func(ctx context.Context, messages []domain.Message) (*domain.Batch, []domain.Message, error)
	getByIDFn         func(ctx context.Context, id string) (*domain.Message, error)
	getBatchSummaryFn func(ctx context.Context, batchID string) (*service.BatchSummary, error)
	cancelFn          func(ctx context.Context, id string) error
	listFn            func(ctx context.Context, params repository.ListParams) ([]domain.Message, int64, error)
}

func (s *stubMessageService) Create(ctx context.Context, m *domain.Message) (*domain.Message, error) {
	if s.createFn != nil {
		return s.createFn(ctx, m)
	}
	return nil, errors.New("not implemented")
}

func (s *stubMessageService) CreateBatch(
	ctx context.Context,
	messages []domain.Message,
) (*domain.Batch, []domain.Message, error) {
	if s.createBatchFn != nil {
		return s.createBatchFn(ctx, messages)
	}
	return nil, nil, errors.New("not implemented")
}

func (s *stubMessageService) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	if s.getByIDFn != nil {
		return s.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubMessageService) GetBatchSummary(ctx context.Context, batchID string) (*service.BatchSummary, error) {
	if s.getBatchSummaryFn != nil {
		return s.getBatchSummaryFn(ctx, batchID)
	}
	return nil, domain.ErrNotFound
}

func (s *stubMessageService) Cancel(ctx context.Context, id string) error {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, id)
	}
	return nil
}

func (s *stubMessageService) List(
	ctx context.Context,
	params repository.ListParams,
) ([]domain.Message, int64, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return nil, 0, nil
}

type stubAttemptReader struct {
	getByMessageIDFn func(ctx context.Context, messageID string) ([]domain.DeliveryAttempt, error)
}

func (s *stubAttemptReader) GetByMessageID(ctx context.Context, messageID string) ([]domain.DeliveryAttempt, error) {
	if s.getByMessageIDFn != nil {
		return s.getByMessageIDFn(ctx, messageID)
	}
	return nil, nil
}

func newMessageTestApp(t *testing.T, svc MessageService, attempts AttemptReader) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterMessageRoutes(app, svc, attempts); err != nil {
		t.Fatalf("RegisterMessageRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") {
			if h.pingErr != nil {
				cmd.SetErr(h.pingErr)
				return h.pingErr
			}
			cmd.SetErr(nil)
			return nil
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}
