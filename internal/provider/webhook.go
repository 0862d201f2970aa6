package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/courierhq/courier/internal/domain"
)

const defaultGatewayTimeout = 10 * time.Second

type gatewayRequest struct {
	To       string            `json:"to"`
	Channel  string            `json:"channel"`
	Subject  string            `json:"subject,omitempty"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// gatewayResponse is the optional JSON body a gateway may return. A 2xx
// response with status "rejected" is a provider-acknowledged refusal.
type gatewayResponse struct {
	Status    string `json:"status"`
	Reason    string `json:"reason"`
	MessageID string `json:"messageId"`
}

// HTTPGatewayProvider delivers messages to a JSON webhook gateway. Most SMS,
// WhatsApp and push vendors in front of this service speak this shape.
type HTTPGatewayProvider struct {
	name     string
	client   *resty.Client
	endpoint string
}

func NewHTTPGatewayProvider(name, endpoint, apiKey string) (*HTTPGatewayProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultGatewayTimeout)
	// The dispatch core owns retries; the HTTP client must not add its own.
	client.SetRetryCount(0)
	if apiKey != "" {
		client.SetHeader("Authorization", "Bearer "+apiKey)
	}

	return NewHTTPGatewayProviderWithClient(name, endpoint, client)
}

func NewHTTPGatewayProviderWithClient(name, endpoint string, client *resty.Client) (*HTTPGatewayProvider, error) {
	trimmedName := strings.TrimSpace(name)
	if trimmedName == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("gateway endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid gateway endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultGatewayTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPGatewayProvider{
		name:     trimmedName,
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (p *HTTPGatewayProvider) Name() string { return p.name }

func (p *HTTPGatewayProvider) Send(ctx context.Context, msg domain.Message) (*SendResult, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	reqBody := gatewayRequest{
		To:       msg.Recipient,
		Channel:  strings.ToLower(msg.Channel.String()),
		Subject:  msg.Subject,
		Content:  msg.Content,
		Metadata: msg.Metadata,
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		Post(p.endpoint)
	if err != nil {
		return nil, &ProviderError{
			Message:   "gateway request failed",
			Transient: !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ProviderError{
			Message:   "gateway returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		result := &SendResult{
			StatusCode: statusCode,
			Body:       responseBody,
			MessageID:  gatewayMessageID(response),
		}

		var parsed gatewayResponse
		if responseBody != "" && json.Unmarshal([]byte(responseBody), &parsed) == nil {
			if parsed.MessageID != "" {
				result.MessageID = parsed.MessageID
			}
			if strings.EqualFold(parsed.Status, "rejected") {
				result.Rejected = true
				result.Reason = parsed.Reason
				if result.Reason == "" {
					result.Reason = "rejected by gateway"
				}
			}
		}

		return result, nil
	}

	return nil, &ProviderError{
		StatusCode: statusCode,
		Message:    gatewayErrorMessage(statusCode, responseBody),
		Transient:  IsTransientStatus(statusCode),
	}
}

// Health probes the gateway endpoint. It is diagnostic only and never
// participates in dispatch decisions.
func (p *HTTPGatewayProvider) Health(ctx context.Context) HealthStatus {
	if p == nil || p.client == nil {
		return HealthStatus{OK: false, Message: "provider is not initialized"}
	}

	response, err := p.client.R().SetContext(ctx).Head(p.endpoint)
	if err != nil {
		return HealthStatus{OK: false, Message: err.Error()}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusInternalServerError {
		return HealthStatus{
			OK:      false,
			Message: fmt.Sprintf("gateway returned status %d", statusCode),
			Details: map[string]string{"status": fmt.Sprintf("%d", statusCode)},
		}
	}

	return HealthStatus{OK: true, Details: map[string]string{"status": fmt.Sprintf("%d", statusCode)}}
}

func gatewayErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("gateway returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func gatewayMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Message-ID", "X-Message-Id", "X-Request-ID", "X-Request-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
