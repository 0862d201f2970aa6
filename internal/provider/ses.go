package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/courierhq/courier/internal/domain"
)

// SESAPI is the subset of the SES v2 client the adapter uses; tests provide
// fakes through it.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	GetAccount(ctx context.Context, params *sesv2.GetAccountInput, optFns ...func(*sesv2.Options)) (*sesv2.GetAccountOutput, error)
}

// SESProvider delivers email through AWS SES v2.
type SESProvider struct {
	name   string
	sender string
	client SESAPI
}

type SESConfig struct {
	Name            string
	Region          string
	Sender          string
	AccessKeyID     string
	SecretAccessKey string
}

func NewSESProvider(ctx context.Context, cfg SESConfig) (*SESProvider, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	if strings.TrimSpace(cfg.Sender) == "" {
		return nil, fmt.Errorf("sender address is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESProvider{
		name:   cfg.Name,
		sender: cfg.Sender,
		client: sesv2.NewFromConfig(awsCfg),
	}, nil
}

// NewSESProviderWithClient wires a custom SES client, used by tests.
func NewSESProviderWithClient(name, sender string, client SESAPI) (*SESProvider, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	if client == nil {
		return nil, fmt.Errorf("ses client is required")
	}

	return &SESProvider{name: name, sender: sender, client: client}, nil
}

func (p *SESProvider) Name() string { return p.name }

func (p *SESProvider) Send(ctx context.Context, msg domain.Message) (*SendResult, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	subject := msg.Subject
	if subject == "" {
		subject = "(no subject)"
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(p.sender),
		Destination: &types.Destination{
			ToAddresses: []string{msg.Recipient},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(msg.Content),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}

	output, err := p.client.SendEmail(ctx, input)
	if err != nil {
		return nil, classifySESError(err)
	}

	result := &SendResult{StatusCode: 200}
	if output != nil && output.MessageId != nil {
		result.MessageID = *output.MessageId
	}
	return result, nil
}

func (p *SESProvider) Health(ctx context.Context) HealthStatus {
	if p == nil || p.client == nil {
		return HealthStatus{OK: false, Message: "provider is not initialized"}
	}

	account, err := p.client.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		return HealthStatus{OK: false, Message: err.Error()}
	}

	if !account.SendingEnabled {
		return HealthStatus{OK: false, Message: "account sending is disabled"}
	}

	return HealthStatus{OK: true}
}

// classifySESError maps SES failures onto the shared transient/permanent
// taxonomy. Throttling and 5xx responses retry; rejections, suspended
// accounts and bad requests do not.
func classifySESError(err error) error {
	var throttled *types.TooManyRequestsException
	if errors.As(err, &throttled) {
		return &ProviderError{StatusCode: 429, Message: "ses throttled the request", Transient: true, Cause: err}
	}

	var rejected *types.MessageRejected
	if errors.As(err, &rejected) {
		return &ProviderError{Message: "ses rejected the message", Transient: false, Cause: err}
	}

	var suspended *types.AccountSuspendedException
	if errors.As(err, &suspended) {
		return &ProviderError{Message: "ses account is suspended", Transient: false, Cause: err}
	}

	var badRequest *types.BadRequestException
	if errors.As(err, &badRequest) {
		return &ProviderError{StatusCode: 400, Message: "ses rejected the request", Transient: false, Cause: err}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		transient := apiErr.ErrorFault() == smithy.FaultServer
		return &ProviderError{
			Message:   fmt.Sprintf("ses call failed: %s", apiErr.ErrorCode()),
			Transient: transient,
			Cause:     err,
		}
	}

	return &ProviderError{
		Message:   "ses request failed",
		Transient: !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded),
		Cause:     err,
	}
}
