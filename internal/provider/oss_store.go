package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss"
	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss/credentials"

	"github.com/courierhq/courier/internal/domain"
)

// OSSStorageProvider uploads objects to an Alibaba Cloud OSS bucket.
type OSSStorageProvider struct {
	name   string
	bucket string
	client *oss.Client
}

type OSSConfig struct {
	Name            string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

func NewOSSStorageProvider(cfg OSSConfig) (*OSSStorageProvider, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	ossCfg := oss.LoadDefaultConfig().
		WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")).
		WithRegion(cfg.Region)

	return &OSSStorageProvider{
		name:   cfg.Name,
		bucket: cfg.Bucket,
		client: oss.NewClient(ossCfg),
	}, nil
}

func (p *OSSStorageProvider) Name() string { return p.name }

func (p *OSSStorageProvider) Upload(ctx context.Context, obj domain.Object) (*UploadResult, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	request := &oss.PutObjectRequest{
		Bucket: oss.Ptr(p.bucket),
		Key:    oss.Ptr(obj.Key),
		Body:   bytes.NewReader(obj.Data),
	}
	if obj.ContentType != "" {
		request.ContentType = oss.Ptr(obj.ContentType)
	}
	if len(obj.Metadata) > 0 {
		request.Metadata = obj.Metadata
	}

	output, err := p.client.PutObject(ctx, request)
	if err != nil {
		return nil, classifyOSSError(obj.Key, err)
	}

	result := &UploadResult{
		Location: fmt.Sprintf("oss://%s/%s", p.bucket, obj.Key),
	}
	if output != nil && output.ETag != nil {
		result.ETag = strings.Trim(*output.ETag, `"`)
	}
	return result, nil
}

func (p *OSSStorageProvider) Health(ctx context.Context) HealthStatus {
	if p == nil || p.client == nil {
		return HealthStatus{OK: false, Message: "provider is not initialized"}
	}

	exists, err := p.client.IsBucketExist(ctx, p.bucket)
	if err != nil {
		return HealthStatus{OK: false, Message: err.Error()}
	}
	if !exists {
		return HealthStatus{OK: false, Message: fmt.Sprintf("bucket %q does not exist", p.bucket)}
	}
	return HealthStatus{OK: true, Details: map[string]string{"bucket": p.bucket}}
}

func classifyOSSError(key string, err error) error {
	var serviceErr *oss.ServiceError
	if errors.As(err, &serviceErr) {
		return &ProviderError{
			StatusCode: serviceErr.StatusCode,
			Message:    fmt.Sprintf("failed to upload %q: %s", key, serviceErr.Code),
			Transient:  IsTransientStatus(serviceErr.StatusCode),
			Cause:      err,
		}
	}

	return &ProviderError{
		Message:   fmt.Sprintf("failed to upload %q", key),
		Transient: IsTransient(err),
		Cause:     err,
	}
}
