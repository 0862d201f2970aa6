package provider

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/courierhq/courier/internal/domain"
)

const blobKeyPrefix = "blob:"

// RedisStorageProvider stores blobs as Redis string values. It serves as a
// low-latency fallback behind the object-store provider.
type RedisStorageProvider struct {
	name   string
	client *goredis.Client
}

func NewRedisStorageProvider(name string, client *goredis.Client) (*RedisStorageProvider, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	return &RedisStorageProvider{name: name, client: client}, nil
}

func (p *RedisStorageProvider) Name() string { return p.name }

func (p *RedisStorageProvider) Upload(ctx context.Context, obj domain.Object) (*UploadResult, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	key := blobKeyPrefix + obj.Key
	if err := p.client.Set(ctx, key, obj.Data, 0).Err(); err != nil {
		return nil, &ProviderError{
			Message:   fmt.Sprintf("failed to store %q", key),
			Transient: IsTransient(err) || isRedisUnavailable(err),
			Cause:     err,
		}
	}
	if obj.ContentType != "" {
		// Best effort; the payload write above is the operation that counts.
		_ = p.client.Set(ctx, key+":content-type", obj.ContentType, 0).Err()
	}

	return &UploadResult{Location: "redis://" + key}, nil
}

func (p *RedisStorageProvider) Health(ctx context.Context) HealthStatus {
	if p == nil || p.client == nil {
		return HealthStatus{OK: false, Message: "provider is not initialized"}
	}
	if err := p.client.Ping(ctx).Err(); err != nil {
		return HealthStatus{OK: false, Message: err.Error()}
	}
	return HealthStatus{OK: true}
}
