package provider

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// Provider kinds accepted in topology configuration. The set is closed:
// an unknown kind is a configuration error, not a silent skip.
const (
	KindWebhook   = "webhook"
	KindSES       = "ses"
	KindAMQP      = "amqp"
	KindRedisList = "redis-list"
	KindOSS       = "oss"
	KindRedisBlob = "redis-blob"
)

// Settings is the per-provider block of the topology file. Which fields
// matter depends on the kind.
type Settings struct {
	Name            string `yaml:"name"`
	Kind            string `yaml:"kind"`
	Endpoint        string `yaml:"endpoint"`
	APIKey          string `yaml:"api_key"`
	URL             string `yaml:"url"`
	Region          string `yaml:"region"`
	Sender          string `yaml:"sender"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Factory builds provider adapters from topology settings. Shared backends
// (the Redis client) are injected once and reused across providers.
type Factory struct {
	redis *goredis.Client
}

func NewFactory(redis *goredis.Client) *Factory {
	return &Factory{redis: redis}
}

func (f *Factory) NewMessageProvider(ctx context.Context, s Settings) (MessageProvider, error) {
	switch s.Kind {
	case KindWebhook:
		return NewHTTPGatewayProvider(s.Name, s.Endpoint, s.APIKey)
	case KindSES:
		return NewSESProvider(ctx, SESConfig{
			Name:            s.Name,
			Region:          s.Region,
			Sender:          s.Sender,
			AccessKeyID:     s.AccessKeyID,
			SecretAccessKey: s.SecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("unknown message provider kind %q", s.Kind)
	}
}

func (f *Factory) NewTaskProvider(_ context.Context, s Settings) (TaskProvider, error) {
	switch s.Kind {
	case KindAMQP:
		return NewAMQPTaskProvider(s.Name, s.URL)
	case KindRedisList:
		return NewRedisTaskProvider(s.Name, f.redis)
	default:
		return nil, fmt.Errorf("unknown task provider kind %q", s.Kind)
	}
}

func (f *Factory) NewStorageProvider(_ context.Context, s Settings) (StorageProvider, error) {
	switch s.Kind {
	case KindOSS:
		return NewOSSStorageProvider(OSSConfig{
			Name:            s.Name,
			Region:          s.Region,
			Bucket:          s.Bucket,
			AccessKeyID:     s.AccessKeyID,
			SecretAccessKey: s.SecretAccessKey,
		})
	case KindRedisBlob:
		return NewRedisStorageProvider(s.Name, f.redis)
	default:
		return nil, fmt.Errorf("unknown storage provider kind %q", s.Kind)
	}
}
