package provider

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/courierhq/courier/internal/domain"
)

const taskKeyPrefix = "tasks:"

// RedisTaskProvider enqueues tasks onto a Redis list, one list per queue.
// It backs the task-queue domain when the primary broker is down.
type RedisTaskProvider struct {
	name   string
	client *goredis.Client
}

func NewRedisTaskProvider(name string, client *goredis.Client) (*RedisTaskProvider, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	return &RedisTaskProvider{name: name, client: client}, nil
}

func (p *RedisTaskProvider) Name() string { return p.name }

func (p *RedisTaskProvider) Enqueue(ctx context.Context, task domain.Task) (*EnqueueResult, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}

	key := taskKeyPrefix + task.Queue
	if err := p.client.LPush(ctx, key, task.Payload).Err(); err != nil {
		return nil, &ProviderError{
			Message:   fmt.Sprintf("failed to push task to %q", key),
			Transient: IsTransient(err) || isRedisUnavailable(err),
			Cause:     err,
		}
	}

	return &EnqueueResult{TaskID: task.ID}, nil
}

func (p *RedisTaskProvider) Health(ctx context.Context) HealthStatus {
	if p == nil || p.client == nil {
		return HealthStatus{OK: false, Message: "provider is not initialized"}
	}
	if err := p.client.Ping(ctx).Err(); err != nil {
		return HealthStatus{OK: false, Message: err.Error()}
	}
	return HealthStatus{OK: true}
}

// isRedisUnavailable catches connectivity failures the generic classifier
// text table does not name.
func isRedisUnavailable(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "connection pool timeout") ||
		strings.Contains(text, "loading") ||
		strings.Contains(text, "readonly")
}
