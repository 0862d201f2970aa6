package ratelimit

import "context"

// RateLimiter controls outbound throughput per scope. Delivery flows key the
// scope by channel; task and storage flows key it by their domain name.
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}
