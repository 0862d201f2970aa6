// Package dispatch implements the multi-provider dispatch core: bounded
// exponential-backoff retry against one provider, ordered failover across a
// configured provider list, and aggregation of per-provider failure reasons
// when every provider is exhausted.
package dispatch

import (
	"math"
	"time"
)

// Policy bounds retry behavior against a single provider. Delays are
// deterministic: no jitter is applied, so retry timing is reproducible.
type Policy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultPolicy holds the orchestration-layer defaults: three attempts with
// a one second initial delay doubling up to ten seconds.
var DefaultPolicy = Policy{
	MaxAttempts:   3,
	InitialDelay:  time.Second,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2,
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultPolicy.InitialDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = 1
	}
	return p
}

// Delay returns the pause that precedes the given attempt number. Attempt 1
// starts immediately; attempt n waits initial*factor^(n-2), capped at max.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt-2))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}
