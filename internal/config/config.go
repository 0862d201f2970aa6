package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

// Config is the process-level configuration, loaded from the environment.
// Provider topology lives in a separate YAML file referenced by ProvidersFile.
type Config struct {
	DatabaseDSN       string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL       string `env:"RABBITMQ_URL,required=true"`
	RedisURL          string `env:"REDIS_URL,required=true"`
	ProvidersFile     string `env:"PROVIDERS_FILE,required=true"`
	RateLimitPerSec   int    `env:"RATE_LIMIT_PER_SEC,default=100"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=16"`
	APIPort           int    `env:"API_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`

	DispatchMaxAttempts    int     `env:"DISPATCH_MAX_ATTEMPTS,default=3"`
	DispatchInitialDelayMS int     `env:"DISPATCH_INITIAL_DELAY_MS,default=1000"`
	DispatchMaxDelayMS     int     `env:"DISPATCH_MAX_DELAY_MS,default=10000"`
	DispatchBackoffFactor  float64 `env:"DISPATCH_BACKOFF_FACTOR,default=2.0"`
	DispatchTimeoutMS      int     `env:"DISPATCH_TIMEOUT_MS,default=0"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) DispatchInitialDelay() time.Duration {
	return time.Duration(c.DispatchInitialDelayMS) * time.Millisecond
}

func (c *Config) DispatchMaxDelay() time.Duration {
	return time.Duration(c.DispatchMaxDelayMS) * time.Millisecond
}

func (c *Config) DispatchTimeout() time.Duration {
	return time.Duration(c.DispatchTimeoutMS) * time.Millisecond
}
