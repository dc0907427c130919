package bowtie

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/jon077/bowtie/internal/backoff"
)

// Config is the environment-driven client configuration. Every field maps
// to BOWTIE_<NAME>, for example BOWTIE_SERVERS=http://a:8080,http://b:8080.
type Config struct {
	Servers              []string      `envconfig:"SERVERS"`
	RequestTimeout       time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	MaxRetries           int           `envconfig:"MAX_RETRIES" default:"1"`
	MaxRetriesNextServer int           `envconfig:"MAX_RETRIES_NEXT_SERVER" default:"1"`
	RetryNonIdempotent   bool          `envconfig:"RETRY_NON_IDEMPOTENT" default:"false"`
	BackoffStrategy      string        `envconfig:"BACKOFF_STRATEGY" default:"exponential"`
	BackoffInitial       time.Duration `envconfig:"BACKOFF_INITIAL" default:"100ms"`
	BackoffMax           time.Duration `envconfig:"BACKOFF_MAX" default:"2s"`
	RateLimit            float64       `envconfig:"RATE_LIMIT" default:"0"`
	RateBurst            int           `envconfig:"RATE_BURST" default:"0"`

	CacheEnabled bool          `envconfig:"CACHE_ENABLED" default:"false"`
	CacheTTL     time.Duration `envconfig:"CACHE_TTL" default:"5m"`

	BreakerFailureThreshold int           `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5"`
	BreakerRecoveryTimeout  time.Duration `envconfig:"BREAKER_RECOVERY_TIMEOUT" default:"60s"`
	BreakerSuccessThreshold int           `envconfig:"BREAKER_SUCCESS_THRESHOLD" default:"2"`
	MaxConcurrent           int64         `envconfig:"MAX_CONCURRENT" default:"10"`
	CommandTimeout          time.Duration `envconfig:"COMMAND_TIMEOUT" default:"1s"`

	Serializer string `envconfig:"SERIALIZER" default:"json"`

	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogDevelopment bool   `envconfig:"LOG_DEV" default:"false"`
	Metrics        bool   `envconfig:"METRICS" default:"false"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("bowtie", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// TransportConfig derives the transport settings.
func (c *Config) TransportConfig() TransportConfig {
	return TransportConfig{
		Servers:              c.Servers,
		MaxRetries:           c.MaxRetries,
		MaxRetriesNextServer: c.MaxRetriesNextServer,
		RetryNonIdempotent:   c.RetryNonIdempotent,
		RequestTimeout:       c.RequestTimeout,
		RateLimit:            c.RateLimit,
		RateBurst:            c.RateBurst,
		BackoffStrategy:      c.BackoffStrategy,
		Backoff: backoff.Params{
			Initial:    c.BackoffInitial,
			Max:        c.BackoffMax,
			Multiplier: 2.0,
			Jitter:     0.1,
		},
	}
}

// BoundaryConfig derives the resilience settings.
func (c *Config) BoundaryConfig() BoundaryConfig {
	return BoundaryConfig{
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: c.BreakerFailureThreshold,
			RecoveryTimeout:  c.BreakerRecoveryTimeout,
			SuccessThreshold: c.BreakerSuccessThreshold,
		},
		MaxConcurrent: c.MaxConcurrent,
		Timeout:       c.CommandTimeout,
	}
}

// NewFromConfig assembles a client from cfg. Extra options are applied
// after the ones derived from cfg and win on conflict.
func NewFromConfig(cfg *Config, extra ...Option) (*Client, error) {
	logger, err := NewLogger(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return nil, err
	}

	ser := SerializerFor(cfg.Serializer)
	if ser == nil {
		return nil, newError(ErrorTypeValidation, fmt.Sprintf("unknown serializer %q", cfg.Serializer), nil)
	}

	var metrics *MetricsCollector
	if cfg.Metrics {
		metrics = NewMetricsCollector()
	}

	transport, err := NewLoadBalancedTransport(cfg.TransportConfig(),
		WithTransportLogger(logger),
		WithTransportMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithLogger(logger),
		WithMetricsCollector(metrics),
		WithTransport(transport),
		WithSerializer(ser),
		WithBoundaryConfig(cfg.BoundaryConfig()),
	}
	if cfg.CacheEnabled {
		opts = append(opts, WithInMemoryCache(cfg.CacheTTL))
	}
	opts = append(opts, extra...)

	client := New(opts...)
	if err := client.ValidationError(); err != nil {
		return nil, err
	}
	return client, nil
}
