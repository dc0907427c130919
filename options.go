package bowtie

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// WithTransport sets the transport that performs the network call.
func WithTransport(t Transport) Option {
	return func(c *Client) {
		c.transport = t
	}
}

// WithServers uses a LoadBalancedTransport with default settings over the
// given base URLs. WithTransport takes precedence.
func WithServers(servers ...string) Option {
	return func(c *Client) {
		c.servers = append(c.servers, servers...)
	}
}

// WithSerializer sets the body codec. The default is JSONSerializer.
func WithSerializer(s Serializer) Option {
	return func(c *Client) {
		c.serializer = s
	}
}

// WithCache enables the response cache with a custom implementation.
func WithCache(cache Cache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithInMemoryCache enables the response cache with an InMemoryCache.
func WithInMemoryCache(ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = NewInMemoryCache(ttl)
	}
}

// WithCachingPolicy decides which responses are stored. The default is
// DefaultCachingPolicy.
func WithCachingPolicy(p CachingPolicy) Option {
	return func(c *Client) {
		c.cachingPolicy = p
	}
}

// WithBoundary replaces the default BreakerBoundary.
func WithBoundary(b Boundary) Option {
	return func(c *Client) {
		c.boundary = b
	}
}

// WithBoundaryConfig configures the default BreakerBoundary.
func WithBoundaryConfig(cfg BoundaryConfig) Option {
	return func(c *Client) {
		c.boundaryConfig = cfg
	}
}

// WithCommandFallback registers a fallback on the default BreakerBoundary.
func WithCommandFallback(key CommandKey, fn Fallback) Option {
	return func(c *Client) {
		c.fallbacks[key] = fn
	}
}

// WithRegistry resolves ids against r instead of DefaultRegistry.
func WithRegistry(r *Registry) Option {
	return func(c *Client) {
		c.registry = r
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector enables metrics with a custom collector.
func WithMetricsCollector(mc *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = mc
	}
}

// WithRequestIDGenerator sets the request ID source. The default is
// uuid.NewString.
func WithRequestIDGenerator(fn func() string) Option {
	return func(c *Client) {
		c.requestIDGen = fn
	}
}

// IsValid reports whether the client configuration passed validation.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// ValidateConfiguration checks the assembled client.
func (c *Client) ValidateConfiguration() error {
	var errors []string

	errors = append(errors, c.validateCoreConfig()...)
	errors = append(errors, c.validateCacheConfig()...)
	errors = append(errors, c.validateBoundaryConfig()...)

	if len(errors) > 0 {
		return &ClientError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", errors),
		}
	}

	return nil
}

func (c *Client) validateCoreConfig() []string {
	var errors []string

	if c.registry == nil {
		errors = append(errors, "registry cannot be nil")
	}
	if c.transport == nil {
		errors = append(errors, "a transport or at least one server is required")
	}
	if c.serializer == nil {
		errors = append(errors, "serializer cannot be nil")
	}
	if c.logger == nil {
		errors = append(errors, "logger cannot be nil")
	}
	if c.requestIDGen == nil {
		errors = append(errors, "request ID generator cannot be nil")
	}

	return errors
}

func (c *Client) validateCacheConfig() []string {
	var errors []string

	if c.cache != nil && c.cachingPolicy == nil {
		errors = append(errors, "cachingPolicy must be set when cache is enabled")
	}

	return errors
}

func (c *Client) validateBoundaryConfig() []string {
	var errors []string

	if _, ok := c.boundary.(*BreakerBoundary); !ok && len(c.fallbacks) > 0 {
		errors = append(errors, "command fallbacks need the default boundary; register them on the custom boundary instead")
	}

	cfg := c.boundaryConfig
	if cfg.MaxConcurrent < 0 {
		errors = append(errors, "boundary MaxConcurrent must be non-negative")
	}
	if cfg.Timeout < 0 {
		errors = append(errors, "boundary Timeout must be non-negative")
	}
	if cfg.Timeout > 10*time.Minute {
		errors = append(errors, "boundary Timeout > 10m may cause calls to hang for too long")
	}
	for key, fn := range c.fallbacks {
		if fn == nil {
			errors = append(errors, fmt.Sprintf("fallback for %s cannot be nil", key))
		}
	}

	return errors
}
