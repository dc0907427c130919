package bowtie

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Client dispatches declared methods: it resolves the descriptor, builds the
// request and runs the call through the cache gate and the resilience
// boundary. It is safe for concurrent use.
type Client struct {
	registry       *Registry
	transport      Transport
	servers        []string
	serializer     Serializer
	cache          Cache
	cachingPolicy  CachingPolicy
	boundary       Boundary
	boundaryConfig BoundaryConfig
	fallbacks      map[CommandKey]Fallback
	logger         *zap.Logger
	metrics        *MetricsCollector
	requestIDGen   func() string

	gate            *cacheGate
	validationError error
}

// New constructs a Client from options. Configuration problems do not panic;
// they are reported by IsValid and ValidationError and returned by every
// call.
func New(options ...Option) *Client {
	client := &Client{
		registry:       DefaultRegistry,
		serializer:     JSONSerializer{},
		cachingPolicy:  DefaultCachingPolicy{},
		boundaryConfig: DefaultBoundaryConfig(),
		fallbacks:      make(map[CommandKey]Fallback),
		logger:         zap.NewNop(),
		requestIDGen:   uuid.NewString,
	}

	for _, option := range options {
		option(client)
	}

	if client.transport == nil && len(client.servers) > 0 {
		t, err := NewLoadBalancedTransport(TransportConfig{Servers: client.servers},
			WithTransportLogger(client.logger),
			WithTransportMetrics(client.metrics),
		)
		if err != nil {
			client.validationError = err
		} else {
			client.transport = t
		}
	}

	if client.boundary == nil {
		opts := []BoundaryOption{
			WithBoundaryLogger(client.logger),
			WithBoundaryMetrics(client.metrics),
		}
		for key, fn := range client.fallbacks {
			opts = append(opts, WithFallback(key, fn))
		}
		client.boundary = NewBreakerBoundary(client.boundaryConfig, opts...)
	}

	client.gate = &cacheGate{
		cache:   client.cache,
		policy:  client.cachingPolicy,
		logger:  client.logger,
		metrics: client.metrics,
	}

	if client.validationError == nil {
		client.validationError = client.ValidateConfiguration()
	}

	return client
}

// Registry returns the registry the client resolves ids against.
func (c *Client) Registry() *Registry {
	return c.registry
}

// Register adds declarations to the client's registry.
func (c *Client) Register(specs ...MethodSpec) error {
	return c.registry.Register(specs...)
}

// Invoke calls the method registered as id with args in declaration order.
// Streamed methods return an unstarted *Observable; all others run before
// Invoke returns.
func (c *Client) Invoke(ctx context.Context, id string, args ...any) (any, error) {
	exec, err := c.prepare(id, args)
	if err != nil {
		return nil, err
	}
	if exec.desc.Streamed() {
		return exec.observe(), nil
	}
	return exec.execute(ctx)
}

func (c *Client) prepare(id string, args []any) (*execution, error) {
	if c.validationError != nil {
		return nil, c.validationError
	}

	d, err := c.registry.descriptor(id, c.onCompile)
	if err != nil {
		return nil, err
	}
	return c.newExecution(d, args), nil
}

func (c *Client) onCompile(id string) {
	c.metrics.RecordCompilation(id)
	c.logger.Debug("compiled method descriptor", zap.String("method", id))
}

// Call invokes a direct method and asserts its result to T.
func Call[T any](ctx context.Context, c *Client, id string, args ...any) (T, error) {
	var zero T
	v, err := c.Invoke(ctx, id, args...)
	if err != nil {
		return zero, err
	}
	return as[T](v)
}

// Observe returns the deferred call of a streamed method. Nothing is sent
// until the Observable is subscribed.
func Observe(ctx context.Context, c *Client, id string, args ...any) (*Observable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	exec, err := c.prepare(id, args)
	if err != nil {
		return nil, err
	}
	if !exec.desc.Streamed() {
		return nil, &ClientError{
			Type:    ErrorTypeIllegalState,
			Message: fmt.Sprintf("method %q is not streamed", id),
			Method:  id,
		}
	}
	return exec.observe(), nil
}
