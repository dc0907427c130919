package bowtie

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Fallback produces a substitute result when a command fails, is rejected
// or times out. cause is the error that triggered it.
type Fallback func(ctx context.Context, key CommandKey, cause error) (any, error)

// BoundaryConfig configures a BreakerBoundary. Every CommandKey gets its own
// breaker and bulkhead built from the same settings.
type BoundaryConfig struct {
	CircuitBreaker CircuitBreakerConfig
	// MaxConcurrent caps in-flight executions per command; 0 means no cap.
	MaxConcurrent int64
	// Timeout bounds each execution; 0 means no timeout.
	Timeout time.Duration
}

// DefaultBoundaryConfig returns breaker defaults, 10 concurrent executions
// and a one second timeout.
func DefaultBoundaryConfig() BoundaryConfig {
	return BoundaryConfig{
		CircuitBreaker: CircuitBreakerConfig{}.withDefaults(),
		MaxConcurrent:  10,
		Timeout:        time.Second,
	}
}

// BreakerBoundary is the default Boundary: circuit breaker, bulkhead,
// timeout and fallback, partitioned by CommandKey.
type BreakerBoundary struct {
	config    BoundaryConfig
	commands  sync.Map // CommandKey -> *command
	fallbacks sync.Map // CommandKey -> Fallback
	logger    *zap.Logger
	metrics   *MetricsCollector
}

type command struct {
	breaker  *CircuitBreaker
	bulkhead *semaphore.Weighted
}

// BoundaryOption configures a BreakerBoundary.
type BoundaryOption func(*BreakerBoundary)

// WithBoundaryLogger logs breaker transitions and rejections to logger.
func WithBoundaryLogger(logger *zap.Logger) BoundaryOption {
	return func(b *BreakerBoundary) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBoundaryMetrics reports breaker state and bulkhead rejections.
func WithBoundaryMetrics(mc *MetricsCollector) BoundaryOption {
	return func(b *BreakerBoundary) {
		b.metrics = mc
	}
}

// WithFallback registers fn for key.
func WithFallback(key CommandKey, fn Fallback) BoundaryOption {
	return func(b *BreakerBoundary) {
		b.SetFallback(key, fn)
	}
}

// NewBreakerBoundary creates a boundary with no commands yet.
func NewBreakerBoundary(config BoundaryConfig, opts ...BoundaryOption) *BreakerBoundary {
	config.CircuitBreaker = config.CircuitBreaker.withDefaults()
	b := &BreakerBoundary{
		config: config,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetFallback registers or, with a nil fn, removes the fallback for key.
func (b *BreakerBoundary) SetFallback(key CommandKey, fn Fallback) {
	if fn == nil {
		b.fallbacks.Delete(key)
		return
	}
	b.fallbacks.Store(key, fn)
}

// State returns the breaker state of key. Unknown keys are closed.
func (b *BreakerBoundary) State(key CommandKey) CircuitState {
	if c, ok := b.commands.Load(key); ok {
		return c.(*command).breaker.State()
	}
	return StateClosed
}

func (b *BreakerBoundary) command(key CommandKey) *command {
	if c, ok := b.commands.Load(key); ok {
		return c.(*command)
	}

	breaker := NewCircuitBreaker(b.config.CircuitBreaker)
	breaker.OnStateChange = func(from, to CircuitState) {
		b.logger.Warn("circuit breaker state changed",
			zap.String("group", key.Group),
			zap.String("command", key.Command),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
		b.metrics.RecordCircuitBreakerState(key, to)
	}
	c := &command{breaker: breaker}
	if b.config.MaxConcurrent > 0 {
		c.bulkhead = semaphore.NewWeighted(b.config.MaxConcurrent)
	}

	actual, loaded := b.commands.LoadOrStore(key, c)
	if !loaded {
		b.metrics.RecordCircuitBreakerState(key, StateClosed)
	}
	return actual.(*command)
}

// Execute runs work inside the partition named by key.
func (b *BreakerBoundary) Execute(ctx context.Context, key CommandKey, work Work) (any, error) {
	c := b.command(key)

	if !c.breaker.Allow() {
		b.logger.Debug("short-circuited", zap.String("group", key.Group), zap.String("command", key.Command))
		return b.fallback(ctx, key, newError(ErrorTypeCircuitOpen, fmt.Sprintf("circuit %s is open", key), nil))
	}

	if c.bulkhead != nil {
		if !c.bulkhead.TryAcquire(1) {
			b.metrics.RecordBulkheadRejection(key)
			return b.fallback(ctx, key, newError(ErrorTypeBulkheadFull,
				fmt.Sprintf("%s has %d executions in flight", key, b.config.MaxConcurrent), nil))
		}
	}

	result, err := b.run(ctx, c, work)
	switch {
	case err == nil:
		c.breaker.RecordSuccess()
		return result, nil
	case errors.Is(err, context.Canceled), ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// The caller gave up; the command did not fail.
		return nil, err
	case isCallerFault(err):
		// The remote answered; only the call was wrong.
		c.breaker.RecordSuccess()
		return nil, err
	default:
		c.breaker.RecordFailure()
		return b.fallback(ctx, key, err)
	}
}

// run executes work and releases the bulkhead permit when work returns. With
// a timeout, the caller is released at the deadline even if work is still
// running.
func (b *BreakerBoundary) run(ctx context.Context, c *command, work Work) (any, error) {
	release := func() {
		if c.bulkhead != nil {
			c.bulkhead.Release(1)
		}
	}

	if b.config.Timeout <= 0 {
		defer release()
		return work(ctx)
	}

	runCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()
	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer release()
		v, err := work(runCtx)
		done <- outcome{v, err}
	}()

	timedOut := func() error {
		return newError(ErrorTypeTimeout, fmt.Sprintf("timed out after %s", b.config.Timeout), context.DeadlineExceeded)
	}

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, timedOut()
		}
		return o.value, o.err
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, timedOut()
	}
}

func (b *BreakerBoundary) fallback(ctx context.Context, key CommandKey, cause error) (any, error) {
	fn, ok := b.fallbacks.Load(key)
	if !ok {
		return nil, cause
	}

	b.logger.Debug("running fallback",
		zap.String("group", key.Group),
		zap.String("command", key.Command),
		zap.Error(cause),
	)
	markFallback(ctx)
	return fn.(Fallback)(ctx, key, cause)
}

// PassthroughBoundary runs work directly with no resilience policy.
type PassthroughBoundary struct{}

// Execute calls work.
func (PassthroughBoundary) Execute(ctx context.Context, _ CommandKey, work Work) (any, error) {
	return work(ctx)
}
