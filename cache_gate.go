package bowtie

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// cacheGate decides whether a call is answered from the cache and whether
// its result is written back. Cache failures are logged and counted, never
// returned.
type cacheGate struct {
	cache   Cache
	policy  CachingPolicy
	logger  *zap.Logger
	metrics *MetricsCollector
}

func (g *cacheGate) enabled() bool {
	return g != nil && g.cache != nil
}

func (g *cacheGate) lookup(ctx context.Context, method, key string) (any, bool) {
	if !g.enabled() {
		return nil, false
	}

	v, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		g.logger.Warn("cache read failed", zap.String("method", method), zap.String("key", key), zap.Error(err))
		g.metrics.RecordCacheError(method, "get")
		return nil, false
	}
	if !ok {
		g.logger.Debug("cache miss", zap.String("method", method), zap.String("key", key))
		g.metrics.RecordCacheMiss(method)
		return nil, false
	}

	g.logger.Debug("cache hit", zap.String("method", method), zap.String("key", key))
	g.metrics.RecordCacheHit(method)
	return v, true
}

func (g *cacheGate) store(ctx context.Context, method, key string, resp *http.Response, value any) {
	if !g.enabled() || g.policy == nil || !g.policy.IsCacheable(resp) {
		return
	}

	if err := g.set(ctx, key, resp, value); err != nil {
		g.logger.Warn("cache write failed", zap.String("method", method), zap.String("key", key), zap.Error(err))
		g.metrics.RecordCacheError(method, "set")
		return
	}
	g.logger.Debug("cache store", zap.String("method", method), zap.String("key", key))
}

func (g *cacheGate) set(ctx context.Context, key string, resp *http.Response, value any) error {
	if ec, ok := g.cache.(ExpiringCache); ok {
		if ttl, ok := FreshnessLifetime(resp); ok {
			return ec.SetWithTTL(ctx, key, value, ttl)
		}
	}
	return g.cache.Set(ctx, key, value)
}
