package bowtie

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const maxErrorBodySnippet = 512

var (
	bytesType  = reflect.TypeOf([]byte(nil))
	stringType = reflect.TypeOf("")
)

// execution is one call of one method. It runs at most once.
type execution struct {
	client    *Client
	desc      *Descriptor
	args      []any
	requestID string
	used      atomic.Bool
}

func (c *Client) newExecution(d *Descriptor, args []any) *execution {
	return &execution{
		client:    c,
		desc:      d,
		args:      args,
		requestID: c.requestIDGen(),
	}
}

// execute runs the call inside the boundary and blocks for its result.
func (e *execution) execute(ctx context.Context) (any, error) {
	if !e.used.CompareAndSwap(false, true) {
		return nil, withCall(newError(ErrorTypeIllegalState, "execution already started", nil), e.desc, e.requestID)
	}

	c := e.client
	trace := &callTrace{}
	ctx = context.WithValue(ctx, callTraceKey{}, trace)
	start := time.Now()
	c.metrics.RecordInvocationStart(e.desc.id)
	defer c.metrics.RecordInvocationEnd(e.desc.id)

	c.logger.Debug("invoking",
		zap.String("method", e.desc.id),
		zap.String("group", e.desc.key.Group),
		zap.String("command", e.desc.key.Command),
		zap.String("request_id", e.requestID),
	)

	value, err := c.boundary.Execute(ctx, e.desc.key, e.work)
	duration := time.Since(start)

	outcome := trace.outcome(err)
	c.metrics.RecordInvocation(e.desc.id, e.desc.key, outcome, duration)

	if err != nil {
		if !isClientError(err) && !isContextError(err) {
			err = newError(ErrorTypeTransport, "call failed", err)
		}
		err = withCall(err, e.desc, e.requestID)
		c.metrics.RecordError(errorType(err), e.desc.id)
		c.logger.Debug("invocation failed",
			zap.String("method", e.desc.id),
			zap.String("request_id", e.requestID),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, err
	}

	c.logger.Debug("invocation completed",
		zap.String("method", e.desc.id),
		zap.String("request_id", e.requestID),
		zap.String("outcome", outcome),
		zap.Duration("duration", duration),
	)
	return value, nil
}

// observe defers execute until the first subscriber.
func (e *execution) observe() *Observable {
	return NewObservable(e.execute)
}

// work is what the boundary runs: cache check, request, transport, decode
// and cache store.
func (e *execution) work(ctx context.Context) (any, error) {
	c := e.client

	var key string
	if c.gate.enabled() {
		key = e.desc.cacheKey(e.args)
		if v, ok := c.gate.lookup(ctx, e.desc.id, key); ok {
			markCacheHit(ctx)
			return v, nil
		}
	}

	req, err := e.desc.BuildRequest(e.args, c.serializer)
	if err != nil {
		return nil, err
	}

	resp, err := c.transport.ExecuteWithLoadBalancing(ctx, req)
	if err != nil {
		if isClientError(err) || isContextError(err) {
			return nil, err
		}
		return nil, newError(ErrorTypeTransport, fmt.Sprintf("%s %s", req.Method, req.URI()), err)
	}

	value, err := e.decode(resp)
	if err != nil {
		return nil, err
	}

	// Raw responses carry a live body and are never cached.
	if c.gate.enabled() && e.desc.responseType != RawResponseType {
		c.gate.store(ctx, e.desc.id, key, resp, value)
	}
	return value, nil
}

func (e *execution) decode(resp *http.Response) (any, error) {
	rt := e.desc.responseType
	if rt == RawResponseType {
		return resp, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(ErrorTypeTransport, "cannot read response body", err)
	}
	// Leave a readable body behind for the caching policy and fallbacks.
	resp.Body = io.NopCloser(bytes.NewReader(body))

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &ClientError{
			Type:       ErrorTypeHTTPStatus,
			Message:    fmt.Sprintf("%s: %s", resp.Status, snippet(body)),
			StatusCode: resp.StatusCode,
		}
	}

	switch rt {
	case bytesType:
		return body, nil
	case stringType:
		return string(body), nil
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return reflect.Zero(rt).Interface(), nil
	}

	target := reflect.New(rt)
	if err := e.client.serializer.Unmarshal(body, target.Interface()); err != nil {
		return nil, &ClientError{
			Type:       ErrorTypeDeserialization,
			Message:    fmt.Sprintf("cannot decode response into %s", rt),
			Cause:      err,
			StatusCode: resp.StatusCode,
		}
	}
	return target.Elem().Interface(), nil
}

func snippet(body []byte) string {
	if len(body) > maxErrorBodySnippet {
		return string(body[:maxErrorBodySnippet]) + "..."
	}
	return string(body)
}

func isClientError(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}

func errorType(err error) string {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Type
	}
	if isContextError(err) {
		return "Canceled"
	}
	return "Unknown"
}

type callTraceKey struct{}

// callTrace records what happened inside the boundary for metrics.
type callTrace struct {
	cacheHit atomic.Bool
	fallback atomic.Bool
}

func (t *callTrace) outcome(err error) string {
	switch {
	case err != nil:
		return OutcomeError
	case t.fallback.Load():
		return OutcomeFallback
	case t.cacheHit.Load():
		return OutcomeCacheHit
	default:
		return OutcomeSuccess
	}
}

func markCacheHit(ctx context.Context) {
	if t, ok := ctx.Value(callTraceKey{}).(*callTrace); ok {
		t.cacheHit.Store(true)
	}
}

func markFallback(ctx context.Context) {
	if t, ok := ctx.Value(callTraceKey{}).(*callTrace); ok {
		t.fallback.Store(true)
	}
}
