package bowtie

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/jon077/bowtie/internal/backoff"
)

// RetryPolicy decides same-server retries for the LoadBalancedTransport.
// Only idempotent verbs are retried; the status and error classification is
// retryablehttp's, which covers network errors, 429 and 5xx except 501.
type RetryPolicy struct {
	Strategy     backoff.Strategy
	Params       backoff.Params
	IsIdempotent func(method string) bool
}

// NewRetryPolicy returns a policy using the named backoff strategy
// ("exponential" or "decorrelated").
func NewRetryPolicy(strategy string, params backoff.Params) *RetryPolicy {
	return &RetryPolicy{
		Strategy:     backoff.ForName(strategy),
		Params:       params,
		IsIdempotent: DefaultIsIdempotent,
	}
}

// DefaultIsIdempotent returns true for idempotent HTTP methods.
func DefaultIsIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	default:
		return false
	}
}

// ShouldRetry is a resty retry condition.
func (p *RetryPolicy) ShouldRetry(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil {
		return false
	}
	if !p.IsIdempotent(resp.Request.Method) {
		return false
	}

	ctx := resp.Request.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	retry, _ := retryablehttp.DefaultRetryPolicy(ctx, resp.RawResponse, err)
	return retry
}

// RetryAfter is a resty retry-after hook: the server's Retry-After when
// given, otherwise the backoff strategy's delay for the attempt.
func (p *RetryPolicy) RetryAfter(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
	attempt := 0
	if resp != nil {
		if d := parseRetryAfter(resp.Header().Get("Retry-After")); d > 0 {
			return d, nil
		}
		if resp.Request != nil && resp.Request.Attempt > 0 {
			attempt = resp.Request.Attempt - 1
		}
	}
	return p.Strategy.Delay(attempt, p.Params), nil
}

// parseRetryAfter parses delay-seconds or an HTTP-date, capped at one hour.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds <= 0 {
			return 0
		}
		delay := time.Duration(seconds) * time.Second
		if delay > time.Hour {
			delay = time.Hour
		}
		return delay
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}
