package bowtie

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/jon077/bowtie/internal/backoff"
)

// TransportConfig configures a LoadBalancedTransport.
type TransportConfig struct {
	// Servers are base URLs such as "https://api-1.internal:8443/v1".
	Servers []string `validate:"required,min=1,dive,url"`
	// MaxRetries is the number of same-server retries for idempotent calls.
	MaxRetries int `validate:"gte=0,lte=10"`
	// MaxRetriesNextServer is how many other servers are tried after a
	// network failure or 5xx. Only idempotent methods move on unless
	// RetryNonIdempotent is set.
	MaxRetriesNextServer int `validate:"gte=0"`
	// RetryNonIdempotent lets POST and PATCH calls move to the next server.
	// The first server may already have applied the request.
	RetryNonIdempotent bool
	// RequestTimeout bounds one attempt; 0 means none.
	RequestTimeout time.Duration `validate:"gte=0"`
	// RateLimit is requests per second per server; 0 means unlimited.
	RateLimit float64 `validate:"gte=0"`
	RateBurst int     `validate:"gte=0"`
	// BackoffStrategy is "exponential" or "decorrelated".
	BackoffStrategy string `validate:"omitempty,oneof=exponential decorrelated"`
	Backoff         backoff.Params
	UserAgent       string
	// TokenSource, when set, authorizes every request.
	TokenSource oauth2.TokenSource `validate:"-"`
}

// DefaultTransportConfig returns the defaults used by WithServers.
func DefaultTransportConfig(servers ...string) TransportConfig {
	return TransportConfig{
		Servers:              servers,
		MaxRetries:           1,
		MaxRetriesNextServer: 1,
		RequestTimeout:       30 * time.Second,
		BackoffStrategy:      "exponential",
		Backoff:              backoff.DefaultParams(),
		UserAgent:            "bowtie/" + Version,
	}
}

// LoadBalancedTransport sends requests round-robin across servers. Each
// server has its own rate limiter; failed attempts move on to the next
// server. It is safe for concurrent use.
type LoadBalancedTransport struct {
	config  TransportConfig
	servers []*server
	next    atomic.Uint64
	resty   *resty.Client
	tokens  oauth2.TokenSource
	logger  *zap.Logger
	metrics *MetricsCollector

	baseTransport http.RoundTripper
}

type server struct {
	base    string
	host    string
	limiter *rate.Limiter
}

// TransportOption configures a LoadBalancedTransport.
type TransportOption func(*LoadBalancedTransport)

// WithTransportLogger sets the transport logger.
func WithTransportLogger(logger *zap.Logger) TransportOption {
	return func(t *LoadBalancedTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithTransportMetrics counts retries per server.
func WithTransportMetrics(mc *MetricsCollector) TransportOption {
	return func(t *LoadBalancedTransport) {
		t.metrics = mc
	}
}

// WithRoundTripper replaces the pooled base transport.
func WithRoundTripper(rt http.RoundTripper) TransportOption {
	return func(t *LoadBalancedTransport) {
		t.baseTransport = rt
	}
}

var errAccessToken = errors.New("cannot obtain access token")

func fillTransportDefaults(cfg TransportConfig) TransportConfig {
	d := DefaultTransportConfig()

	if cfg.BackoffStrategy == "" {
		cfg.BackoffStrategy = d.BackoffStrategy
	}
	if cfg.Backoff == (backoff.Params{}) {
		cfg.Backoff = d.Backoff
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = d.UserAgent
	}
	return cfg
}

// NewLoadBalancedTransport validates cfg and builds the transport.
func NewLoadBalancedTransport(cfg TransportConfig, opts ...TransportOption) (*LoadBalancedTransport, error) {
	cfg = fillTransportDefaults(cfg)
	if err := validate.Struct(cfg); err != nil {
		return nil, newError(ErrorTypeValidation, "invalid transport configuration", err)
	}

	t := &LoadBalancedTransport{
		config: cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}

	for _, raw := range cfg.Servers {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return nil, newError(ErrorTypeValidation, fmt.Sprintf("invalid server URL %q", raw), err)
		}
		limit, burst := rate.Inf, 0
		if cfg.RateLimit > 0 {
			limit, burst = rate.Limit(cfg.RateLimit), cfg.RateBurst
			if burst <= 0 {
				burst = max(1, int(cfg.RateLimit))
			}
		}
		t.servers = append(t.servers, &server{
			base:    strings.TrimRight(raw, "/"),
			host:    u.Host,
			limiter: rate.NewLimiter(limit, burst),
		})
	}

	if cfg.TokenSource != nil {
		t.tokens = oauth2.ReuseTokenSource(nil, cfg.TokenSource)
	}

	if t.baseTransport == nil {
		// retryablehttp's client carries a pooled transport; its own retry
		// loop is not used, resty drives retries instead.
		t.baseTransport = retryablehttp.NewClient().HTTPClient.Transport
	}

	policy := NewRetryPolicy(cfg.BackoffStrategy, cfg.Backoff)
	t.resty = resty.New().
		SetTransport(t.baseTransport).
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.Backoff.Initial).
		SetRetryMaxWaitTime(cfg.Backoff.Max).
		AddRetryCondition(policy.ShouldRetry).
		SetRetryAfter(policy.RetryAfter).
		AddRetryHook(t.onRetry).
		SetLogger(t.logger.Sugar()).
		SetHeader("User-Agent", cfg.UserAgent)

	return t, nil
}

// Servers returns the configured base URLs.
func (t *LoadBalancedTransport) Servers() []string {
	out := make([]string, len(t.servers))
	for i, s := range t.servers {
		out[i] = s.base
	}
	return out
}

// ExecuteWithLoadBalancing sends req to the next server, moving on to
// further servers after network failures and 5xx responses. Responses below
// 500 are returned as is, with a fully buffered body. Non-idempotent
// requests stay on one server unless RetryNonIdempotent is set.
func (t *LoadBalancedTransport) ExecuteWithLoadBalancing(ctx context.Context, req *Request) (*http.Response, error) {
	attempts := 1 + t.config.MaxRetriesNextServer
	if !DefaultIsIdempotent(req.Method) && !t.config.RetryNonIdempotent {
		attempts = 1
	}
	if attempts > len(t.servers) {
		attempts = len(t.servers)
	}

	var lastErr error
	start := t.next.Add(1) - 1
	for i := 0; i < attempts; i++ {
		srv := t.servers[(start+uint64(i))%uint64(len(t.servers))]

		resp, err := t.send(ctx, srv, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryNextServer(err) {
			break
		}
		if i+1 < attempts {
			t.logger.Debug("trying next server",
				zap.String("failed", srv.host),
				zap.Error(err),
			)
		}
	}
	return nil, lastErr
}

func (t *LoadBalancedTransport) send(ctx context.Context, srv *server, req *Request) (*http.Response, error) {
	if err := srv.limiter.Wait(ctx); err != nil {
		return nil, newError(ErrorTypeTransport, fmt.Sprintf("rate limit wait for %s", srv.host), err)
	}

	r := t.resty.R().
		SetContext(ctx).
		SetHeaderMultiValues(req.Header).
		SetQueryParamsFromValues(req.Query)
	if len(req.Body) > 0 {
		r.SetBody(req.Body)
	}
	if t.tokens != nil {
		tok, err := t.tokens.Token()
		if err != nil {
			return nil, newError(ErrorTypeTransport, "authorization failed", fmt.Errorf("%w: %w", errAccessToken, err))
		}
		r.SetHeader("Authorization", tok.Type()+" "+tok.AccessToken)
	}

	resp, err := r.Execute(req.Method, srv.base+req.Path)
	if err != nil {
		return nil, &ClientError{
			Type:    ErrorTypeTransport,
			Message: fmt.Sprintf("%s %s%s", req.Method, srv.host, req.Path),
			Cause:   err,
		}
	}

	raw := resp.RawResponse
	raw.Body = io.NopCloser(bytes.NewReader(resp.Body()))
	if raw.StatusCode >= http.StatusInternalServerError {
		return nil, &ClientError{
			Type:       ErrorTypeTransport,
			Message:    fmt.Sprintf("%s %s%s: %s", req.Method, srv.host, req.Path, raw.Status),
			StatusCode: raw.StatusCode,
		}
	}
	return raw, nil
}

func (t *LoadBalancedTransport) onRetry(resp *resty.Response, err error) {
	host := "unknown"
	if resp != nil && resp.Request != nil {
		if u, perr := url.Parse(resp.Request.URL); perr == nil {
			host = u.Host
		}
	}
	t.metrics.RecordRetry(host)
	t.logger.Debug("retrying request", zap.String("server", host), zap.Error(err))
}

func retryNextServer(err error) bool {
	var ce *ClientError
	if !errors.As(err, &ce) {
		return true
	}
	// Token failures repeat on every server.
	return ce.Type == ErrorTypeTransport &&
		!errors.Is(ce.Cause, context.Canceled) &&
		!errors.Is(ce.Cause, errAccessToken)
}
