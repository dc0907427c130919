package bowtie

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	client := New(WithTransport(newRecordingTransport(200, "")))

	require.True(t, client.IsValid())
	assert.Same(t, DefaultRegistry, client.Registry())
	assert.IsType(t, JSONSerializer{}, client.serializer)
	assert.IsType(t, DefaultCachingPolicy{}, client.cachingPolicy)
	assert.IsType(t, &BreakerBoundary{}, client.boundary)
	assert.Nil(t, client.cache)
	assert.NotEmpty(t, client.requestIDGen())
}

func TestNewWithServersBuildsLoadBalancedTransport(t *testing.T) {
	client := New(WithRegistry(NewRegistry()), WithServers("http://a.example", "http://b.example"))

	require.True(t, client.IsValid())
	lb, ok := client.transport.(*LoadBalancedTransport)
	require.True(t, ok)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, lb.Servers())
}

func TestNewWithoutTransportIsInvalid(t *testing.T) {
	client := New(WithRegistry(NewRegistry()))

	assert.False(t, client.IsValid())
	assert.True(t, errors.Is(client.ValidationError(), ErrValidation))

	_, err := client.Invoke(context.Background(), "users.get", 1)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestValidateConfiguration(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"nil serializer", []Option{WithSerializer(nil)}},
		{"nil logger", []Option{WithLogger(nil)}},
		{"nil request ids", []Option{WithRequestIDGenerator(nil)}},
		{"cache without policy", []Option{WithInMemoryCache(0), WithCachingPolicy(nil)}},
		{"negative bulkhead", []Option{WithBoundaryConfig(BoundaryConfig{MaxConcurrent: -1})}},
		{"fallback on custom boundary", []Option{
			WithBoundary(PassthroughBoundary{}),
			WithCommandFallback(testKey, func(context.Context, CommandKey, error) (any, error) { return nil, nil }),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := append([]Option{WithRegistry(NewRegistry()), WithTransport(newRecordingTransport(200, ""))}, tt.opts...)
			client := New(opts...)
			assert.False(t, client.IsValid())
			assert.True(t, errors.Is(client.ValidationError(), ErrValidation))
		})
	}
}

func TestCallDecodesResponse(t *testing.T) {
	transport := newRecordingTransport(200, `{"id":1,"name":"ada"}`)
	client, mc := newTestClient(t, transport, []MethodSpec{getUserSpec()})

	u, err := Call[User](context.Background(), client, "users.get", 1)
	require.NoError(t, err)
	assert.Equal(t, User{ID: 1, Name: "ada"}, u)

	req := transport.lastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/users/1", req.Path)

	assert.Equal(t, 1.0, testutil.ToFloat64(mc.invocationsTotal.WithLabelValues("users.get", "users", "get", OutcomeSuccess)))
}

func TestCacheHitSkipsTransport(t *testing.T) {
	transport := newRecordingTransport(200, `{"id":1,"name":"fresh"}`)
	cache := newMapCache()
	cache.entries["/users/1"] = User{ID: 1, Name: "cached"}
	client, mc := newTestClient(t, transport, []MethodSpec{getUserSpec()}, WithCache(cache))

	u, err := Call[User](context.Background(), client, "users.get", 1)
	require.NoError(t, err)
	assert.Equal(t, "cached", u.Name)
	assert.Equal(t, int32(0), transport.calls.Load())

	assert.Equal(t, 1.0, testutil.ToFloat64(mc.cacheHits.WithLabelValues("users.get")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.invocationsTotal.WithLabelValues("users.get", "users", "get", OutcomeCacheHit)))
}

func TestCacheKeyOverrideSharesEntry(t *testing.T) {
	spec := getUserSpec()
	spec.CacheKey = "current-user"
	transport := newRecordingTransport(200, `{"id":1}`)
	cache := newMapCache()
	cache.entries["current-user"] = User{ID: 99}
	client, _ := newTestClient(t, transport, []MethodSpec{spec}, WithCache(cache))

	for _, id := range []int{1, 2, 3} {
		u, err := Call[User](context.Background(), client, "users.get", id)
		require.NoError(t, err)
		assert.Equal(t, 99, u.ID)
	}
	assert.Equal(t, int32(0), transport.calls.Load())
}

func TestCacheMissStoresDecodedResponse(t *testing.T) {
	transport := newRecordingTransport(200, `{"id":2,"name":"bo"}`)
	cache := newMapCache()
	client, mc := newTestClient(t, transport, []MethodSpec{getUserSpec()}, WithCache(cache))

	u, err := Call[User](context.Background(), client, "users.get", 2)
	require.NoError(t, err)
	assert.Equal(t, User{ID: 2, Name: "bo"}, u)
	assert.Equal(t, User{ID: 2, Name: "bo"}, cache.entries["/users/2"])
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.cacheMisses.WithLabelValues("users.get")))

	_, err = Call[User](context.Background(), client, "users.get", 2)
	require.NoError(t, err)
	assert.Equal(t, int32(1), transport.calls.Load())
}

func TestCachingPolicyRejectsResponse(t *testing.T) {
	transport := newRecordingTransport(200, `{"id":2}`)
	transport.header.Set("Cache-Control", "no-store")
	cache := newMapCache()
	client, _ := newTestClient(t, transport, []MethodSpec{getUserSpec()}, WithCache(cache))

	_, err := Call[User](context.Background(), client, "users.get", 2)
	require.NoError(t, err)
	assert.Empty(t, cache.entries)
	assert.Equal(t, 0, cache.sets)
}

func TestCustomCachingPolicy(t *testing.T) {
	transport := newRecordingTransport(200, `{"id":2}`)
	transport.header.Set("Cache-Control", "no-store")
	cache := newMapCache()
	client, _ := newTestClient(t, transport, []MethodSpec{getUserSpec()}, WithCache(cache), WithCachingPolicy(AlwaysCache))

	_, err := Call[User](context.Background(), client, "users.get", 2)
	require.NoError(t, err)
	assert.Contains(t, cache.entries, "/users/2")
}

func TestCacheFailuresDoNotFailCall(t *testing.T) {
	transport := newRecordingTransport(200, `{"id":3}`)
	cache := newMapCache()
	cache.getErr = errors.New("redis down")
	cache.setErr = errors.New("redis down")
	client, mc := newTestClient(t, transport, []MethodSpec{getUserSpec()}, WithCache(cache))

	u, err := Call[User](context.Background(), client, "users.get", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, u.ID)
	assert.Equal(t, int32(1), transport.calls.Load())

	assert.Equal(t, 1.0, testutil.ToFloat64(mc.cacheErrors.WithLabelValues("users.get", "get")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.cacheErrors.WithLabelValues("users.get", "set")))
}

func TestStreamedMethodIsLazy(t *testing.T) {
	transport := newRecordingTransport(201, `{"id":10,"name":"new"}`)
	client, _ := newTestClient(t, transport, []MethodSpec{createUserSpec()})

	v, err := client.Invoke(context.Background(), "users.create", User{Name: "new"})
	require.NoError(t, err)
	obs, ok := v.(*Observable)
	require.True(t, ok)
	assert.Equal(t, int32(0), transport.calls.Load())
	assert.False(t, obs.Started())

	u, err := Await[User](context.Background(), obs)
	require.NoError(t, err)
	assert.Equal(t, User{ID: 10, Name: "new"}, u)
	assert.Equal(t, int32(1), transport.calls.Load())

	req := transport.lastRequest()
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	var sent User
	require.NoError(t, json.Unmarshal(req.Body, &sent))
	assert.Equal(t, "new", sent.Name)
}

func TestBlockingMethodIsEager(t *testing.T) {
	transport := newRecordingTransport(200, `{"id":1}`)
	client, _ := newTestClient(t, transport, []MethodSpec{getUserSpec()})

	_, err := client.Invoke(context.Background(), "users.get", 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), transport.calls.Load())
}

func TestObserveSharesOneExecution(t *testing.T) {
	transport := newRecordingTransport(201, `{"id":10}`)
	client, _ := newTestClient(t, transport, []MethodSpec{createUserSpec()})

	obs, err := Observe(context.Background(), client, "users.create", User{Name: "x"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := <-obs.Subscribe(context.Background())
			assert.NoError(t, r.Err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), transport.calls.Load())
}

func TestObserveRejectsDirectMethod(t *testing.T) {
	client, _ := newTestClient(t, newRecordingTransport(200, ""), []MethodSpec{getUserSpec()})

	_, err := Observe(context.Background(), client, "users.get", 1)
	assert.True(t, errors.Is(err, ErrIllegalState))
}

func TestSerializationFailurePerformsNoNetworkCall(t *testing.T) {
	transport := newRecordingTransport(201, `{}`)
	client, _ := newTestClient(t, transport, []MethodSpec{createUserSpec()}, WithSerializer(failingSerializer{}))

	obs, err := Observe(context.Background(), client, "users.create", User{Name: "x"})
	require.NoError(t, err)

	_, err = obs.Get(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSerialization))
	assert.Equal(t, int32(0), transport.calls.Load())

	var ce *ClientError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "users.create", ce.Method)
}

func TestArgumentCountMismatch(t *testing.T) {
	transport := newRecordingTransport(200, `{}`)
	client, _ := newTestClient(t, transport, []MethodSpec{getUserSpec()})

	_, err := client.Invoke(context.Background(), "users.get")
	assert.True(t, errors.Is(err, ErrArguments))
	assert.Equal(t, int32(0), transport.calls.Load())
}

func TestUnknownMethod(t *testing.T) {
	client, mc := newTestClient(t, newRecordingTransport(200, ""), nil)

	_, err := client.Invoke(context.Background(), "users.nope")
	assert.True(t, errors.Is(err, ErrUnknownMethod))
	assert.Equal(t, 0.0, testutil.ToFloat64(mc.compilations.WithLabelValues("users.nope")))
}

func TestHTTPStatusError(t *testing.T) {
	transport := newRecordingTransport(404, `{"error":"no such user"}`)
	client, mc := newTestClient(t, transport, []MethodSpec{getUserSpec()},
		WithRequestIDGenerator(func() string { return "req-1" }))

	_, err := client.Invoke(context.Background(), "users.get", 7)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHTTPStatus))
	assert.False(t, IsTransient(err))

	var ce *ClientError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 404, ce.StatusCode)
	assert.Equal(t, "users.get", ce.Method)
	assert.Equal(t, "users", ce.Group)
	assert.Equal(t, "get", ce.Command)
	assert.Equal(t, "req-1", ce.RequestID)
	assert.Contains(t, ce.Message, "no such user")

	assert.Equal(t, 1.0, testutil.ToFloat64(mc.errorsTotal.WithLabelValues(ErrorTypeHTTPStatus, "users.get")))
}

func TestCallerCancellationIsNotTransient(t *testing.T) {
	transport := newRecordingTransport(200, "")
	transport.err = context.Canceled
	client, mc := newTestClient(t, transport, []MethodSpec{getUserSpec()})

	_, err := client.Invoke(context.Background(), "users.get", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrTransport))
	assert.False(t, IsTransient(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.errorsTotal.WithLabelValues("Canceled", "users.get")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	transport.err = newError(ErrorTypeTransport, "GET /users/1", ctx.Err())
	_, err = client.Invoke(ctx, "users.get", 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTransient(err))
}

func TestTransportErrorIsWrapped(t *testing.T) {
	transport := newRecordingTransport(200, "")
	transport.err = errors.New("connection refused")
	client, _ := newTestClient(t, transport, []MethodSpec{getUserSpec()})

	_, err := client.Invoke(context.Background(), "users.get", 1)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestDeserializationError(t *testing.T) {
	client, _ := newTestClient(t, newRecordingTransport(200, `not json`), []MethodSpec{getUserSpec()})

	_, err := client.Invoke(context.Background(), "users.get", 1)
	assert.True(t, errors.Is(err, ErrDeserialization))
}

func TestEmptyBodyDecodesToZeroValue(t *testing.T) {
	client, _ := newTestClient(t, newRecordingTransport(204, ""), []MethodSpec{getUserSpec()})

	u, err := Call[User](context.Background(), client, "users.get", 1)
	require.NoError(t, err)
	assert.Equal(t, User{}, u)
}

func TestStringAndBytesResponses(t *testing.T) {
	text := MethodSpec{
		ID:         "health.text",
		HTTP:       &HTTP{Method: "GET", URITemplate: "/health"},
		Resilience: &Resilience{GroupKey: "health", CommandKey: "text"},
		ReturnType: TypeOf[string](),
	}
	raw := text
	raw.ID = "health.bytes"
	raw.ReturnType = TypeOf[[]byte]()

	client, _ := newTestClient(t, newRecordingTransport(200, "OK"), []MethodSpec{text, raw})

	s, err := Call[string](context.Background(), client, "health.text")
	require.NoError(t, err)
	assert.Equal(t, "OK", s)

	b, err := Call[[]byte](context.Background(), client, "health.bytes")
	require.NoError(t, err)
	assert.Equal(t, []byte("OK"), b)
}

func TestRawResponseIsNotCached(t *testing.T) {
	spec := MethodSpec{
		ID:         "files.download",
		HTTP:       &HTTP{Method: "GET", URITemplate: "/files/{name}"},
		Resilience: &Resilience{GroupKey: "files", CommandKey: "download"},
		Params:     []Param{Path("name")},
		ReturnType: RawResponseType,
	}
	transport := newRecordingTransport(200, "payload")
	cache := newMapCache()
	client, _ := newTestClient(t, transport, []MethodSpec{spec}, WithCache(cache))

	resp, err := Call[*http.Response](context.Background(), client, "files.download", "a.txt")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
	assert.Equal(t, 0, cache.sets)
}

func TestCallTypeMismatch(t *testing.T) {
	client, _ := newTestClient(t, newRecordingTransport(200, `{"id":1}`), []MethodSpec{getUserSpec()})

	_, err := Call[string](context.Background(), client, "users.get", 1)
	assert.True(t, errors.Is(err, ErrIllegalState))
}

func TestCommandFallback(t *testing.T) {
	transport := newRecordingTransport(200, "")
	transport.err = errors.New("connection reset")

	var cause error
	client, mc := newTestClient(t, transport, []MethodSpec{getUserSpec()},
		WithCommandFallback(CommandKey{Group: "users", Command: "get"}, func(_ context.Context, _ CommandKey, err error) (any, error) {
			cause = err
			return User{Name: "fallback"}, nil
		}))

	u, err := Call[User](context.Background(), client, "users.get", 1)
	require.NoError(t, err)
	assert.Equal(t, "fallback", u.Name)
	assert.True(t, errors.Is(cause, ErrTransport))
	assert.Equal(t, 1.0, testutil.ToFloat64(mc.invocationsTotal.WithLabelValues("users.get", "users", "get", OutcomeFallback)))
}

func TestCircuitOpensAfterRepeatedFailures(t *testing.T) {
	transport := newRecordingTransport(200, "")
	transport.err = errors.New("connection refused")
	client, _ := newTestClient(t, transport, []MethodSpec{getUserSpec()},
		WithBoundaryConfig(BoundaryConfig{CircuitBreaker: CircuitBreakerConfig{FailureThreshold: 2}}))

	for i := 0; i < 2; i++ {
		_, err := client.Invoke(context.Background(), "users.get", 1)
		assert.True(t, errors.Is(err, ErrTransport))
	}

	_, err := client.Invoke(context.Background(), "users.get", 1)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Equal(t, int32(2), transport.calls.Load())
}

func TestExecutionRunsOnce(t *testing.T) {
	client, _ := newTestClient(t, newRecordingTransport(200, `{"id":1}`), []MethodSpec{getUserSpec()})
	d, err := client.Registry().Descriptor("users.get")
	require.NoError(t, err)

	exec := client.newExecution(d, []any{1})
	_, err = exec.execute(context.Background())
	require.NoError(t, err)

	_, err = exec.execute(context.Background())
	assert.True(t, errors.Is(err, ErrIllegalState))
}

func TestDescriptorCompiledOncePerClient(t *testing.T) {
	transport := newRecordingTransport(200, `{"id":1}`)
	client, mc := newTestClient(t, transport, []MethodSpec{getUserSpec()})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := client.Invoke(context.Background(), "users.get", id)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1.0, testutil.ToFloat64(mc.compilations.WithLabelValues("users.get")))
	assert.Equal(t, int32(8), transport.calls.Load())
}

func TestSentinelErrorsStayUnannotated(t *testing.T) {
	transport := TransportFunc(func(context.Context, *Request) (*http.Response, error) {
		return nil, ErrTransport
	})
	client, _ := newTestClient(t, transport, []MethodSpec{getUserSpec()},
		WithRequestIDGenerator(func() string { return "req-7" }))

	_, err := client.Invoke(context.Background(), "users.get", 1)
	require.True(t, errors.Is(err, ErrTransport))

	var ce *ClientError
	require.True(t, errors.As(err, &ce))
	assert.NotSame(t, ErrTransport, ce)
	assert.Equal(t, "users.get", ce.Method)
	assert.Equal(t, "req-7", ce.RequestID)

	assert.Empty(t, ErrTransport.Method)
	assert.Empty(t, ErrTransport.Group)
	assert.Empty(t, ErrTransport.Command)
	assert.Empty(t, ErrTransport.RequestID)
}
