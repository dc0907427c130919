package bowtie

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type User struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// recordingTransport answers every request with a canned response and
// keeps the requests it saw.
type recordingTransport struct {
	mu       sync.Mutex
	requests []*Request
	calls    atomic.Int32

	status int
	header http.Header
	body   string
	err    error
}

func newRecordingTransport(status int, body string) *recordingTransport {
	return &recordingTransport{status: status, body: body, header: http.Header{}}
}

func (t *recordingTransport) ExecuteWithLoadBalancing(_ context.Context, req *Request) (*http.Response, error) {
	t.calls.Add(1)
	t.mu.Lock()
	t.requests = append(t.requests, req)
	t.mu.Unlock()

	if t.err != nil {
		return nil, t.err
	}
	return &http.Response{
		Status:     http.StatusText(t.status),
		StatusCode: t.status,
		Header:     t.header.Clone(),
		Body:       io.NopCloser(bytes.NewBufferString(t.body)),
		Request:    &http.Request{Method: req.Method},
	}, nil
}

func (t *recordingTransport) lastRequest() *Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.requests) == 0 {
		return nil
	}
	return t.requests[len(t.requests)-1]
}

// failingSerializer fails every Marshal.
type failingSerializer struct{ JSONSerializer }

func (failingSerializer) Marshal(any) ([]byte, error) {
	return nil, errors.New("cannot encode")
}

// mapCache is a Cache that can be told to fail.
type mapCache struct {
	mu      sync.Mutex
	entries map[string]any
	getErr  error
	setErr  error
	gets    int
	sets    int
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]any)}
}

func (c *mapCache) Get(_ context.Context, key string) (any, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[key] = value
	return nil
}

func getUserSpec() MethodSpec {
	return MethodSpec{
		ID:         "users.get",
		HTTP:       &HTTP{Method: "GET", URITemplate: "/users/{id}"},
		Resilience: &Resilience{GroupKey: "users", CommandKey: "get"},
		Params:     []Param{Path("id")},
		ReturnType: TypeOf[User](),
	}
}

func createUserSpec() MethodSpec {
	return MethodSpec{
		ID:         "users.create",
		HTTP:       &HTTP{Method: "POST", URITemplate: "/users", ResponseType: TypeOf[User]()},
		Resilience: &Resilience{GroupKey: "users", CommandKey: "create"},
		Params:     []Param{Body()},
		ReturnType: ObservableType,
	}
}

func mustCompile(t *testing.T, spec MethodSpec) *Descriptor {
	t.Helper()
	d, err := Compile(spec)
	require.NoError(t, err)
	return d
}

// newTestClient builds a client on a private registry and metrics registry.
func newTestClient(t *testing.T, transport Transport, specs []MethodSpec, opts ...Option) (*Client, *MetricsCollector) {
	t.Helper()

	registry := NewRegistry()
	require.NoError(t, registry.Register(specs...))
	mc := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	base := []Option{
		WithRegistry(registry),
		WithTransport(transport),
		WithMetricsCollector(mc),
		WithBoundaryConfig(BoundaryConfig{MaxConcurrent: 10}),
	}
	client := New(append(base, opts...)...)
	require.NoError(t, client.ValidationError())
	return client, mc
}
