package bowtie

import (
	"context"
	"net/http"
	"reflect"
	"time"
)

// Role tags how a call argument contributes to the outbound request.
type Role int

const (
	// RoleNone arguments are ignored by the request pipeline.
	RoleNone Role = iota
	RolePath
	RoleQuery
	RoleHeader
	RoleCookie
	RoleBody
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RolePath:
		return "path"
	case RoleQuery:
		return "query"
	case RoleHeader:
		return "header"
	case RoleCookie:
		return "cookie"
	case RoleBody:
		return "body"
	default:
		return "unknown"
	}
}

// Param declares the role of one wrapper argument, index-aligned with the
// argument list. Name is the template variable, query key, header or cookie
// name. Body params need no name, and an unnamed Query param expands a struct
// argument into several query parameters.
type Param struct {
	Role Role
	Name string
}

// Path, Query, Header, Cookie, Body and Ignored build Params.
func Path(name string) Param   { return Param{Role: RolePath, Name: name} }
func Query(name string) Param  { return Param{Role: RoleQuery, Name: name} }
func Header(name string) Param { return Param{Role: RoleHeader, Name: name} }
func Cookie(name string) Param { return Param{Role: RoleCookie, Name: name} }
func Body() Param              { return Param{Role: RoleBody} }
func Ignored() Param           { return Param{Role: RoleNone} }

// NameValue is a static header or cookie declaration.
type NameValue struct {
	Name  string `yaml:"name" validate:"required"`
	Value string `yaml:"value"`
}

// HTTP describes the HTTP operation of a method.
type HTTP struct {
	Method      string      `validate:"required,oneof=GET POST PUT PATCH DELETE HEAD OPTIONS"`
	URITemplate string      `validate:"required"`
	Headers     []NameValue `validate:"dive"`
	Cookies     []NameValue `validate:"dive"`
	// ResponseType overrides the decode target. Required for streamed methods.
	ResponseType reflect.Type
}

// Resilience names the circuit-breaker partition of a method. All methods
// sharing the pair share breaker and bulkhead state.
type Resilience struct {
	GroupKey   string `validate:"required"`
	CommandKey string `validate:"required"`
}

// MethodSpec is the static declaration of one service method.
type MethodSpec struct {
	ID         string `validate:"required"`
	HTTP       *HTTP
	Resilience *Resilience
	// CacheKey, when set, is used verbatim instead of the rendered path.
	CacheKey string
	Params   []Param
	// ReturnType is the wrapper's declared return. ObservableType marks a
	// streamed method.
	ReturnType reflect.Type
}

var (
	// RawResponseType as a response type returns the *http.Response undecoded.
	RawResponseType = reflect.TypeOf((*http.Response)(nil))
	// ObservableType as a ReturnType marks a streamed method.
	ObservableType = reflect.TypeOf((*Observable)(nil))
)

// TypeOf returns the reflect.Type of T, for use in MethodSpec literals.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

// CommandKey identifies a resilience partition.
type CommandKey struct {
	Group   string
	Command string
}

// String renders "group/command".
func (k CommandKey) String() string {
	return k.Group + "/" + k.Command
}

// Transport performs the load-balanced network call.
type Transport interface {
	ExecuteWithLoadBalancing(ctx context.Context, req *Request) (*http.Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request) (*http.Response, error)

// ExecuteWithLoadBalancing calls f.
func (f TransportFunc) ExecuteWithLoadBalancing(ctx context.Context, req *Request) (*http.Response, error) {
	return f(ctx, req)
}

// Serializer encodes request bodies and decodes response bodies.
type Serializer interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Cache stores decoded responses keyed by cache key.
type Cache interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any) error
}

// ExpiringCache is a Cache that accepts a per-entry lifetime. The cache gate
// uses it when the response carries max-age or s-maxage.
type ExpiringCache interface {
	Cache
	SetWithTTL(ctx context.Context, key string, value any, ttl time.Duration) error
}

// CachingPolicy decides whether a completed response may be cached.
type CachingPolicy interface {
	IsCacheable(resp *http.Response) bool
}

// CachingPolicyFunc adapts a function to CachingPolicy.
type CachingPolicyFunc func(resp *http.Response) bool

// IsCacheable calls f.
func (f CachingPolicyFunc) IsCacheable(resp *http.Response) bool {
	return f(resp)
}

// Work is a unit of work run inside a resilience boundary.
type Work func(ctx context.Context) (any, error)

// Boundary runs work inside the circuit-breaker partition named by key.
type Boundary interface {
	Execute(ctx context.Context, key CommandKey, work Work) (any, error)
}

// Option configures a Client.
type Option func(*Client)
