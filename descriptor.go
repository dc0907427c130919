package bowtie

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jon077/bowtie/internal/uritemplate"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Binding is the compiled role of one argument position.
type Binding struct {
	Index int
	Role  Role
	Name  string
}

// Descriptor is the compiled, immutable form of a MethodSpec. It is safe to
// share between goroutines; accessors return copies.
type Descriptor struct {
	id           string
	verb         string
	template     *uritemplate.Template
	headers      http.Header
	cookies      []string
	responseType reflect.Type
	streamed     bool
	key          CommandKey
	keyOverride  string
	hasCacheKey  bool
	bindings     []Binding
	bodyIndex    int
}

// Compile turns a declaration into a Descriptor. It is a pure function of
// spec and fails with ErrConfiguration when required metadata is missing.
func Compile(spec MethodSpec) (*Descriptor, error) {
	id := spec.ID
	if id == "" {
		return nil, configError("", "method id is required")
	}
	if spec.HTTP == nil {
		return nil, configError(id, "no HTTP operation declared")
	}
	if spec.Resilience == nil {
		return nil, configError(id, "no resilience identity declared")
	}
	if err := validateStructs(id, spec.HTTP, spec.Resilience); err != nil {
		return nil, err
	}

	tpl, err := uritemplate.Parse(spec.HTTP.URITemplate)
	if err != nil {
		return nil, &ClientError{Type: ErrorTypeConfiguration, Message: "invalid URI template", Cause: err, Method: id}
	}

	d := &Descriptor{
		id:          id,
		verb:        spec.HTTP.Method,
		template:    tpl,
		headers:     make(http.Header),
		key:         CommandKey{Group: spec.Resilience.GroupKey, Command: spec.Resilience.CommandKey},
		keyOverride: spec.CacheKey,
		bodyIndex:   -1,
	}
	d.hasCacheKey = spec.CacheKey != ""

	for _, h := range spec.HTTP.Headers {
		d.headers.Set(h.Name, h.Value)
	}
	// A static Cookie header joins the cookie list so the request never
	// carries two Cookie headers.
	if c := d.headers.Get("Cookie"); c != "" {
		d.cookies = append(d.cookies, c)
	}
	d.headers.Del("Cookie")
	for _, c := range spec.HTTP.Cookies {
		d.cookies = append(d.cookies, c.Name+"="+c.Value)
	}

	if err := d.bindParams(spec.Params); err != nil {
		return nil, err
	}
	if err := d.resolveResponseType(spec); err != nil {
		return nil, err
	}

	return d, nil
}

func validateStructs(id string, structs ...any) error {
	for _, s := range structs {
		err := validate.Struct(s)
		if err == nil {
			continue
		}

		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return configError(id, "invalid declaration: %s", strings.Join(fields, ", "))
		}
		return &ClientError{Type: ErrorTypeConfiguration, Message: "invalid declaration", Cause: err, Method: id}
	}
	return nil
}

func (d *Descriptor) bindParams(params []Param) error {
	d.bindings = make([]Binding, len(params))
	for i, p := range params {
		d.bindings[i] = Binding{Index: i, Role: p.Role, Name: p.Name}

		switch p.Role {
		case RoleNone, RoleQuery:
		case RolePath:
			if p.Name == "" {
				return configError(d.id, "path param %d has no name", i)
			}
			if !d.template.Has(p.Name) {
				return configError(d.id, "path param %q is not in template %q", p.Name, d.template)
			}
		case RoleHeader, RoleCookie:
			if p.Name == "" {
				return configError(d.id, "%s param %d has no name", p.Role, i)
			}
		case RoleBody:
			if d.bodyIndex >= 0 {
				return configError(d.id, "params %d and %d are both bound to the body", d.bodyIndex, i)
			}
			d.bodyIndex = i
		default:
			return configError(d.id, "param %d has unknown role %d", i, int(p.Role))
		}
	}
	return nil
}

func (d *Descriptor) resolveResponseType(spec MethodSpec) error {
	d.streamed = spec.ReturnType == ObservableType
	declared := spec.HTTP.ResponseType

	if d.streamed {
		if declared == nil {
			return configError(d.id, "streamed methods must declare HTTP.ResponseType")
		}
		d.responseType = declared
		return nil
	}

	switch {
	case declared != nil:
		d.responseType = declared
	case spec.ReturnType != nil:
		d.responseType = spec.ReturnType
	default:
		return configError(d.id, "no response type: set ReturnType or HTTP.ResponseType")
	}
	return nil
}

// ID returns the method identifier.
func (d *Descriptor) ID() string { return d.id }

// Verb returns the HTTP method.
func (d *Descriptor) Verb() string { return d.verb }

// URITemplate returns the template source.
func (d *Descriptor) URITemplate() string { return d.template.String() }

// Headers returns a copy of the static headers.
func (d *Descriptor) Headers() http.Header { return d.headers.Clone() }

// Cookies returns a copy of the static cookies as name=value pairs.
func (d *Descriptor) Cookies() []string { return append([]string(nil), d.cookies...) }

// ResponseType returns the decode target.
func (d *Descriptor) ResponseType() reflect.Type { return d.responseType }

// Streamed reports whether calls return an *Observable.
func (d *Descriptor) Streamed() bool { return d.streamed }

// Key returns the resilience partition.
func (d *Descriptor) Key() CommandKey { return d.key }

// CacheKeyOverride returns the literal cache key, if declared.
func (d *Descriptor) CacheKeyOverride() (string, bool) { return d.keyOverride, d.hasCacheKey }

// Bindings returns a copy of the argument bindings.
func (d *Descriptor) Bindings() []Binding { return append([]Binding(nil), d.bindings...) }
