package bowtie

import (
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/schema"
)

var queryEncoder = func() *schema.Encoder {
	enc := schema.NewEncoder()
	enc.SetAliasTag("query")
	return enc
}()

// Request is the transport-independent form of one outbound call. Path is
// relative to whichever server the transport picks.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// URI renders the path followed by the encoded query, if any.
func (r *Request) URI() string {
	if len(r.Query) == 0 {
		return r.Path
	}
	return r.Path + "?" + r.Query.Encode()
}

// BuildRequest assembles the request for one call. It never touches the
// network; serialization failures surface here.
func (d *Descriptor) BuildRequest(args []any, ser Serializer) (*Request, error) {
	if len(args) != len(d.bindings) {
		return nil, &ClientError{
			Type:    ErrorTypeArguments,
			Message: fmt.Sprintf("expected %d arguments, got %d", len(d.bindings), len(args)),
		}
	}

	req := &Request{
		Method: d.verb,
		Path:   d.RenderPath(args),
		Query:  url.Values{},
		Header: d.headers.Clone(),
	}
	cookies := append([]string(nil), d.cookies...)
	var argCookies []string

	for _, b := range d.bindings {
		m := unwrapOptional(args[b.Index])

		switch b.Role {
		case RoleQuery:
			if !m.present {
				continue
			}
			if err := addQuery(req.Query, b.Name, m.value); err != nil {
				return nil, &ClientError{Type: ErrorTypeArguments, Message: fmt.Sprintf("query argument %d", b.Index), Cause: err}
			}
		case RoleHeader:
			if !m.present {
				continue
			}
			if strings.EqualFold(b.Name, "Cookie") {
				cookies = append(cookies, formatValue(m.value))
				continue
			}
			req.Header.Set(b.Name, formatValue(m.value))
		case RoleCookie:
			if !m.present {
				continue
			}
			argCookies = append(argCookies, b.Name+"="+formatValue(m.value))
		case RoleBody:
			if !m.present {
				continue
			}
			body, err := ser.Marshal(m.value)
			if err != nil {
				return nil, &ClientError{Type: ErrorTypeSerialization, Message: "cannot serialize request body", Cause: err}
			}
			req.Body = body
			if req.Header.Get("Content-Type") == "" {
				req.Header.Set("Content-Type", ser.ContentType())
			}
		}
	}

	cookies = append(cookies, argCookies...)
	if len(cookies) > 0 {
		req.Header.Set("Cookie", strings.Join(cookies, ";"))
	}

	return req, nil
}

// RenderPath expands the URI template with the Path-bound arguments. Slots
// without a present value stay unexpanded.
func (d *Descriptor) RenderPath(args []any) string {
	values := make(map[string]string)
	for _, b := range d.bindings {
		if b.Role != RolePath || b.Index >= len(args) {
			continue
		}
		if m := unwrapOptional(args[b.Index]); m.present {
			values[b.Name] = formatValue(m.value)
		}
	}
	return d.template.Render(values)
}

// cacheKey is the literal override when declared, otherwise the rendered
// path. The query string is not part of the key.
func (d *Descriptor) cacheKey(args []any) string {
	if d.hasCacheKey {
		return d.keyOverride
	}
	return d.RenderPath(args)
}

func addQuery(q url.Values, name string, v any) error {
	if name == "" {
		return expandQuery(q, v)
	}

	rv := reflect.ValueOf(v)
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() != reflect.Uint8 {
		for i := 0; i < rv.Len(); i++ {
			if m := unwrapOptional(rv.Index(i).Interface()); m.present {
				q.Add(name, formatValue(m.value))
			}
		}
		return nil
	}

	q.Add(name, formatValue(v))
	return nil
}

// expandQuery spreads a struct or map argument over several query params.
// Structs go through the schema encoder and honour `query` tags.
func expandQuery(q url.Values, v any) error {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Struct:
		dst := make(map[string][]string)
		if err := queryEncoder.Encode(v, dst); err != nil {
			return err
		}
		for k, vals := range dst {
			for _, s := range vals {
				q.Add(k, s)
			}
		}
		return nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("map key must be a string, got %s", rv.Type().Key())
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		for _, k := range keys {
			m := unwrapOptional(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface())
			if !m.present || k == "" {
				continue
			}
			if err := addQuery(q, k, m.value); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unnamed query param needs a struct or map, got %T", v)
	}
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
