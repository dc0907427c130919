package bowtie

import (
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/goccy/go-yaml"
)

// specFile is the YAML form of a set of declarations:
//
//	methods:
//	  - id: users.get
//	    http:
//	      method: GET
//	      uri: /users/{id}
//	      headers:
//	        - {name: Accept, value: application/json}
//	    resilience: {group: users, command: get}
//	    params:
//	      - {role: path, name: id}
//	    response: object
//	    streamed: false
type specFile struct {
	Methods []methodDoc `yaml:"methods"`
}

type methodDoc struct {
	ID         string         `yaml:"id"`
	HTTP       *httpDoc       `yaml:"http"`
	Resilience *resilienceDoc `yaml:"resilience"`
	CacheKey   string         `yaml:"cacheKey"`
	Params     []paramDoc     `yaml:"params"`
	Response   string         `yaml:"response"`
	Streamed   bool           `yaml:"streamed"`
}

type httpDoc struct {
	Method  string      `yaml:"method"`
	URI     string      `yaml:"uri"`
	Headers []NameValue `yaml:"headers"`
	Cookies []NameValue `yaml:"cookies"`
}

type resilienceDoc struct {
	Group   string `yaml:"group"`
	Command string `yaml:"command"`
}

type paramDoc struct {
	Role string `yaml:"role"`
	Name string `yaml:"name"`
}

var responseTypes = map[string]reflect.Type{
	"":       reflect.TypeFor[map[string]any](),
	"object": reflect.TypeFor[map[string]any](),
	"array":  reflect.TypeFor[[]any](),
	"any":    reflect.TypeFor[any](),
	"string": stringType,
	"bytes":  bytesType,
	"raw":    RawResponseType,
}

var roles = map[string]Role{
	"":       RoleNone,
	"none":   RoleNone,
	"path":   RolePath,
	"query":  RoleQuery,
	"header": RoleHeader,
	"cookie": RoleCookie,
	"body":   RoleBody,
}

// LoadSpecs reads YAML declarations. Unknown fields are rejected. The
// returned specs are not compiled; Registry.Register validates them.
func LoadSpecs(r io.Reader) ([]MethodSpec, error) {
	var doc specFile
	if err := yaml.NewDecoder(r, yaml.DisallowUnknownField()).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, newError(ErrorTypeConfiguration, "cannot parse method declarations", err)
	}

	specs := make([]MethodSpec, 0, len(doc.Methods))
	for i, m := range doc.Methods {
		spec, err := m.toSpec()
		if err != nil {
			return nil, configError(m.ID, "method %d: %v", i, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (m methodDoc) toSpec() (MethodSpec, error) {
	rt, ok := responseTypes[strings.ToLower(m.Response)]
	if !ok {
		return MethodSpec{}, fmt.Errorf("unknown response type %q", m.Response)
	}

	spec := MethodSpec{
		ID:         m.ID,
		CacheKey:   m.CacheKey,
		ReturnType: rt,
	}
	if m.HTTP != nil {
		spec.HTTP = &HTTP{
			Method:      strings.ToUpper(m.HTTP.Method),
			URITemplate: m.HTTP.URI,
			Headers:     m.HTTP.Headers,
			Cookies:     m.HTTP.Cookies,
		}
		if m.Streamed {
			spec.HTTP.ResponseType = rt
			spec.ReturnType = ObservableType
		}
	}
	if m.Resilience != nil {
		spec.Resilience = &Resilience{GroupKey: m.Resilience.Group, CommandKey: m.Resilience.Command}
	}

	for _, p := range m.Params {
		role, ok := roles[strings.ToLower(p.Role)]
		if !ok {
			return MethodSpec{}, fmt.Errorf("unknown param role %q", p.Role)
		}
		spec.Params = append(spec.Params, Param{Role: role, Name: p.Name})
	}
	return spec, nil
}
