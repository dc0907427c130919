package bowtie

import (
	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// JSONSerializer encodes with sonic. It is the client default.
type JSONSerializer struct{}

// NewJSONSerializer returns the default JSON serializer.
func NewJSONSerializer() *JSONSerializer { return &JSONSerializer{} }

func (JSONSerializer) ContentType() string { return "application/json" }

func (JSONSerializer) Marshal(v any) ([]byte, error) { return sonic.Marshal(v) }

func (JSONSerializer) Unmarshal(data []byte, v any) error { return sonic.Unmarshal(data, v) }

// YAMLSerializer speaks application/yaml.
type YAMLSerializer struct{}

func (YAMLSerializer) ContentType() string { return "application/yaml" }

func (YAMLSerializer) Marshal(v any) ([]byte, error) { return yaml.Marshal(v) }

func (YAMLSerializer) Unmarshal(data []byte, v any) error { return yaml.Unmarshal(data, v) }

// TOMLSerializer speaks application/toml. TOML documents are tables, so
// bodies must be structs or maps.
type TOMLSerializer struct{}

func (TOMLSerializer) ContentType() string { return "application/toml" }

func (TOMLSerializer) Marshal(v any) ([]byte, error) { return toml.Marshal(v) }

func (TOMLSerializer) Unmarshal(data []byte, v any) error { return toml.Unmarshal(data, v) }

// SerializerFor maps a short format name to a serializer. Unknown names get
// nil.
func SerializerFor(format string) Serializer {
	switch format {
	case "", "json":
		return JSONSerializer{}
	case "yaml", "yml":
		return YAMLSerializer{}
	case "toml":
		return TOMLSerializer{}
	default:
		return nil
	}
}
