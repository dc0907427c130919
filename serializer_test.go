package bowtie

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type profile struct {
	Name  string   `json:"name" yaml:"name" toml:"name"`
	Tags  []string `json:"tags" yaml:"tags" toml:"tags"`
	Level int      `json:"level" yaml:"level" toml:"level"`
}

func TestSerializers(t *testing.T) {
	in := profile{Name: "ada", Tags: []string{"math", "engines"}, Level: 3}

	tests := []struct {
		format      string
		contentType string
	}{
		{"json", "application/json"},
		{"yaml", "application/yaml"},
		{"toml", "application/toml"},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			s := SerializerFor(tt.format)
			require.NotNil(t, s)
			assert.Equal(t, tt.contentType, s.ContentType())

			data, err := s.Marshal(in)
			require.NoError(t, err)

			var out profile
			require.NoError(t, s.Unmarshal(data, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestJSONSerializerOutput(t *testing.T) {
	data, err := NewJSONSerializer().Marshal(User{ID: 1, Name: "ada"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"name":"ada"}`, string(data))
}

func TestSerializerFor(t *testing.T) {
	assert.IsType(t, JSONSerializer{}, SerializerFor(""))
	assert.IsType(t, YAMLSerializer{}, SerializerFor("yml"))
	assert.Nil(t, SerializerFor("xml"))
}
