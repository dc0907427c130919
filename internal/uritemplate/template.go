// Package uritemplate renders path templates with named placeholders such as
// "/users/{id}/posts/{slug: [a-z-]+}".
//
// Rendering is tolerant: a placeholder without a value is written back verbatim
// so callers can see which slot was left unexpanded.
package uritemplate

import (
	"fmt"
	"strings"
)

type segment struct {
	literal string
	name    string
	raw     string
}

// Template is a parsed URI template. It is immutable and safe for concurrent use.
type Template struct {
	source   string
	segments []segment
	names    []string
}

// Parse parses a template. Braces must be balanced and placeholder names non-empty.
func Parse(source string) (*Template, error) {
	t := &Template{source: source}
	seen := make(map[string]bool)

	rest := source
	for len(rest) > 0 {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			if strings.IndexByte(rest, '}') >= 0 {
				return nil, fmt.Errorf("uritemplate: unbalanced '}' in %q", source)
			}
			t.segments = append(t.segments, segment{literal: rest})
			break
		}
		if strings.IndexByte(rest[:open], '}') >= 0 {
			return nil, fmt.Errorf("uritemplate: unbalanced '}' in %q", source)
		}
		if open > 0 {
			t.segments = append(t.segments, segment{literal: rest[:open]})
		}

		end := closingBrace(rest, open)
		if end < 0 {
			return nil, fmt.Errorf("uritemplate: unterminated placeholder in %q", source)
		}

		raw := rest[open : end+1]
		name := strings.TrimSpace(rest[open+1 : end])
		// JAX-RS style "{name: regex}" keeps only the name.
		if colon := strings.IndexByte(name, ':'); colon >= 0 {
			name = strings.TrimSpace(name[:colon])
		}
		if name == "" {
			return nil, fmt.Errorf("uritemplate: empty placeholder in %q", source)
		}

		t.segments = append(t.segments, segment{name: name, raw: raw})
		if !seen[name] {
			seen[name] = true
			t.names = append(t.names, name)
		}
		rest = rest[end+1:]
	}

	return t, nil
}

// closingBrace finds the brace closing the placeholder opened at start,
// allowing nested braces inside regex constraints like {id: [0-9]{3}}.
func closingBrace(s string, start int) int {
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// MustParse is like Parse but panics on error.
func MustParse(source string) *Template {
	t, err := Parse(source)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the template source.
func (t *Template) String() string {
	return t.source
}

// Names returns the placeholder names in order of first appearance.
func (t *Template) Names() []string {
	out := make([]string, len(t.names))
	copy(out, t.names)
	return out
}

// Has reports whether the template declares the named placeholder.
func (t *Template) Has(name string) bool {
	for _, n := range t.names {
		if n == name {
			return true
		}
	}
	return false
}

// Render substitutes placeholders from values. Values are treated as already
// encoded: existing %XX escapes are kept, '/' is kept so a value may span
// segments, and any other byte that is not legal in a path is
// percent-encoded. Callers wanting one segment pass %2F.
func (t *Template) Render(values map[string]string) string {
	var b strings.Builder
	b.Grow(len(t.source) + 16)

	for _, seg := range t.segments {
		if seg.name == "" {
			b.WriteString(seg.literal)
			continue
		}
		v, ok := values[seg.name]
		if !ok {
			b.WriteString(seg.raw)
			continue
		}
		writeEncoded(&b, v)
	}

	return b.String()
}

const hexDigits = "0123456789ABCDEF"

func writeEncoded(b *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
			b.WriteString(s[i : i+3])
			i += 2
			continue
		}
		if isPathChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0F])
	}
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// isPathChar reports RFC 3986 pchar characters and '/', minus '%' which is
// handled separately.
func isPathChar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '.', '_', '~', '!', '$', '&', '\'', '(', ')', '*', '+', ',', ';', '=', ':', '@', '/':
		return true
	}
	return false
}
