package codegen

import (
	"bytes"
	"sort"
	"strings"
)

// Marker is the first line of every generated stub.
const Marker = "// Code generated by assetpipe. DO NOT EDIT."

const sourcePrefix = "// source: "

// Stub describes the accessor module generated for one source path.
type Stub struct {
	Source string
	Href   string
	// Script stubs export preloads; file stubs with variants export variants.
	Script   bool
	Preloads []string
	Variants map[string]string
}

// Path returns the key of the stub inside the codegen directory.
func (s *Stub) Path() string {
	return StubPath(s.Source)
}

// StubPath maps a source path to its stub key.
func StubPath(source string) string {
	return strings.TrimPrefix(source, "/") + ".js"
}

// Generate renders the stub. The output depends only on the stub fields.
func Generate(s Stub) []byte {
	var buf bytes.Buffer
	buf.WriteString(Marker)
	buf.WriteByte('\n')
	buf.WriteString(sourcePrefix)
	buf.WriteString(s.Source)
	buf.WriteByte('\n')
	buf.WriteString("export const href = ")
	buf.WriteString(quote(s.Href))
	buf.WriteByte('\n')
	if s.Script {
		buf.WriteString("export const preloads = [")
		for i, p := range s.Preloads {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(quote(p))
		}
		buf.WriteString("]\n")
	} else if len(s.Variants) > 0 {
		names := make([]string, 0, len(s.Variants))
		for name := range s.Variants {
			names = append(names, name)
		}
		sort.Strings(names)
		buf.WriteString("export const variants = {")
		for i, name := range names {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteByte(' ')
			if isIdentifier(name) {
				buf.WriteString(name)
			} else {
				buf.WriteString(quote(name))
			}
			buf.WriteString(": ")
			buf.WriteString(quote(s.Variants[name]))
		}
		buf.WriteString(" }\n")
	}
	return buf.Bytes()
}

// ParseSource returns the source path recorded in a generated stub.
func ParseSource(content []byte) (string, bool) {
	first, rest, ok := bytes.Cut(content, []byte{'\n'})
	if !ok || string(bytes.TrimRight(first, "\r")) != Marker {
		return "", false
	}
	second, _, _ := bytes.Cut(rest, []byte{'\n'})
	line := string(bytes.TrimRight(second, "\r"))
	if !strings.HasPrefix(line, sourcePrefix) {
		return "", false
	}
	return strings.TrimPrefix(line, sourcePrefix), true
}

// JoinURL prefixes an output path with the base URL.
func JoinURL(base string, p string) string {
	if base == "" {
		base = "/"
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(p, "/")
}

func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\'', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case i > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}
