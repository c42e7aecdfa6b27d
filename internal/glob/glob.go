package glob

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher gates root-relative slash paths with an allow list and a deny list.
// A path is allowed only if it matches at least one allow pattern and no deny
// pattern. An empty allow list denies everything.
type Matcher struct {
	allow []string
	deny  []string
}

// New compiles the given pattern lists.
func New(allow []string, deny []string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range allow {
		p, err := normalize(p)
		if err != nil {
			return nil, err
		}
		m.allow = append(m.allow, p)
	}
	for _, p := range deny {
		p, err := normalize(p)
		if err != nil {
			return nil, err
		}
		m.deny = append(m.deny, p)
	}
	return m, nil
}

// Allowed reports whether the name passes the gate.
func (m *Matcher) Allowed(name string) bool {
	if m == nil {
		return false
	}
	name = strings.TrimPrefix(name, "/")
	for _, p := range m.deny {
		if Match(p, name) {
			return false
		}
	}
	for _, p := range m.allow {
		if Match(p, name) {
			return true
		}
	}
	return false
}

// Denied reports whether the name matches a deny pattern.
func (m *Matcher) Denied(name string) bool {
	if m == nil {
		return false
	}
	name = strings.TrimPrefix(name, "/")
	for _, p := range m.deny {
		if Match(p, name) {
			return true
		}
	}
	return false
}

// Match reports whether the slash path name matches the pattern. Patterns
// support `**` for any number of directories and `{a,b}` alternatives.
func Match(pattern string, name string) bool {
	ok, err := doublestar.Match(pattern, strings.TrimPrefix(name, "/"))
	return err == nil && ok
}

// Validate normalizes a pattern and checks its syntax.
func Validate(pattern string) (string, error) {
	return normalize(pattern)
}

func normalize(pattern string) (string, error) {
	p := strings.TrimPrefix(strings.TrimPrefix(pattern, "./"), "/")
	if p == "" || !doublestar.ValidatePattern(p) {
		return "", fmt.Errorf("invalid glob pattern %q", pattern)
	}
	return p, nil
}
