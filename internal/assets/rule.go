package assets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"

	"github.com/esm-dev/assetpipe/internal/glob"
)

var (
	ErrVariantRequired = errors.New("variant required: the file has variants but no default variant")
	ErrUnknownVariant  = errors.New("unknown variant")
	ErrNoVariants      = errors.New("the file has no variants")
	ErrCollision       = errors.New("output path collision")
)

// Asset is a file flowing through a rule. Name is the slash path relative to
// the root; a transform may change its extension.
type Asset struct {
	Name string
	Data []byte
}

// Func transforms an asset.
type Func func(ctx context.Context, in *Asset) (*Asset, error)

// Rule maps files matching a glob pattern to one output or a set of named
// variants.
type Rule struct {
	Pattern        string
	Transform      Func
	Variants       map[string]Func
	DefaultVariant string
}

// Rules is an ordered list of rules; the first matching rule wins.
type Rules struct {
	rules []*Rule
}

// NewRules validates and compiles the rules.
func NewRules(rules []Rule) (*Rules, error) {
	rs := &Rules{rules: make([]*Rule, 0, len(rules))}
	for i := range rules {
		r := rules[i]
		pattern, err := glob.Validate(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("file rule #%d: %w", i, err)
		}
		r.Pattern = pattern
		for name, fn := range r.Variants {
			if name == "" || fn == nil {
				return nil, fmt.Errorf("file rule %q: invalid variant %q", r.Pattern, name)
			}
		}
		if r.DefaultVariant != "" {
			if _, ok := r.Variants[r.DefaultVariant]; !ok {
				return nil, fmt.Errorf("file rule %q: default variant %q is not a declared variant", r.Pattern, r.DefaultVariant)
			}
		}
		rs.rules = append(rs.rules, &r)
	}
	return rs, nil
}

// Match returns the first rule matching the slash path.
func (rs *Rules) Match(name string) (*Rule, bool) {
	if rs == nil {
		return nil, false
	}
	for _, r := range rs.rules {
		if glob.Match(r.Pattern, name) {
			return r, true
		}
	}
	return nil, false
}

// Len returns the number of rules.
func (rs *Rules) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// HasVariants reports whether the rule produces named variants.
func (r *Rule) HasVariants() bool {
	return len(r.Variants) > 0
}

// VariantNames returns the variant names in lexical order.
func (r *Rule) VariantNames() []string {
	names := make([]string, 0, len(r.Variants))
	for name := range r.Variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Variant picks the variant to serve for a request. An empty name selects the
// default variant.
func (r *Rule) Variant(name string) (string, error) {
	if !r.HasVariants() {
		if name != "" {
			return "", ErrNoVariants
		}
		return "", nil
	}
	if name == "" {
		if r.DefaultVariant == "" {
			return "", ErrVariantRequired
		}
		return r.DefaultVariant, nil
	}
	if _, ok := r.Variants[name]; !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownVariant, name)
	}
	return name, nil
}

// Apply runs the base transform and then the named variant over its result.
func (r *Rule) Apply(ctx context.Context, in *Asset, variant string) (*Asset, error) {
	base, err := r.Base(ctx, in)
	if err != nil {
		return nil, err
	}
	return r.ApplyVariant(ctx, base, variant)
}

// Base runs the base transform of the rule.
func (r *Rule) Base(ctx context.Context, in *Asset) (*Asset, error) {
	if r.Transform == nil {
		return in, nil
	}
	out, err := r.Transform(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("transform %s: %w", in.Name, err)
	}
	return out, nil
}

// ApplyVariant runs one variant transform over an already transformed asset.
func (r *Rule) ApplyVariant(ctx context.Context, base *Asset, variant string) (*Asset, error) {
	if variant == "" {
		return base, nil
	}
	fn, ok := r.Variants[variant]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownVariant, variant)
	}
	out, err := fn(ctx, &Asset{Name: base.Name, Data: base.Data})
	if err != nil {
		return nil, fmt.Errorf("transform %s (variant %s): %w", base.Name, variant, err)
	}
	return out, nil
}

// Load reads a source file of the rule.
func Load(root string, name string) (*Asset, error) {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
	if err != nil {
		return nil, err
	}
	return &Asset{Name: name, Data: data}, nil
}

// DevURL returns the on-demand development URL of a file asset, encoding the
// variant in the query. It fails when the variant is not legal for the rule.
func DevURL(pathname string, r *Rule, variant string) (string, error) {
	name, err := r.Variant(variant)
	if err != nil {
		return "", err
	}
	if name == "" {
		return pathname, nil
	}
	return pathname + "?variant=" + url.QueryEscape(name), nil
}
