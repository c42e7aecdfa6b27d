package build

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/esm-dev/assetpipe/internal/assets"
)

// SourceKind tags a source path as an entry script or a file asset.
type SourceKind int

const (
	ScriptSource SourceKind = iota + 1
	FileSource
)

func (k SourceKind) String() string {
	switch k {
	case ScriptSource:
		return "script"
	case FileSource:
		return "file"
	default:
		return "unknown"
	}
}

// Source is a configured source path, classified once. Rule is set for file
// sources only.
type Source struct {
	Kind SourceKind
	Path string
	Rule *assets.Rule
}

// Classify lists the sources under root: the entry scripts in the given
// order, followed by every file matched by a rule in lexical order. A path
// listed as a script is never also a file source.
func Classify(root string, scripts []string, rules *assets.Rules, exclude ...string) ([]Source, error) {
	var sources []Source
	seen := make(map[string]bool, len(scripts))
	for _, s := range scripts {
		p := CleanSourcePath(s)
		if seen[p] {
			continue
		}
		seen[p] = true
		sources = append(sources, Source{Kind: ScriptSource, Path: p})
	}
	if rules.Len() == 0 {
		return sources, nil
	}
	files, err := assets.Walk(root, exclude...)
	if err != nil {
		return nil, err
	}
	for _, name := range files {
		if seen[name] {
			continue
		}
		if rule, ok := rules.Match(name); ok {
			sources = append(sources, Source{Kind: FileSource, Path: name, Rule: rule})
		}
	}
	return sources, nil
}

// Paths returns the paths of the sources of the given kind.
func Paths(sources []Source, kind SourceKind) []string {
	var paths []string
	for _, s := range sources {
		if s.Kind == kind {
			paths = append(paths, s.Path)
		}
	}
	return paths
}

// CleanSourcePath normalizes a source path to a root-relative slash path.
func CleanSourcePath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(p)), "/")
}
