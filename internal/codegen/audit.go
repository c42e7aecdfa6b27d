package codegen

import (
	"bytes"
	"sort"

	"github.com/esm-dev/assetpipe/internal/storage"
)

// Report sorts the drift of a codegen directory into four disjoint sets.
type Report struct {
	// Missing stubs are expected but absent.
	Missing []string `json:"missing"`
	// Stale stubs carry the generated marker but their source is gone or no
	// longer matches a script entry or file rule.
	Stale []string `json:"stale"`
	// Outdated stubs belong to a configured source but differ from the
	// expected content, or have no expected content at all (a source whose
	// last build failed).
	Outdated []string `json:"outdated"`
	// Unknown files are neither generated stubs nor recognized build outputs.
	Unknown []string `json:"unknown"`
}

// OK reports whether the directory is in sync. Unknown files are tolerated
// only when allowUnknown is set.
func (r *Report) OK(allowUnknown bool) bool {
	if len(r.Missing) > 0 || len(r.Stale) > 0 || len(r.Outdated) > 0 {
		return false
	}
	return allowUnknown || len(r.Unknown) == 0
}

// Audit compares the codegen directory against the expected stubs without
// modifying anything. configured, if not nil, reports whether a source path
// is still a script entry or matched by a file rule. recognized, if not nil,
// reports keys that belong to build outputs sharing the directory.
func Audit(store storage.Storage, stubs []Stub, configured func(source string) bool, recognized func(key string) bool) (*Report, error) {
	expected := make(map[string][]byte, len(stubs))
	for _, s := range stubs {
		expected[s.Path()] = Generate(s)
	}
	keys, err := store.List("")
	if err != nil {
		return nil, err
	}
	report := &Report{}
	present := make(map[string]bool, len(keys))
	for _, key := range keys {
		present[key] = true
		content, err := storage.ReadFile(store, key)
		if err != nil {
			return nil, err
		}
		if want, ok := expected[key]; ok {
			if !bytes.Equal(content, want) {
				report.Outdated = append(report.Outdated, key)
			}
			continue
		}
		if source, ok := ParseSource(content); ok {
			if ownedBy(key, source, configured) {
				report.Outdated = append(report.Outdated, key)
			} else {
				report.Stale = append(report.Stale, key)
			}
			continue
		}
		if recognized != nil && recognized(key) {
			continue
		}
		report.Unknown = append(report.Unknown, key)
	}
	for key := range expected {
		if !present[key] {
			report.Missing = append(report.Missing, key)
		}
	}
	sort.Strings(report.Missing)
	return report, nil
}

// ownedBy reports whether a generated file at key is the stub of a source
// that is still configured.
func ownedBy(key string, source string, configured func(source string) bool) bool {
	return configured != nil && key == StubPath(source) && configured(source)
}
