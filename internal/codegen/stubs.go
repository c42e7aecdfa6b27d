package codegen

import "github.com/esm-dev/assetpipe/internal/manifest"

// FromManifest builds the stubs of a production build for the given entry
// scripts and file sources. Sources without an output are skipped.
func FromManifest(m *manifest.Manifest, scripts []string, files []string, base string) []Stub {
	var stubs []Stub
	for _, entry := range scripts {
		out, ok := m.Entry(entry)
		if !ok {
			continue
		}
		preloads := m.Preloads(out)
		urls := make([]string, len(preloads))
		for i, p := range preloads {
			urls[i] = JoinURL(base, p)
		}
		stubs = append(stubs, Stub{Source: entry, Href: JoinURL(base, out), Script: true, Preloads: urls})
	}
	for _, src := range files {
		output, ok := m.Files.Outputs[src]
		if !ok {
			continue
		}
		s := Stub{Source: src}
		if len(output.Variants) == 0 {
			s.Href = JoinURL(base, output.Path)
		} else {
			s.Variants = make(map[string]string, len(output.Variants))
			for name, v := range output.Variants {
				s.Variants[name] = JoinURL(base, v.Path)
			}
			if v := m.File(src); v != nil {
				s.Href = JoinURL(base, v.Path)
			}
		}
		stubs = append(stubs, s)
	}
	return stubs
}
