package build

import (
	"path/filepath"

	"github.com/goccy/go-json"
)

type sourceMap struct {
	Version        int       `json:"version"`
	Sources        []string  `json:"sources"`
	SourcesContent []*string `json:"sourcesContent,omitempty"`
	SourceRoot     string    `json:"sourceRoot,omitempty"`
	Mappings       string    `json:"mappings"`
	Names          []string  `json:"names"`
}

// relocateSourceMap points the single source of a transform source map at the
// source file as seen from the output file.
func relocateSourceMap(data []byte, outFile string, srcFile string) ([]byte, error) {
	var m sourceMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(filepath.Dir(outFile), srcFile)
	if err != nil {
		return nil, err
	}
	m.Sources = []string{filepath.ToSlash(rel)}
	if m.Names == nil {
		m.Names = []string{}
	}
	return json.Marshal(m)
}
