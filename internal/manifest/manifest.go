package manifest

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// Manifest records the outputs of a production build.
type Manifest struct {
	Scripts Scripts `json:"scripts"`
	Files   Files   `json:"files"`
}

type Scripts struct {
	Outputs map[string]*ScriptOutput `json:"outputs"`
}

// ScriptOutput describes one emitted script, keyed by its output path.
type ScriptOutput struct {
	EntryPoint string   `json:"entryPoint,omitempty"`
	Imports    []Import `json:"imports,omitempty"`
}

// Import is an edge to another script output.
type Import struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}

type Files struct {
	Outputs map[string]*FileOutput `json:"outputs"`
}

// FileOutput is either a single output path or a set of named variants.
type FileOutput struct {
	Path           string                 `json:"path,omitempty"`
	Variants       map[string]FileVariant `json:"variants,omitempty"`
	DefaultVariant string                 `json:"defaultVariant,omitempty"`
}

type FileVariant struct {
	Path string `json:"path"`
}

func New() *Manifest {
	return &Manifest{
		Scripts: Scripts{Outputs: map[string]*ScriptOutput{}},
		Files:   Files{Outputs: map[string]*FileOutput{}},
	}
}

// Load reads a manifest file.
func Load(filename string) (*Manifest, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Manifest, error) {
	m := New()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	if m.Scripts.Outputs == nil {
		m.Scripts.Outputs = map[string]*ScriptOutput{}
	}
	if m.Files.Outputs == nil {
		m.Files.Outputs = map[string]*FileOutput{}
	}
	return m, nil
}

// Marshal encodes the manifest as indented JSON with sorted keys.
func (m *Manifest) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Validate checks that the script graph is closed: every import edge points at
// a listed output and every entry point is claimed by a single output.
func (m *Manifest) Validate() error {
	entries := make(map[string]string)
	for _, key := range m.ScriptPaths() {
		output := m.Scripts.Outputs[key]
		if output == nil {
			return fmt.Errorf("script output %q is empty", key)
		}
		for _, imp := range output.Imports {
			if _, ok := m.Scripts.Outputs[imp.Path]; !ok {
				return fmt.Errorf("script output %q imports %q which is not an output", key, imp.Path)
			}
		}
		if output.EntryPoint != "" {
			if other, ok := entries[output.EntryPoint]; ok {
				return fmt.Errorf("entry point %q is emitted twice (%s, %s)", output.EntryPoint, other, key)
			}
			entries[output.EntryPoint] = key
		}
	}
	for src, output := range m.Files.Outputs {
		if output.DefaultVariant != "" {
			if _, ok := output.Variants[output.DefaultVariant]; !ok {
				return fmt.Errorf("file %q has an unknown default variant %q", src, output.DefaultVariant)
			}
		}
	}
	return nil
}

// ScriptPaths returns the script output paths in lexical order.
func (m *Manifest) ScriptPaths() []string {
	keys := make([]string, 0, len(m.Scripts.Outputs))
	for key := range m.Scripts.Outputs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Entry returns the output path emitted for the entry point.
func (m *Manifest) Entry(entryPoint string) (string, bool) {
	for key, output := range m.Scripts.Outputs {
		if output.EntryPoint == entryPoint {
			return key, true
		}
	}
	return "", false
}

// Preloads returns the outputs statically reachable from the output,
// excluding the output itself, in breadth-first order. Dynamic imports are
// not followed.
func (m *Manifest) Preloads(outputPath string) []string {
	seen := map[string]bool{outputPath: true}
	queue := []string{outputPath}
	var preloads []string
	for len(queue) > 0 {
		output := m.Scripts.Outputs[queue[0]]
		queue = queue[1:]
		if output == nil {
			continue
		}
		for _, imp := range output.Imports {
			if imp.Kind != KindStatic || seen[imp.Path] {
				continue
			}
			seen[imp.Path] = true
			preloads = append(preloads, imp.Path)
			queue = append(queue, imp.Path)
		}
	}
	return preloads
}

// File returns the output of a file asset. With no variant name it returns
// the flat output, or the default variant; it returns nil when the asset has
// variants but no default.
func (m *Manifest) File(src string, variant ...string) *FileVariant {
	output, ok := m.Files.Outputs[src]
	if !ok {
		return nil
	}
	name := ""
	if len(variant) > 0 {
		name = variant[0]
	}
	if len(output.Variants) == 0 {
		if name != "" || output.Path == "" {
			return nil
		}
		return &FileVariant{Path: output.Path}
	}
	if name == "" {
		name = output.DefaultVariant
	}
	if name == "" {
		return nil
	}
	v, ok := output.Variants[name]
	if !ok {
		return nil
	}
	return &v
}

// KindStatic is the kind of preload-eligible import edges.
const KindStatic = "import-statement"

// DefaultFileNames is the output path template used when none is configured.
const DefaultFileNames = "[dir]/[name]-[hash]"

// FormatPath expands an output path template. `[dir]` is the slash directory
// of the source relative to its root, `[name]` the file name without
// extension and `[hash]` the content hash. The extension is appended.
func FormatPath(template string, dir string, name string, hash string, ext string) string {
	if template == "" {
		template = DefaultFileNames
	}
	if dir == "." {
		dir = ""
	}
	p := strings.NewReplacer("[dir]", dir, "[name]", name, "[hash]", hash).Replace(template)
	p = path.Clean("/" + p + ext)
	return strings.TrimPrefix(p, "/")
}
