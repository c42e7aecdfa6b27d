package codegen

import (
	"fmt"
	"sort"

	"github.com/esm-dev/assetpipe/internal/storage"
)

// Writer writes stubs into the codegen directory. Unchanged stubs are not
// rewritten so their modification time is preserved.
type Writer struct {
	store storage.Storage
}

func NewWriter(store storage.Storage) *Writer {
	return &Writer{store: store}
}

// Write writes every stub whose content changed and returns their keys.
func (w *Writer) Write(stubs []Stub) ([]string, error) {
	var written []string
	for _, s := range stubs {
		ok, err := storage.PutIfChanged(w.store, s.Path(), Generate(s))
		if err != nil {
			return written, fmt.Errorf("write stub %s: %w", s.Path(), err)
		}
		if ok {
			written = append(written, s.Path())
		}
	}
	return written, nil
}

// Prune removes the stale stubs: generated files that belong to none of the
// given stubs and whose source is not configured. Files without the
// generated marker are never touched.
func (w *Writer) Prune(stubs []Stub, configured func(source string) bool) ([]string, error) {
	expected := make(map[string]bool, len(stubs))
	for _, s := range stubs {
		expected[s.Path()] = true
	}
	keys, err := w.store.List("")
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, key := range keys {
		if expected[key] {
			continue
		}
		content, err := storage.ReadFile(w.store, key)
		if err != nil {
			return removed, err
		}
		source, ok := ParseSource(content)
		if !ok || ownedBy(key, source, configured) {
			continue
		}
		if err := w.store.Delete(key); err != nil {
			return removed, err
		}
		removed = append(removed, key)
	}
	sort.Strings(removed)
	return removed, nil
}
