package rewrite

import (
	"errors"
	"sort"
	"strings"

	"github.com/ije/esbuild-internal/ast"
	"github.com/ije/esbuild-internal/config"
	"github.com/ije/esbuild-internal/js_parser"
	"github.com/ije/esbuild-internal/logger"
)

// Kind is the kind of an import edge.
type Kind string

const (
	Static  Kind = "import-statement"
	Dynamic Kind = "dynamic-import"
)

// Import is an import specifier found in a module. Start and End delimit the
// quoted string literal in the code.
type Import struct {
	Specifier string
	Kind      Kind
	Start     int
	End       int
}

// Parse extracts the static and dynamic import specifiers of a script module.
// `require()` calls and imports with non-literal paths are ignored.
func Parse(code []byte) ([]Import, error) {
	log := logger.NewDeferLog(logger.DeferLogNoVerboseOrDebug, nil)
	parserOpts := js_parser.OptionsFromConfig(&config.Options{})
	tree, pass := js_parser.Parse(log, logger.Source{
		Index:          0,
		KeyPath:        logger.Path{Text: "<stdin>"},
		IdentifierName: "stdin",
		Contents:       string(code),
	}, parserOpts)
	if !pass {
		msgs := log.Done()
		for _, msg := range msgs {
			if msg.Kind == logger.Error {
				return nil, errors.New(msg.Data.Text)
			}
		}
		return nil, errors.New("invalid syntax")
	}
	imports := make([]Import, 0, len(tree.ImportRecords))
	for _, record := range tree.ImportRecords {
		var kind Kind
		switch record.Kind {
		case ast.ImportStmt:
			kind = Static
		case ast.ImportDynamic:
			kind = Dynamic
		default:
			continue
		}
		start := int(record.Range.Loc.Start)
		end := start + int(record.Range.Len)
		if start < 0 || end > len(code) || end-start < 2 || !isQuote(code[start]) {
			continue
		}
		imports = append(imports, Import{
			Specifier: record.Path.Text,
			Kind:      kind,
			Start:     start,
			End:       end,
		})
	}
	sort.Slice(imports, func(i, j int) bool {
		return imports[i].Start < imports[j].Start
	})
	return imports, nil
}

// Specifiers returns the unique specifiers of the imports in source order.
func Specifiers(imports []Import) []string {
	seen := make(map[string]struct{}, len(imports))
	specifiers := make([]string, 0, len(imports))
	for _, imp := range imports {
		if _, ok := seen[imp.Specifier]; ok {
			continue
		}
		seen[imp.Specifier] = struct{}{}
		specifiers = append(specifiers, imp.Specifier)
	}
	return specifiers
}

// Rewrite replaces each import specifier for which fn returns true. The
// imports must come from Parse on the same code.
func Rewrite(code []byte, imports []Import, fn func(imp Import) (string, bool)) []byte {
	var buf []byte
	offset := 0
	for _, imp := range imports {
		replacement, ok := fn(imp)
		if !ok || replacement == imp.Specifier || imp.Start < offset {
			continue
		}
		if buf == nil {
			buf = make([]byte, 0, len(code)+64)
		}
		buf = append(buf, code[offset:imp.Start]...)
		buf = appendQuoted(buf, replacement, code[imp.Start])
		offset = imp.End
	}
	if buf == nil {
		return code
	}
	return append(buf, code[offset:]...)
}

func appendQuoted(buf []byte, s string, quote byte) []byte {
	buf = append(buf, quote)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == quote || c == '\\':
			buf = append(buf, '\\', c)
		case c == '\n':
			buf = append(buf, '\\', 'n')
		case c == '$' && quote == '`':
			buf = append(buf, '\\', c)
		default:
			buf = append(buf, c)
		}
	}
	return append(buf, quote)
}

func isQuote(c byte) bool {
	return c == '"' || c == '\'' || c == '`'
}

// IsRelative reports whether the specifier is a relative path.
func IsRelative(specifier string) bool {
	return strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../")
}
