package transform

import (
	"encoding/base32"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/ije/esbuild-internal/xxhash"
)

// ErrLegacyModule is returned for sources written in the require() module format.
var ErrLegacyModule = errors.New("legacy module format is not supported: use `import` statements instead of `require()` declarations")

var hashEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// multi-line destructuring or plain binding of a require() call, or a module.exports assignment
var legacyPattern = regexp.MustCompile(`(?m)^\s*(?:const|let|var)\s+(?:\{[^}]*\}|[\w$]+)\s*=\s*require\s*\(|^\s*module\.exports\s*=`)

// Options controls how a single source file is lowered.
type Options struct {
	// Sourcefile is recorded as the source name in the source map.
	Sourcefile      string
	SourceMap       bool
	SourcesContent  bool
	SourceRoot      string
	JSXImportSource string
	Minify          bool
}

// Result holds the lowered module and its optional source map.
type Result struct {
	Code []byte
	Map  []byte
}

// IsModule reports whether the file is a script module the pipeline lowers.
func IsModule(filename string) bool {
	switch filepath.Ext(filename) {
	case ".js", ".mjs", ".jsx", ".ts", ".mts", ".tsx":
		return true
	default:
		return false
	}
}

// CheckFormat detects sources that depend on the legacy require() format.
func CheckFormat(source []byte) error {
	if legacyPattern.Match(source) {
		return ErrLegacyModule
	}
	return nil
}

// Transform strips types and compiles JSX of one source file into an ES module.
func Transform(filename string, source []byte, options Options) (*Result, error) {
	opts := esbuild.TransformOptions{
		Loader:            loaderOf(filename),
		Format:            esbuild.FormatESModule,
		Target:            esbuild.ESNext,
		Platform:          esbuild.PlatformBrowser,
		Sourcefile:        options.Sourcefile,
		MinifyWhitespace:  options.Minify,
		MinifySyntax:      options.Minify,
		MinifyIdentifiers: options.Minify,
		LogLevel:          esbuild.LogLevelSilent,
	}
	if opts.Sourcefile == "" {
		opts.Sourcefile = filepath.Base(filename)
	}
	if options.JSXImportSource != "" {
		opts.JSX = esbuild.JSXAutomatic
		opts.JSXImportSource = options.JSXImportSource
	}
	if options.SourceMap {
		opts.Sourcemap = esbuild.SourceMapExternal
		opts.SourceRoot = options.SourceRoot
		if options.SourcesContent {
			opts.SourcesContent = esbuild.SourcesContentInclude
		} else {
			opts.SourcesContent = esbuild.SourcesContentExclude
		}
	}
	ret := esbuild.Transform(string(source), opts)
	if len(ret.Errors) > 0 {
		return nil, formatError(filename, ret.Errors[0])
	}
	return &Result{Code: ret.Code, Map: ret.Map}, nil
}

// Minify minifies a stylesheet or a script using the loader for the filename.
func Minify(filename string, source []byte) ([]byte, error) {
	var loader esbuild.Loader
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".css":
		loader = esbuild.LoaderCSS
	case ".js", ".mjs":
		loader = esbuild.LoaderJS
	default:
		return nil, fmt.Errorf("%s: minify supports only css and js files", filename)
	}
	ret := esbuild.Transform(string(source), esbuild.TransformOptions{
		Loader:            loader,
		Target:            esbuild.ESNext,
		MinifyWhitespace:  true,
		MinifySyntax:      true,
		MinifyIdentifiers: loader != esbuild.LoaderCSS,
		LogLevel:          esbuild.LogLevelSilent,
	})
	if len(ret.Errors) > 0 {
		return nil, formatError(filename, ret.Errors[0])
	}
	return ret.Code, nil
}

// Hash returns a short content hash of data salted with the given key, so
// identical content under different keys hashes differently.
func Hash(salt string, data []byte) string {
	h := xxhash.New()
	h.Write([]byte(salt))
	h.Write([]byte{0})
	h.Write(data)
	return hashEncoding.EncodeToString(h.Sum(nil))[:8]
}

// InlineSourceMap appends the source map to the code as a data URL comment.
func InlineSourceMap(code []byte, sourceMap []byte) []byte {
	if len(sourceMap) == 0 {
		return code
	}
	buf := make([]byte, 0, len(code)+len(sourceMap)*4/3+64)
	buf = append(buf, code...)
	if len(buf) > 0 && buf[len(buf)-1] != '\n' {
		buf = append(buf, '\n')
	}
	buf = append(buf, "//# sourceMappingURL=data:application/json;base64,"...)
	buf = append(buf, base64.StdEncoding.EncodeToString(sourceMap)...)
	return append(buf, '\n')
}

// LinkSourceMap appends a sourceMappingURL comment pointing at url.
func LinkSourceMap(code []byte, url string) []byte {
	buf := make([]byte, 0, len(code)+len(url)+24)
	buf = append(buf, code...)
	if len(buf) > 0 && buf[len(buf)-1] != '\n' {
		buf = append(buf, '\n')
	}
	buf = append(buf, "//# sourceMappingURL="...)
	buf = append(buf, url...)
	return append(buf, '\n')
}

func loaderOf(filename string) esbuild.Loader {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jsx":
		return esbuild.LoaderJSX
	case ".ts", ".mts":
		return esbuild.LoaderTS
	case ".tsx":
		return esbuild.LoaderTSX
	default:
		return esbuild.LoaderJS
	}
}

func formatError(filename string, msg esbuild.Message) error {
	if msg.Location != nil {
		return fmt.Errorf("%s:%d:%d: %s", filename, msg.Location.Line, msg.Location.Column, msg.Text)
	}
	return fmt.Errorf("%s: %s", filename, msg.Text)
}
