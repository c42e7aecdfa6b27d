package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/esm-dev/assetpipe/internal/assets"
	"github.com/esm-dev/assetpipe/internal/codegen"
	"github.com/esm-dev/assetpipe/internal/manifest"
	"github.com/esm-dev/assetpipe/internal/resolver"
	"github.com/esm-dev/assetpipe/internal/rewrite"
	"github.com/esm-dev/assetpipe/internal/sandbox"
	"github.com/esm-dev/assetpipe/internal/storage"
	"github.com/esm-dev/assetpipe/internal/transform"
	logx "github.com/ije/gox/log"
	"golang.org/x/sync/errgroup"
)

type SourcemapMode string

const (
	SourcemapNone     SourcemapMode = ""
	SourcemapInline   SourcemapMode = "inline"
	SourcemapExternal SourcemapMode = "external"
)

type Sourcemap struct {
	Mode           SourcemapMode
	SourcesContent bool
	SourceRoot     string
}

// Options configures a production build.
type Options struct {
	Root    string
	Scripts []string
	OutDir  string
	// FileNames is the output path template, see manifest.FormatPath.
	FileNames string
	// Manifest is the manifest file name inside OutDir; empty disables it.
	Manifest        string
	Sourcemap       Sourcemap
	Files           *assets.Rules
	WorkspaceRoot   string
	WorkspaceAllow  []string
	WorkspaceDeny   []string
	External        []string
	EmptyOutDir     bool
	CodegenDir      string
	Base            string
	Strict          bool
	JSXImportSource string
	Minify          bool
	Concurrency     int
	Logger          *logx.Logger
	// Sandbox and Resolver share state with the dev handler of a pipeline;
	// they are created from the options when nil.
	Sandbox  *sandbox.Sandbox
	Resolver *resolver.Resolver
}

// Result describes a finished build. Errors holds per-file failures that
// did not stop the build.
type Result struct {
	Manifest *manifest.Manifest
	Outputs  []string
	Stubs    []codegen.Stub
	Errors   []error
	Warnings []string
}

type module struct {
	file  string
	url   string
	rel   string
	entry string

	code      []byte
	sourceMap []byte
	imports   []rewrite.Import
	resolved  map[string]resolver.Resolution
	deps      map[string]*module
	out       string
	err       error
}

type builder struct {
	options  Options
	root     string
	sandbox  *sandbox.Sandbox
	resolver *resolver.Resolver
	log      *logx.Logger
	result   *Result
	mu       sync.Mutex
}

// Build discovers the dependency graph of the entry scripts, emits every
// module under a content-hashed name with relative imports, materializes the
// file assets and writes the manifest and stubs.
func Build(ctx context.Context, options Options) (*Result, error) {
	if options.Root == "" {
		return nil, errors.New("root is required")
	}
	if options.OutDir == "" {
		return nil, errors.New("outDir is required")
	}
	b := &builder{
		options:  options,
		sandbox:  options.Sandbox,
		resolver: options.Resolver,
		log:      options.Logger,
		result:   &Result{},
	}
	if b.log == nil {
		b.log = &logx.Logger{}
		b.log.SetLevel(logx.L_INFO)
	}
	var err error
	if b.sandbox == nil {
		b.sandbox, err = sandbox.New(sandbox.Options{
			Root:           options.Root,
			WorkspaceRoot:  options.WorkspaceRoot,
			WorkspaceAllow: options.WorkspaceAllow,
			WorkspaceDeny:  options.WorkspaceDeny,
		})
		if err != nil {
			return nil, err
		}
	}
	root := b.sandbox.Root()
	b.root = root
	if b.resolver == nil {
		b.resolver = resolver.New(resolver.Options{Sandbox: b.sandbox, External: options.External, Logger: b.log})
	}
	switch options.Sourcemap.Mode {
	case SourcemapNone, SourcemapInline, SourcemapExternal:
	default:
		return nil, fmt.Errorf("invalid sourcemap mode %q", options.Sourcemap.Mode)
	}

	outDir, err := filepath.Abs(options.OutDir)
	if err != nil {
		return nil, err
	}
	if rel, err := filepath.Rel(outDir, root); err == nil && !strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("outDir %s must not contain the root directory", options.OutDir)
	}

	var excluded []string
	excluded = append(excluded, outDir)
	if options.CodegenDir != "" {
		excluded = append(excluded, options.CodegenDir)
	}
	sources, err := Classify(root, options.Scripts, options.Files, excluded...)
	if err != nil {
		return nil, err
	}

	out, err := storage.NewFSStorage(outDir)
	if err != nil {
		return nil, err
	}
	if options.EmptyOutDir {
		removed, err := out.Clear()
		if err != nil {
			return nil, fmt.Errorf("empty outDir: %w", err)
		}
		b.log.Debugf("removed %d files from %s", len(removed), outDir)
	}

	modules, order, err := b.discover(ctx, Paths(sources, ScriptSource))
	if err != nil {
		return b.result, err
	}
	if options.Strict && len(b.result.Errors) > 0 {
		return b.result, fmt.Errorf("build failed with %d errors", len(b.result.Errors))
	}

	owners, err := b.assignOutputs(order)
	if err != nil {
		return b.result, err
	}
	if err := b.emit(ctx, out, order); err != nil {
		return b.result, err
	}

	m := manifest.New()
	for _, mod := range order {
		if mod.err != nil {
			continue
		}
		m.Scripts.Outputs[mod.out] = &manifest.ScriptOutput{EntryPoint: mod.entry, Imports: edges(mod)}
	}

	var inputs []assets.Input
	for _, s := range sources {
		if s.Kind == FileSource {
			inputs = append(inputs, assets.Input{Path: s.Path, Rule: s.Rule})
		}
	}
	if len(inputs) > 0 {
		ret, err := assets.Build(ctx, assets.BuildOptions{
			Root:        root,
			Inputs:      inputs,
			Storage:     out,
			FileNames:   options.FileNames,
			Concurrency: options.Concurrency,
			Logger:      b.log,
			Reserved:    owners,
		})
		if err != nil {
			return b.result, err
		}
		for _, err := range ret.Errors {
			if errors.Is(err, assets.ErrCollision) {
				return b.result, err
			}
		}
		m.Files.Outputs = ret.Outputs
		b.result.Outputs = append(b.result.Outputs, ret.Written...)
		b.result.Errors = append(b.result.Errors, ret.Errors...)
	}

	if err := m.Validate(); err != nil {
		return b.result, err
	}
	b.result.Manifest = m
	if options.Manifest != "" {
		data, err := m.Marshal()
		if err != nil {
			return b.result, err
		}
		if err := out.Put(options.Manifest, bytes.NewReader(data)); err != nil {
			return b.result, fmt.Errorf("write manifest: %w", err)
		}
		b.result.Outputs = append(b.result.Outputs, options.Manifest)
	}

	if options.CodegenDir != "" {
		b.result.Stubs = codegen.FromManifest(m, Paths(sources, ScriptSource), Paths(sources, FileSource), options.Base)
		gen, err := storage.NewFSStorage(options.CodegenDir)
		if err != nil {
			return b.result, err
		}
		written, err := codegen.NewWriter(gen).Write(b.result.Stubs)
		if err != nil {
			return b.result, err
		}
		b.log.Debugf("codegen: %d of %d stubs written", len(written), len(b.result.Stubs))
	}

	b.log.Infof("build: %d modules, %d files, %d errors", len(modules), len(m.Files.Outputs), len(b.result.Errors))
	return b.result, nil
}

// discover walks the import graph breadth-first from the entries, loading
// every frontier in parallel. It returns the modules keyed by file path and
// a dependency-first order of the reachable modules.
func (b *builder) discover(ctx context.Context, entries []string) (map[string]*module, []*module, error) {
	modules := make(map[string]*module)
	var roots []*module
	for _, entry := range entries {
		filename := filepath.Join(b.root, filepath.FromSlash(entry))
		if m, ok := modules[filename]; ok {
			roots = append(roots, m)
			continue
		}
		url, _ := b.sandbox.URL(filename)
		m := &module{file: filename, url: url, rel: entry, entry: entry}
		modules[filename] = m
		roots = append(roots, m)
	}

	limit := b.options.Concurrency
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	frontier := roots
	for len(frontier) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for _, m := range frontier {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				b.load(m)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, nil, err
		}

		var next []*module
		for _, m := range frontier {
			if m.err != nil {
				b.fail(m.err)
				continue
			}
			m.deps = make(map[string]*module)
			for _, specifier := range rewrite.Specifiers(m.imports) {
				res, ok := m.resolved[specifier]
				if !ok {
					continue
				}
				switch {
				case res.Failed:
					b.unresolved(fmt.Sprintf("%s: could not resolve %q", m.rel, specifier))
					continue
				case res.Outside:
					b.unresolved(fmt.Sprintf("%s: %q resolves to %s which is outside the roots", m.rel, specifier, res.FilePath))
					continue
				case !transform.IsModule(res.FilePath):
					b.warn(fmt.Sprintf("%s: %q is not a script module, leaving it unchanged", m.rel, specifier))
					continue
				}
				dep, ok := modules[res.FilePath]
				if !ok {
					rel, _ := b.sandbox.Rel(res.FilePath)
					dep = &module{file: res.FilePath, url: res.URL, rel: rel}
					modules[res.FilePath] = dep
					next = append(next, dep)
				}
				m.deps[specifier] = dep
			}
		}
		frontier = next
	}
	return modules, topoOrder(roots), nil
}

// load reads, checks, transforms and resolves one module.
func (b *builder) load(m *module) {
	source, err := os.ReadFile(m.file)
	if err != nil {
		m.err = err
		return
	}
	if err := transform.CheckFormat(source); err != nil {
		m.err = fmt.Errorf("%s: %w", m.rel, err)
		return
	}
	ret, err := transform.Transform(m.file, source, transform.Options{
		Sourcefile:      m.rel,
		SourceMap:       b.options.Sourcemap.Mode != SourcemapNone,
		SourcesContent:  b.options.Sourcemap.SourcesContent,
		SourceRoot:      b.options.Sourcemap.SourceRoot,
		JSXImportSource: b.options.JSXImportSource,
		Minify:          b.options.Minify,
	})
	if err != nil {
		m.err = err
		return
	}
	imports, err := rewrite.Parse(ret.Code)
	if err != nil {
		m.err = fmt.Errorf("%s: %w", m.rel, err)
		return
	}
	m.code = ret.Code
	m.sourceMap = ret.Map
	m.imports = imports
	m.resolved = b.resolver.Resolve(rewrite.Specifiers(imports), filepath.Dir(m.file))
}

// topoOrder returns the modules reachable from the roots, dependencies first.
// Cycles are cut at the back edge; the order only makes iteration
// deterministic and is never relied on for rewriting.
func topoOrder(roots []*module) []*module {
	var order []*module
	visited := make(map[*module]bool)
	var visit func(m *module)
	visit = func(m *module) {
		if visited[m] {
			return
		}
		visited[m] = true
		for _, specifier := range rewrite.Specifiers(m.imports) {
			if dep, ok := m.deps[specifier]; ok {
				visit(dep)
			}
		}
		order = append(order, m)
	}
	for _, m := range roots {
		visit(m)
	}
	return order
}

// assignOutputs gives every loaded module its final output path. It must
// complete before any module is rewritten.
func (b *builder) assignOutputs(order []*module) (map[string]string, error) {
	owners := make(map[string]string, len(order))
	for _, m := range order {
		if m.err != nil {
			continue
		}
		dir, base := path.Split(m.rel)
		name := strings.TrimSuffix(base, path.Ext(base))
		m.out = manifest.FormatPath(b.options.FileNames, strings.TrimSuffix(dir, "/"), name, transform.Hash(m.url, m.code), ".js")
		if owner, ok := owners[m.out]; ok {
			return nil, fmt.Errorf("output path %s of %s collides with %s", m.out, m.rel, owner)
		}
		owners[m.out] = m.rel
		if b.options.Sourcemap.Mode == SourcemapExternal {
			owners[m.out+".map"] = m.rel
		}
	}
	return owners, nil
}

// emit rewrites every module against the complete output map and writes it.
func (b *builder) emit(ctx context.Context, out storage.Storage, order []*module) error {
	limit := b.options.Concurrency
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	outDir := out.Root()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, m := range order {
		if m.err != nil {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fromDir := path.Dir(m.out)
			code := rewrite.Rewrite(m.code, m.imports, func(imp rewrite.Import) (string, bool) {
				dep, ok := m.deps[imp.Specifier]
				if !ok || dep.err != nil {
					return "", false
				}
				return relativeSpecifier(fromDir, dep.out), true
			})
			if b.options.Sourcemap.Mode != SourcemapNone && len(m.sourceMap) > 0 {
				sourceMap, err := relocateSourceMap(m.sourceMap, filepath.Join(outDir, filepath.FromSlash(m.out)), m.file)
				if err != nil {
					return fmt.Errorf("source map of %s: %w", m.rel, err)
				}
				if b.options.Sourcemap.Mode == SourcemapInline {
					code = transform.InlineSourceMap(code, sourceMap)
				} else {
					if err := out.Put(m.out+".map", bytes.NewReader(sourceMap)); err != nil {
						return fmt.Errorf("write %s.map: %w", m.out, err)
					}
					b.written(m.out + ".map")
					code = transform.LinkSourceMap(code, path.Base(m.out)+".map")
				}
			}
			if err := out.Put(m.out, bytes.NewReader(code)); err != nil {
				return fmt.Errorf("write %s: %w", m.out, err)
			}
			b.written(m.out)
			return nil
		})
	}
	return g.Wait()
}

// edges returns the import edges of a module to modules that were emitted.
func edges(m *module) []manifest.Import {
	var imports []manifest.Import
	seen := make(map[manifest.Import]bool)
	for _, imp := range m.imports {
		dep, ok := m.deps[imp.Specifier]
		if !ok || dep.err != nil {
			continue
		}
		edge := manifest.Import{Path: dep.out, Kind: string(imp.Kind)}
		if seen[edge] {
			continue
		}
		seen[edge] = true
		imports = append(imports, edge)
	}
	return imports
}

// relativeSpecifier returns the import specifier of `to` from the directory
// `fromDir`, both relative to the output directory.
func relativeSpecifier(fromDir string, to string) string {
	rel, err := filepath.Rel(filepath.FromSlash("/"+fromDir), filepath.FromSlash("/"+to))
	if err != nil {
		return "./" + to
	}
	rel = filepath.ToSlash(rel)
	if !strings.HasPrefix(rel, "../") {
		rel = "./" + rel
	}
	return rel
}

func (b *builder) fail(err error) {
	b.log.Errorf("%v", err)
	b.mu.Lock()
	b.result.Errors = append(b.result.Errors, err)
	b.mu.Unlock()
}

func (b *builder) warn(msg string) {
	b.log.Warnf("%s", msg)
	b.mu.Lock()
	b.result.Warnings = append(b.result.Warnings, msg)
	b.mu.Unlock()
}

// unresolved reports an import that keeps its original specifier; strict
// builds treat it as an error.
func (b *builder) unresolved(msg string) {
	if b.options.Strict {
		b.fail(errors.New(msg))
		return
	}
	b.warn(msg)
}

func (b *builder) written(key string) {
	b.mu.Lock()
	b.result.Outputs = append(b.result.Outputs, key)
	b.mu.Unlock()
}
