package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/esm-dev/assetpipe/internal/assets"
	"github.com/esm-dev/assetpipe/internal/build"
	"github.com/esm-dev/assetpipe/internal/codegen"
	"github.com/esm-dev/assetpipe/internal/config"
	"github.com/esm-dev/assetpipe/internal/graph"
	"github.com/esm-dev/assetpipe/internal/manifest"
	"github.com/esm-dev/assetpipe/internal/resolver"
	"github.com/esm-dev/assetpipe/internal/sandbox"
	"github.com/esm-dev/assetpipe/internal/storage"
	"github.com/esm-dev/assetpipe/web"
	logx "github.com/ije/gox/log"
)

// ErrNoManifest is returned by production codegen when the build writes no
// manifest to generate stubs from.
var ErrNoManifest = errors.New("manifest is disabled")

// Pipeline owns the state shared by the dev handler, the production build
// and codegen of one project: the sandbox, the resolution cache and the
// module graph.
type Pipeline struct {
	config   *config.Config
	sandbox  *sandbox.Sandbox
	resolver *resolver.Resolver
	graph    *graph.Graph
	rules    *assets.Rules
	handler  *web.Handler
	log      *logx.Logger
}

func New(cfg *config.Config, logger *logx.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = &logx.Logger{}
		logger.SetLevel(logx.L_INFO)
	}
	s, err := sandbox.New(sandbox.Options{
		Root:           cfg.Root,
		Allow:          cfg.Allow,
		Deny:           cfg.Deny,
		WorkspaceRoot:  cfg.WorkspaceRoot,
		WorkspaceAllow: cfg.WorkspaceAllow,
		WorkspaceDeny:  cfg.WorkspaceDeny,
	})
	if err != nil {
		return nil, err
	}
	rules, err := cfg.Rules()
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		config:  cfg,
		sandbox: s,
		graph:   graph.New(),
		rules:   rules,
		log:     logger,
	}
	p.resolver = resolver.New(resolver.Options{
		Sandbox:  s,
		Cache:    resolver.NewCache(),
		External: cfg.External,
		Logger:   logger,
	})
	p.handler = web.NewHandler(web.Config{
		Sandbox:         s,
		Resolver:        p.resolver,
		Graph:           p.graph,
		Files:           rules,
		SourceMap:       cfg.DevSourcemap,
		JSXImportSource: cfg.JSXImportSource,
		Logger:          logger,
	})
	return p, nil
}

func (p *Pipeline) Config() *config.Config {
	return p.config
}

// Handler returns the dev handler of the pipeline.
func (p *Pipeline) Handler() *web.Handler {
	return p.handler
}

func (p *Pipeline) Graph() *graph.Graph {
	return p.graph
}

func (p *Pipeline) Resolver() *resolver.Resolver {
	return p.resolver
}

// Sources classifies the configured scripts and the files matched by the
// file rules.
func (p *Pipeline) Sources() ([]build.Source, error) {
	return build.Classify(p.sandbox.Root(), p.config.Scripts, p.rules, p.excluded()...)
}

func (p *Pipeline) excluded() []string {
	dirs := []string{p.config.OutDir}
	if p.config.CodegenDir != "" {
		dirs = append(dirs, p.config.CodegenDir)
	}
	return dirs
}

// Build runs a production build sharing the sandbox and the resolution
// cache of the pipeline.
func (p *Pipeline) Build(ctx context.Context) (*build.Result, error) {
	cfg := p.config
	return build.Build(ctx, build.Options{
		Root:      cfg.Root,
		Scripts:   cfg.Scripts,
		OutDir:    cfg.OutDir,
		FileNames: cfg.FileNames,
		Manifest:  cfg.Manifest,
		Sourcemap: build.Sourcemap{
			Mode:           build.SourcemapMode(cfg.Sourcemap),
			SourcesContent: cfg.SourcesContent,
			SourceRoot:     cfg.SourceRoot,
		},
		Files:           p.rules,
		External:        cfg.External,
		EmptyOutDir:     cfg.EmptyOutDir,
		CodegenDir:      cfg.CodegenDir,
		Base:            cfg.Base,
		Strict:          cfg.Strict,
		JSXImportSource: cfg.JSXImportSource,
		Minify:          cfg.Minify,
		Concurrency:     cfg.Concurrency,
		Logger:          p.log,
		Sandbox:         p.sandbox,
		Resolver:        p.resolver,
	})
}

// DevFile returns the dev URL of a file asset. With no variant it returns
// the default variant, and false when the rule has variants but no default.
func (p *Pipeline) DevFile(src string, variant ...string) (string, bool) {
	src = build.CleanSourcePath(src)
	rule, ok := p.rules.Match(src)
	if !ok {
		return "", false
	}
	var name string
	if len(variant) > 0 {
		name = variant[0]
	}
	url, err := assets.DevURL("/"+src, rule, name)
	if err != nil {
		return "", false
	}
	return url, true
}

// DevStubs computes the stubs pointing at the dev handler. Script stubs
// carry no preloads; the browser discovers imports on its own in dev.
func (p *Pipeline) DevStubs() ([]codegen.Stub, error) {
	sources, err := p.Sources()
	if err != nil {
		return nil, err
	}
	stubs := make([]codegen.Stub, 0, len(sources))
	for _, s := range sources {
		switch s.Kind {
		case build.ScriptSource:
			stubs = append(stubs, codegen.Stub{Source: s.Path, Href: "/" + s.Path, Script: true, Preloads: []string{}})
		case build.FileSource:
			stub := codegen.Stub{Source: s.Path}
			if s.Rule.HasVariants() {
				stub.Variants = make(map[string]string)
				for _, name := range s.Rule.VariantNames() {
					stub.Variants[name], _ = p.DevFile(s.Path, name)
				}
			}
			stub.Href, _ = p.DevFile(s.Path)
			stubs = append(stubs, stub)
		}
	}
	return stubs, nil
}

// ProdStubs computes the stubs of the last production build from its
// manifest.
func (p *Pipeline) ProdStubs() ([]codegen.Stub, error) {
	m, err := p.manifest()
	if err != nil {
		return nil, err
	}
	sources, err := p.Sources()
	if err != nil {
		return nil, err
	}
	return codegen.FromManifest(m, build.Paths(sources, build.ScriptSource), build.Paths(sources, build.FileSource), p.config.Base), nil
}

func (p *Pipeline) manifest() (*manifest.Manifest, error) {
	if p.config.Manifest == "" {
		return nil, ErrNoManifest
	}
	m, err := manifest.Load(filepath.Join(p.config.OutDir, p.config.Manifest))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no manifest in %s, run a build first", p.config.OutDir)
		}
		return nil, err
	}
	return m, nil
}

func (p *Pipeline) stubs(dev bool) ([]codegen.Stub, error) {
	if dev {
		return p.DevStubs()
	}
	return p.ProdStubs()
}

func (p *Pipeline) codegenStorage() (storage.Storage, error) {
	if p.config.CodegenDir == "" {
		return nil, errors.New("codegenDir is not configured")
	}
	return storage.NewFSStorage(p.config.CodegenDir)
}

// Codegen writes the dev or production stubs, returning the keys written
// and, when prune is set, the stale stubs removed.
func (p *Pipeline) Codegen(dev bool, prune bool) (written []string, pruned []string, err error) {
	store, err := p.codegenStorage()
	if err != nil {
		return nil, nil, err
	}
	stubs, err := p.stubs(dev)
	if err != nil {
		return nil, nil, err
	}
	w := codegen.NewWriter(store)
	written, err = w.Write(stubs)
	if err != nil {
		return nil, nil, err
	}
	if prune {
		configured, err := p.configured()
		if err != nil {
			return written, nil, err
		}
		pruned, err = w.Prune(stubs, configured)
		if err != nil {
			return written, nil, err
		}
	}
	p.log.Debugf("codegen: %d written, %d pruned", len(written), len(pruned))
	return written, pruned, nil
}

// Audit reports the drift of the codegen directory without modifying it.
func (p *Pipeline) Audit(dev bool) (*codegen.Report, error) {
	store, err := p.codegenStorage()
	if err != nil {
		return nil, err
	}
	stubs, err := p.stubs(dev)
	if err != nil {
		return nil, err
	}
	configured, err := p.configured()
	if err != nil {
		return nil, err
	}
	return codegen.Audit(store, stubs, configured, p.recognizer(store.Root()))
}

// configured reports whether a source path still exists as a script entry
// or a file matched by a rule.
func (p *Pipeline) configured() (func(source string) bool, error) {
	sources, err := p.Sources()
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(sources))
	for _, s := range sources {
		if s.Kind == build.ScriptSource {
			if _, err := os.Stat(filepath.Join(p.sandbox.Root(), filepath.FromSlash(s.Path))); err != nil {
				continue
			}
		}
		set[s.Path] = true
	}
	return func(source string) bool { return set[source] }, nil
}

// recognizer reports the keys of the codegen directory that are outputs of
// the last production build, for projects writing stubs next to the build.
func (p *Pipeline) recognizer(codegenDir string) func(key string) bool {
	rel, err := filepath.Rel(p.config.OutDir, codegenDir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}
	m, err := p.manifest()
	if err != nil {
		return nil
	}
	prefix := ""
	if rel != "." {
		prefix = filepath.ToSlash(rel) + "/"
	}
	outputs := map[string]bool{p.config.Manifest: true}
	for key := range m.Scripts.Outputs {
		outputs[key] = true
		outputs[key+".map"] = true
	}
	for _, file := range m.Files.Outputs {
		if file.Path != "" {
			outputs[file.Path] = true
		}
		for _, v := range file.Variants {
			outputs[v.Path] = true
		}
	}
	return func(key string) bool {
		return outputs[prefix+key]
	}
}
