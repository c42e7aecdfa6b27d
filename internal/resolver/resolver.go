package resolver

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/esm-dev/assetpipe/internal/sandbox"
	esbuild "github.com/evanw/esbuild/pkg/api"
	logx "github.com/ije/gox/log"
)

// Options configures a Resolver.
type Options struct {
	Sandbox *sandbox.Sandbox
	// Cache is shared by every resolver of one pipeline; a new one is created when nil.
	Cache *Cache
	// External specifiers are skipped by exact match.
	External []string
	Logger   *logx.Logger
}

// Resolver resolves import specifiers to files and servable URLs in batches.
type Resolver struct {
	sandbox  *sandbox.Sandbox
	cache    *Cache
	external map[string]struct{}
	log      *logx.Logger
}

// resolveCall marks resolutions issued by the collector plugin itself.
type resolveCall struct{}

func New(options Options) *Resolver {
	r := &Resolver{
		sandbox:  options.Sandbox,
		cache:    options.Cache,
		external: make(map[string]struct{}, len(options.External)),
		log:      options.Logger,
	}
	if r.cache == nil {
		r.cache = NewCache()
	}
	if r.log == nil {
		r.log = &logx.Logger{}
		r.log.SetLevel(logx.L_INFO)
	}
	for _, s := range options.External {
		r.external[s] = struct{}{}
	}
	return r
}

// Cache returns the resolution cache of the resolver.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// IsExternal reports whether the specifier is excluded from resolution: it is
// listed as external or it is an absolute URL.
func (r *Resolver) IsExternal(specifier string) bool {
	if _, ok := r.external[specifier]; ok {
		return true
	}
	return isAbsoluteURL(specifier)
}

// Resolve resolves the non-external specifiers imported from dir. Cached
// resolutions are reused; the rest are resolved in a single batch. A failed
// specifier maps to itself.
func (r *Resolver) Resolve(specifiers []string, dir string) map[string]Resolution {
	ret := make(map[string]Resolution, len(specifiers))
	var pending []string
	for _, specifier := range specifiers {
		if r.IsExternal(specifier) {
			continue
		}
		if _, ok := ret[specifier]; ok {
			continue
		}
		if res, ok := r.cache.Load(specifier, dir); ok {
			ret[specifier] = res
			continue
		}
		ret[specifier] = Resolution{}
		pending = append(pending, specifier)
	}
	if len(pending) == 0 {
		return ret
	}
	paths, errs, err := resolveBatch(pending, dir)
	if err != nil {
		r.log.Warnf("resolve %d specifiers in %s: %v", len(pending), dir, err)
	}
	for _, specifier := range pending {
		res := Resolution{Specifier: specifier, URL: specifier}
		if filename, ok := paths[specifier]; ok && err == nil {
			res.FilePath = filename
			if url, ok := r.sandbox.URL(filename); ok {
				res.URL = url
			} else {
				res.Outside = true
			}
		} else {
			res.Failed = true
			if e, ok := errs[specifier]; ok {
				r.log.Debugf("resolve %q in %s: %v", specifier, dir, e)
			}
		}
		ret[specifier] = r.cache.Store(dir, res)
	}
	return ret
}

// resolveBatch resolves specifiers by bundling a synthetic module that
// re-exports every specifier and recording the path each import attaches to.
func resolveBatch(specifiers []string, dir string) (paths map[string]string, errs map[string]error, err error) {
	var stdin strings.Builder
	for _, specifier := range specifiers {
		stdin.WriteString("export * from ")
		stdin.WriteString(strconv.Quote(specifier))
		stdin.WriteString(";\n")
	}
	paths = make(map[string]string, len(specifiers))
	errs = make(map[string]error)
	var mu sync.Mutex
	ret := esbuild.Build(esbuild.BuildOptions{
		Stdin: &esbuild.StdinOptions{
			Contents:   stdin.String(),
			ResolveDir: dir,
			Sourcefile: "resolve.ts",
			Loader:     esbuild.LoaderTS,
		},
		Bundle:   true,
		Write:    false,
		Format:   esbuild.FormatESModule,
		Platform: esbuild.PlatformBrowser,
		Target:   esbuild.ESNext,
		LogLevel: esbuild.LogLevelSilent,
		Plugins: []esbuild.Plugin{
			{
				Name: "resolve-collector",
				Setup: func(build esbuild.PluginBuild) {
					build.OnResolve(esbuild.OnResolveOptions{Filter: ".*"}, func(args esbuild.OnResolveArgs) (esbuild.OnResolveResult, error) {
						if _, ok := args.PluginData.(resolveCall); ok {
							return esbuild.OnResolveResult{}, nil
						}
						res := build.Resolve(args.Path, esbuild.ResolveOptions{
							Importer:   args.Importer,
							ResolveDir: args.ResolveDir,
							Kind:       esbuild.ResolveJSImportStatement,
							PluginData: resolveCall{},
						})
						mu.Lock()
						if len(res.Errors) > 0 {
							errs[args.Path] = errors.New(res.Errors[0].Text)
						} else if res.Path != "" && !res.External && (res.Namespace == "" || res.Namespace == "file") {
							paths[args.Path] = res.Path
						} else {
							errs[args.Path] = fmt.Errorf("resolved to a non-file module (%s)", res.Namespace)
						}
						mu.Unlock()
						return esbuild.OnResolveResult{Path: args.Path, External: true}, nil
					})
				},
			},
		},
	})
	if len(ret.Errors) > 0 {
		err = errors.New(ret.Errors[0].Text)
	}
	return
}

func isAbsoluteURL(specifier string) bool {
	for _, prefix := range []string{"http:", "https:", "//", "data:", "node:", "blob:"} {
		if strings.HasPrefix(specifier, prefix) {
			return true
		}
	}
	return false
}
