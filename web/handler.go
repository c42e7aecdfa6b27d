package web

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/esm-dev/assetpipe/internal/assets"
	"github.com/esm-dev/assetpipe/internal/graph"
	"github.com/esm-dev/assetpipe/internal/mime"
	"github.com/esm-dev/assetpipe/internal/resolver"
	"github.com/esm-dev/assetpipe/internal/rewrite"
	"github.com/esm-dev/assetpipe/internal/sandbox"
	"github.com/esm-dev/assetpipe/internal/transform"
	logx "github.com/ije/gox/log"
)

// Config configures a Handler. Sandbox is required; the resolver and the
// graph are shared with the rest of the pipeline and created when nil.
type Config struct {
	Sandbox         *sandbox.Sandbox
	Resolver        *resolver.Resolver
	Graph           *graph.Graph
	Files           *assets.Rules
	SourceMap       bool
	JSXImportSource string
	Logger          *logx.Logger
}

// Response is a transport-neutral reply of the handler. Body is nil for 304.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Handler transforms and serves one source module per request.
type Handler struct {
	config   *Config
	sandbox  *sandbox.Sandbox
	resolver *resolver.Resolver
	graph    *graph.Graph
	log      *logx.Logger
}

func NewHandler(config Config) *Handler {
	h := &Handler{
		config:   &config,
		sandbox:  config.Sandbox,
		resolver: config.Resolver,
		graph:    config.Graph,
		log:      config.Logger,
	}
	if h.log == nil {
		h.log = &logx.Logger{}
		h.log.SetLevel(logx.L_INFO)
	}
	if h.resolver == nil {
		h.resolver = resolver.New(resolver.Options{Sandbox: h.sandbox, Logger: h.log})
	}
	if h.graph == nil {
		h.graph = graph.New()
	}
	return h
}

// Graph returns the module graph the handler caches transforms in.
func (h *Handler) Graph() *graph.Graph {
	return h.graph
}

// Serve answers a request for a source module. It returns nil when the path
// is not a module or not covered by the app allow list, so the caller can
// fall through to another handler.
func (h *Handler) Serve(pathname string, header http.Header) *Response {
	if !transform.IsModule(pathname) {
		return nil
	}
	resolved, resp := h.resolve(pathname)
	if resolved == nil {
		return resp
	}
	fi, err := os.Stat(resolved.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return textResponse(http.StatusNotFound, "Not Found")
		}
		return h.internalError(pathname, err)
	}
	if fi.IsDir() {
		return nil
	}

	node := h.graph.Attach(resolved.URL, resolved.FilePath)
	if ret, ok := node.Cached(fi.ModTime()); ok {
		return moduleResponse(ret, header)
	}

	source, err := os.ReadFile(resolved.FilePath)
	if err != nil {
		return h.internalError(pathname, err)
	}
	if err := transform.CheckFormat(source); err != nil {
		return h.internalError(pathname, err)
	}
	ret, err := transform.Transform(resolved.FilePath, source, transform.Options{
		Sourcefile:      resolved.URL,
		SourceMap:       h.config.SourceMap,
		SourcesContent:  true,
		JSXImportSource: h.config.JSXImportSource,
	})
	if err != nil {
		return h.internalError(pathname, err)
	}
	imports, err := rewrite.Parse(ret.Code)
	if err != nil {
		return h.internalError(pathname, err)
	}
	resolutions := h.resolver.Resolve(rewrite.Specifiers(imports), filepath.Dir(resolved.FilePath))
	code := rewrite.Rewrite(ret.Code, imports, func(imp rewrite.Import) (string, bool) {
		res, ok := resolutions[imp.Specifier]
		if !ok || !res.Rewritten() {
			return "", false
		}
		if transform.IsModule(res.FilePath) {
			h.graph.Attach(res.URL, res.FilePath)
		}
		return res.URL, true
	})
	if h.config.SourceMap {
		code = transform.InlineSourceMap(code, ret.Map)
	}
	t := &graph.Transform{Code: code, Map: ret.Map, Hash: transform.Hash(resolved.URL, code)}
	node.Store(t, fi.ModTime())
	h.log.Debugf("transformed %s (%d imports)", resolved.URL, len(imports))
	return moduleResponse(t, header)
}

// ServeFile answers a request for a file asset matched by a file rule,
// materializing the requested variant on demand. An empty variant selects
// the default variant of the rule.
func (h *Handler) ServeFile(ctx context.Context, pathname string, variant string, header http.Header) *Response {
	if h.config.Files.Len() == 0 {
		return nil
	}
	resolved, resp := h.resolve(pathname)
	if resolved == nil {
		return resp
	}
	if resolved.Root != sandbox.RootApp {
		return nil
	}
	rule, ok := h.config.Files.Match(resolved.Path)
	if !ok {
		return nil
	}
	name, err := rule.Variant(variant)
	if err != nil {
		return textResponse(http.StatusBadRequest, err.Error())
	}
	fi, err := os.Stat(resolved.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return textResponse(http.StatusNotFound, "Not Found")
		}
		return h.internalError(pathname, err)
	}
	if fi.IsDir() {
		return nil
	}

	url, _ := assets.DevURL(resolved.URL, rule, name)
	node := h.graph.Attach(url, resolved.FilePath)
	if ret, ok := node.Cached(fi.ModTime()); ok {
		return fileResponse(ret, header)
	}
	in, err := assets.Load(h.sandbox.Root(), resolved.Path)
	if err != nil {
		return h.internalError(pathname, err)
	}
	out, err := rule.Apply(ctx, in, name)
	if err != nil {
		return h.internalError(pathname, err)
	}
	t := &graph.Transform{Code: out.Data, Hash: transform.Hash(url, out.Data), ContentType: mime.ContentType(out.Name)}
	node.Store(t, fi.ModTime())
	return fileResponse(t, header)
}

func (h *Handler) resolve(pathname string) (*sandbox.Resolved, *Response) {
	resolved, err := h.sandbox.Resolve(pathname)
	if err != nil {
		if errors.Is(err, sandbox.ErrForbidden) {
			return nil, textResponse(http.StatusForbidden, "Forbidden")
		}
		return nil, h.internalError(pathname, err)
	}
	return resolved, nil
}

func (h *Handler) internalError(pathname string, err error) *Response {
	h.log.Errorf("%s: %v", pathname, err)
	return textResponse(http.StatusInternalServerError, err.Error())
}

// ServeHTTP serves modules and file assets, replying 404 to anything else.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Middleware(http.NotFoundHandler()).ServeHTTP(w, r)
}

// Middleware serves modules and file assets and passes every other request
// to next.
func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		resp := h.Serve(r.URL.Path, r.Header)
		if resp == nil {
			resp = h.ServeFile(r.Context(), r.URL.Path, r.URL.Query().Get("variant"), r.Header)
		}
		if resp == nil {
			next.ServeHTTP(w, r)
			return
		}
		writeResponse(w, r, resp)
	})
}
