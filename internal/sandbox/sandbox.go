package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/esm-dev/assetpipe/internal/glob"
)

// WorkspacePrefix routes a request path to the workspace root.
const WorkspacePrefix = "/__workspace/"

var (
	ErrForbidden   = errors.New("forbidden")
	ErrNoWorkspace = fmt.Errorf("%w: workspace root is not configured", ErrForbidden)
)

// Root identifies which filesystem root a path was mapped to.
type Root int

const (
	RootApp Root = iota
	RootWorkspace
)

func (r Root) String() string {
	if r == RootWorkspace {
		return "workspace"
	}
	return "app"
}

// Options configures the two roots and their gates.
type Options struct {
	Root           string
	Allow          []string
	Deny           []string
	WorkspaceRoot  string
	WorkspaceAllow []string
	WorkspaceDeny  []string
}

// Sandbox maps request paths to files under the app root or the workspace
// root, and maps files back to request paths.
type Sandbox struct {
	root          string
	workspaceRoot string
	app           *glob.Matcher
	workspace     *glob.Matcher
}

// Resolved is a request path mapped onto a root.
type Resolved struct {
	Root     Root
	FilePath string
	// Path is the slash path relative to the root.
	Path string
	URL  string
}

func New(options Options) (*Sandbox, error) {
	if options.Root == "" {
		return nil, errors.New("root is required")
	}
	root, err := realPath(options.Root)
	if err != nil {
		return nil, err
	}
	app, err := glob.New(options.Allow, options.Deny)
	if err != nil {
		return nil, err
	}
	s := &Sandbox{root: root, app: app}
	if options.WorkspaceRoot != "" {
		s.workspaceRoot, err = realPath(options.WorkspaceRoot)
		if err != nil {
			return nil, err
		}
		s.workspace, err = glob.New(options.WorkspaceAllow, options.WorkspaceDeny)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Root returns the absolute app root.
func (s *Sandbox) Root() string {
	return s.root
}

// WorkspaceRoot returns the absolute workspace root, or an empty string.
func (s *Sandbox) WorkspaceRoot() string {
	return s.workspaceRoot
}

// Resolve maps the request path to a file. It returns nil without an error
// when the path is not covered by the app allow list, ErrForbidden when a
// deny pattern matches or the path escapes its root (lexically or through a
// symlink), and ErrNoWorkspace for workspace paths when no workspace root is
// configured.
func (s *Sandbox) Resolve(pathname string) (*Resolved, error) {
	if !strings.HasPrefix(pathname, "/") {
		pathname = "/" + pathname
	}
	if strings.ContainsRune(pathname, 0) || strings.ContainsRune(pathname, '\\') {
		return nil, ErrForbidden
	}
	for _, seg := range strings.Split(pathname, "/") {
		if seg == ".." {
			return nil, ErrForbidden
		}
	}
	if strings.HasPrefix(pathname, WorkspacePrefix) || pathname == strings.TrimSuffix(WorkspacePrefix, "/") {
		if s.workspaceRoot == "" {
			return nil, ErrNoWorkspace
		}
		rel := strings.TrimPrefix(path.Clean(pathname), strings.TrimSuffix(WorkspacePrefix, "/"))
		rel = strings.TrimPrefix(rel, "/")
		if rel == "" || !s.workspace.Allowed(rel) {
			return nil, ErrForbidden
		}
		filename, err := safeJoin(s.workspaceRoot, rel)
		if err != nil {
			return nil, err
		}
		if err := confine(s.workspaceRoot, filename); err != nil {
			return nil, err
		}
		return &Resolved{Root: RootWorkspace, FilePath: filename, Path: rel, URL: WorkspacePrefix + rel}, nil
	}
	rel := strings.TrimPrefix(path.Clean(pathname), "/")
	if s.app.Denied(rel) {
		return nil, ErrForbidden
	}
	if rel == "" || !s.app.Allowed(rel) {
		return nil, nil
	}
	filename, err := safeJoin(s.root, rel)
	if err != nil {
		return nil, err
	}
	if err := confine(s.root, filename); err != nil {
		return nil, err
	}
	return &Resolved{Root: RootApp, FilePath: filename, Path: rel, URL: "/" + rel}, nil
}

// URL converts an absolute file path to a request path: a path under the app
// root maps to `/rel`, a path under the workspace root that passes the
// workspace gate maps to `/__workspace/rel`. Any other path is unresolved.
func (s *Sandbox) URL(filename string) (string, bool) {
	if rel, ok := within(s.root, filename); ok {
		return "/" + rel, true
	}
	if s.workspaceRoot != "" {
		if rel, ok := within(s.workspaceRoot, filename); ok && s.workspace.Allowed(rel) {
			return WorkspacePrefix + rel, true
		}
	}
	return "", false
}

// Rel returns the root-relative slash path of a file, prefixing workspace
// files with the workspace marker directory.
func (s *Sandbox) Rel(filename string) (string, bool) {
	url, ok := s.URL(filename)
	if !ok {
		return "", false
	}
	return strings.TrimPrefix(url, "/"), true
}

// realPath returns the absolute path with symlinks resolved when the path
// exists, matching the paths the resolver reports.
func realPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real, nil
	}
	return abs, nil
}

func within(root string, filename string) (string, bool) {
	rel, err := filepath.Rel(root, filename)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// safeJoin joins and validates that the resulting path is within root.
func safeJoin(root string, rel string) (string, error) {
	filename := filepath.Join(root, filepath.FromSlash(rel))
	if !strings.HasPrefix(filename, root+string(filepath.Separator)) {
		return "", ErrForbidden
	}
	return filename, nil
}

// confine evaluates the symlinks of an existing file and rejects it when the
// real path leaves root. A missing file passes; the caller reports it as not
// found.
func confine(root string, filename string) error {
	real, err := filepath.EvalSymlinks(filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return nil
		}
		return err
	}
	if _, ok := within(root, real); !ok {
		return ErrForbidden
	}
	return nil
}
