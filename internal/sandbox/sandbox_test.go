package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestResolve(t *testing.T) {
	root := t.TempDir()
	workspace := t.TempDir()
	s, err := New(Options{
		Root:           root,
		Allow:          []string{"src/**", "**/*.ts"},
		Deny:           []string{"src/private/**"},
		WorkspaceRoot:  workspace,
		WorkspaceAllow: []string{"packages/**"},
		WorkspaceDeny:  []string{"packages/**/*.test.ts"},
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		pathname string
		root     Root
		file     string
		err      error
		null     bool
	}{
		{pathname: "/src/app.ts", root: RootApp, file: filepath.Join(root, "src", "app.ts")},
		{pathname: "/src/private/key.ts", err: ErrForbidden},
		{pathname: "/lib/app.js", null: true},
		{pathname: "/src/../etc/passwd", err: ErrForbidden},
		{pathname: "/__workspace/packages/ui/button.ts", root: RootWorkspace, file: filepath.Join(workspace, "packages", "ui", "button.ts")},
		{pathname: "/__workspace/packages/ui/button.test.ts", err: ErrForbidden},
		{pathname: "/__workspace/other/x.ts", err: ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.pathname, func(t *testing.T) {
			ret, err := s.Resolve(tt.pathname)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("expected error %v, got %v", tt.err, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if tt.null {
				if ret != nil {
					t.Fatalf("expected no match, got %+v", ret)
				}
				return
			}
			if ret == nil {
				t.Fatal("expected a match")
			}
			if ret.Root != tt.root {
				t.Errorf("root = %v, want %v", ret.Root, tt.root)
			}
			if ret.FilePath != tt.file {
				t.Errorf("file = %s, want %s", ret.FilePath, tt.file)
			}
		})
	}
}

func TestWorkspaceFailsClosed(t *testing.T) {
	s, err := New(Options{Root: t.TempDir(), Allow: []string{"**"}})
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Resolve("/__workspace/packages/ui/button.ts")
	if !errors.Is(err, ErrNoWorkspace) || !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrNoWorkspace, got %v", err)
	}
}

func TestEmptyAllowList(t *testing.T) {
	s, err := New(Options{Root: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	ret, err := s.Resolve("/src/app.ts")
	if err != nil || ret != nil {
		t.Fatalf("expected nothing to be served, got %+v, %v", ret, err)
	}
}

func TestSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	for _, dir := range []string{filepath.Join(root, "src"), filepath.Join(outside, "lib")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	for name, content := range map[string]string{
		filepath.Join(root, "src", "real.js"):     "export default 1",
		filepath.Join(outside, "secret.js"):       "export const token = 'x'",
		filepath.Join(outside, "lib", "index.js"): "export default 2",
	} {
		if err := os.WriteFile(name, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	links := map[string]string{
		filepath.Join(root, "src", "leak.js"):  filepath.Join(outside, "secret.js"),
		filepath.Join(root, "src", "lib"):      filepath.Join(outside, "lib"),
		filepath.Join(root, "src", "alias.js"): filepath.Join(root, "src", "real.js"),
	}
	for link, target := range links {
		if err := os.Symlink(target, link); err != nil {
			t.Skipf("symlinks are not supported: %v", err)
		}
	}
	s, err := New(Options{Root: root, Allow: []string{"src/**"}})
	if err != nil {
		t.Fatal(err)
	}

	for _, pathname := range []string{"/src/leak.js", "/src/lib/index.js"} {
		if _, err := s.Resolve(pathname); !errors.Is(err, ErrForbidden) {
			t.Errorf("%s: expected ErrForbidden, got %v", pathname, err)
		}
	}
	ret, err := s.Resolve("/src/alias.js")
	if err != nil || ret == nil || ret.Root != RootApp {
		t.Fatalf("a symlink inside the root must resolve, got %+v, %v", ret, err)
	}
	ret, err = s.Resolve("/src/missing.js")
	if err != nil || ret == nil {
		t.Fatalf("a missing file resolves and is reported by the caller, got %+v, %v", ret, err)
	}
}

func TestURL(t *testing.T) {
	root := t.TempDir()
	workspace := t.TempDir()
	s, err := New(Options{
		Root:           root,
		WorkspaceRoot:  workspace,
		WorkspaceAllow: []string{"packages/**"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if url, ok := s.URL(filepath.Join(root, "src", "a.ts")); !ok || url != "/src/a.ts" {
		t.Fatalf("unexpected app url %q", url)
	}
	if url, ok := s.URL(filepath.Join(workspace, "packages", "b.ts")); !ok || url != "/__workspace/packages/b.ts" {
		t.Fatalf("unexpected workspace url %q", url)
	}
	if _, ok := s.URL(filepath.Join(workspace, "secret", "c.ts")); ok {
		t.Fatal("workspace file outside the allow list must be unresolved")
	}
	if _, ok := s.URL(filepath.Join(filepath.Dir(root), "outside.ts")); ok {
		t.Fatal("file outside both roots must be unresolved")
	}
}
