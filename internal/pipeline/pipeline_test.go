package pipeline

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/esm-dev/assetpipe/internal/config"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		filename := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func newTestPipeline(t *testing.T, content string) (*Pipeline, string) {
	t.Helper()
	for _, key := range []string{"ASSETPIPE_PORT", "LOG_LEVEL", "SOURCEMAP"} {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"assetpipe.json":   content,
		"src/main.ts":      "import { util } from './util.ts'\nconsole.log(util)\n",
		"src/util.ts":      "export const util = 1\n",
		"images/logo.txt":  "logo",
		"images/cover.txt": "cover",
	})
	cfg, err := config.Load(filepath.Join(dir, "assetpipe.json"))
	if err != nil {
		t.Fatal(err)
	}
	p, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	return p, dir
}

const testConfig = `{
  "scripts": ["src/main.ts"],
  "codegenDir": "gen",
  "base": "/assets/",
  "files": [
    { "pattern": "images/**/*.txt", "variants": { "small": "copy", "large": "copy" } }
  ]
}`

func TestDevStubs(t *testing.T) {
	p, dir := newTestPipeline(t, testConfig)
	if _, ok := p.DevFile("images/logo.txt"); ok {
		t.Fatal("a rule without a default variant has no url without a variant")
	}
	if url, ok := p.DevFile("images/logo.txt", "small"); !ok || url != "/images/logo.txt?variant=small" {
		t.Fatalf("unexpected dev url %q", url)
	}

	written, _, err := p.Codegen(true, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(written) != 3 {
		t.Fatalf("expected 3 stubs, got %v", written)
	}
	stub, err := os.ReadFile(filepath.Join(dir, "gen", "src", "main.ts.js"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(stub), "export const href = '/src/main.ts'\nexport const preloads = []\n") {
		t.Fatalf("unexpected dev stub:\n%s", stub)
	}
	report, err := p.Audit(true)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK(false) {
		t.Fatalf("expected no drift, got %+v", report)
	}

	if err := os.Remove(filepath.Join(dir, "images", "cover.txt")); err != nil {
		t.Fatal(err)
	}
	writeFiles(t, dir, map[string]string{"gen/notes.md": "hand written"})
	report, err = p.Audit(true)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(report.Stale, ",") != "images/cover.txt.js" || strings.Join(report.Unknown, ",") != "notes.md" {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.OK(true) {
		t.Fatal("stale stubs are drift")
	}
	_, pruned, err := p.Codegen(true, true)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(pruned, ",") != "images/cover.txt.js" {
		t.Fatalf("unexpected pruned stubs %v", pruned)
	}
	if _, err := os.Stat(filepath.Join(dir, "gen", "notes.md")); err != nil {
		t.Fatal("unknown files must never be pruned")
	}
}

func TestProdCodegen(t *testing.T) {
	p, dir := newTestPipeline(t, testConfig)
	if _, _, err := p.Codegen(false, false); err == nil {
		t.Fatal("production codegen needs a build")
	}
	ret, err := p.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(ret.Errors) > 0 {
		t.Fatal(ret.Errors)
	}
	report, err := p.Audit(false)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK(false) {
		t.Fatalf("the build writes the stubs, got %+v", report)
	}
	stub, err := os.ReadFile(filepath.Join(dir, "gen", "src", "main.ts.js"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(stub), "export const href = '/assets/src/main-") {
		t.Fatalf("unexpected stub:\n%s", stub)
	}

	// dev stubs differ from the production ones
	report, err = p.Audit(true)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Outdated) != 3 {
		t.Fatalf("expected 3 outdated stubs, got %+v", report)
	}
}

func TestAuditSharedOutDir(t *testing.T) {
	p, _ := newTestPipeline(t, `{"scripts": ["src/main.ts"], "outDir": "dist", "codegenDir": "dist"}`)
	if _, err := p.Build(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := p.Codegen(false, false); err != nil {
		t.Fatal(err)
	}
	report, err := p.Audit(false)
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK(false) {
		t.Fatalf("build outputs must be recognized, got %+v", report)
	}
}

func TestAllowList(t *testing.T) {
	tests := []struct {
		name   string
		config string
		served bool
	}{
		{"absent", `{"scripts": ["src/main.ts"]}`, false},
		{"empty", `{"scripts": ["src/main.ts"], "allow": []}`, false},
		{"src only", `{"scripts": ["src/main.ts"], "allow": ["src/**"]}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestPipeline(t, tt.config)
			resp := p.Handler().Serve("/src/main.ts", http.Header{})
			if tt.served {
				if resp == nil || resp.Status != 200 {
					t.Fatalf("expected 200, got %+v", resp)
				}
				return
			}
			if resp != nil {
				t.Fatalf("allow=%v served /src/main.ts with status %d", p.Config().Allow, resp.Status)
			}
		})
	}

	// the build does not depend on the dev allow list
	p, dir := newTestPipeline(t, `{"scripts": ["src/main.ts"], "allow": [], "fileNames": "[dir]/[name]"}`)
	ret, err := p.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(ret.Errors) > 0 {
		t.Fatal(ret.Errors)
	}
	if _, err := os.Stat(filepath.Join(dir, "dist", "src", "main.js")); err != nil {
		t.Fatal(err)
	}
}

func TestWatch(t *testing.T) {
	p, dir := newTestPipeline(t, `{"scripts": ["src/main.ts"], "allow": ["**"]}`)
	h := p.Handler()
	resp := h.Serve("/src/util.ts", http.Header{})
	if resp == nil || resp.Status != 200 {
		t.Fatal("expected 200")
	}
	node, ok := p.Graph().ByURL("/src/util.ts")
	if !ok || node.LastModified().IsZero() {
		t.Fatal("expected a cached node")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan string, 16)
	done := make(chan error, 1)
	go func() {
		done <- p.Watch(ctx, func(filename string) {
			select {
			case changed <- filename:
			default:
			}
		})
	}()

	deadline := time.After(5 * time.Second)
	for {
		writeFiles(t, dir, map[string]string{"src/util.ts": "export const util = 2\n"})
		select {
		case filename := <-changed:
			if filepath.Base(filename) != "util.ts" {
				continue
			}
		case <-time.After(100 * time.Millisecond):
			continue
		case <-deadline:
			t.Fatal("no change event")
		}
		break
	}
	if !node.LastModified().IsZero() {
		t.Fatal("the node must be invalidated")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
