package assets

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/esm-dev/assetpipe/internal/manifest"
	"github.com/esm-dev/assetpipe/internal/storage"
	"github.com/klauspost/compress/gzip"
)

func writeFile(t *testing.T, filename string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func upper(_ context.Context, in *Asset) (*Asset, error) {
	return &Asset{Name: in.Name, Data: bytes.ToUpper(in.Data)}, nil
}

func head(n int) Func {
	return func(_ context.Context, in *Asset) (*Asset, error) {
		if len(in.Data) > n {
			return &Asset{Name: in.Name, Data: in.Data[:n]}, nil
		}
		return in, nil
	}
}

func TestNewRules(t *testing.T) {
	_, err := NewRules([]Rule{{Pattern: "images/**", Variants: map[string]Func{"small": Copy}, DefaultVariant: "large"}})
	if err == nil {
		t.Fatal("a default variant must name a declared variant")
	}
	_, err = NewRules([]Rule{{Pattern: "images/[x"}})
	if err == nil {
		t.Fatal("expected an error for an invalid pattern")
	}
	rules, err := NewRules([]Rule{
		{Pattern: "images/**/*.png", Transform: Copy},
		{Pattern: "images/**"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if r, ok := rules.Match("images/a/b.png"); !ok || r.Pattern != "images/**/*.png" {
		t.Fatal("the first matching rule must win")
	}
	if r, ok := rules.Match("images/a/b.svg"); !ok || r.Pattern != "images/**" {
		t.Fatal("expected the fallback rule")
	}
	if _, ok := rules.Match("src/app.ts"); ok {
		t.Fatal("unexpected match")
	}
}

func TestDevURL(t *testing.T) {
	rules, err := NewRules([]Rule{
		{Pattern: "images/**/*.txt", Variants: map[string]Func{"small": head(4), "large": Copy}},
		{Pattern: "fonts/**"},
	})
	if err != nil {
		t.Fatal(err)
	}
	r, _ := rules.Match("images/logo.txt")
	if _, err := DevURL("/images/logo.txt", r, ""); !errors.Is(err, ErrVariantRequired) {
		t.Fatalf("expected ErrVariantRequired, got %v", err)
	}
	if _, err := DevURL("/images/logo.txt", r, "tiny"); !errors.Is(err, ErrUnknownVariant) {
		t.Fatalf("expected ErrUnknownVariant, got %v", err)
	}
	if u, err := DevURL("/images/logo.txt", r, "small"); err != nil || u != "/images/logo.txt?variant=small" {
		t.Fatalf("unexpected dev url %q, %v", u, err)
	}
	f, _ := rules.Match("fonts/inter.woff2")
	if u, err := DevURL("/fonts/inter.woff2", f, ""); err != nil || u != "/fonts/inter.woff2" {
		t.Fatalf("unexpected dev url %q, %v", u, err)
	}
	if _, err := DevURL("/fonts/inter.woff2", f, "small"); !errors.Is(err, ErrNoVariants) {
		t.Fatalf("expected ErrNoVariants, got %v", err)
	}
}

func TestBuildVariants(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "images", "logo.txt"), []byte("hello logo"))
	writeFile(t, filepath.Join(root, "fonts", "inter.woff2"), []byte("font"))
	writeFile(t, filepath.Join(root, "node_modules", "x", "y.txt"), []byte("skip"))

	rules, err := NewRules([]Rule{
		{Pattern: "images/**/*.txt", Transform: upper, Variants: map[string]Func{"small": head(5), "large": Copy}},
		{Pattern: "fonts/**"},
	})
	if err != nil {
		t.Fatal(err)
	}
	files, err := Walk(root)
	if err != nil {
		t.Fatal(err)
	}
	var inputs []Input
	for _, name := range files {
		if r, ok := rules.Match(name); ok {
			inputs = append(inputs, Input{Path: name, Rule: r})
		}
	}
	if len(inputs) != 2 {
		t.Fatalf("expected 2 inputs, got %d (%v)", len(inputs), files)
	}

	out, err := storage.NewFSStorage(filepath.Join(root, "dist"))
	if err != nil {
		t.Fatal(err)
	}
	ret, err := Build(context.Background(), BuildOptions{Root: root, Inputs: inputs, Storage: out})
	if err != nil {
		t.Fatal(err)
	}
	if len(ret.Errors) > 0 {
		t.Fatal(ret.Errors)
	}

	m := manifest.New()
	m.Files.Outputs = ret.Outputs
	if v := m.File("images/logo.txt"); v != nil {
		t.Fatalf("expected nil without a variant, got %+v", v)
	}
	small := m.File("images/logo.txt", "small")
	if small == nil {
		t.Fatal("expected the small variant")
	}
	data, err := storage.ReadFile(out, small.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "HELLO" {
		t.Fatalf("variant must run over the base transform, got %q", data)
	}
	if !strings.HasPrefix(small.Path, "images/logo-small-") {
		t.Fatalf("unexpected variant path %s", small.Path)
	}
	if v := m.File("fonts/inter.woff2"); v == nil || !strings.HasSuffix(v.Path, ".woff2") {
		t.Fatalf("unexpected flat output %+v", v)
	}
	if len(ret.Written) != 3 {
		t.Fatalf("expected 3 written files, got %v", ret.Written)
	}
}

func TestBuildVariantFailure(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), []byte("a"))
	broken := func(context.Context, *Asset) (*Asset, error) { return nil, errors.New("boom") }
	rules, err := NewRules([]Rule{{Pattern: "*.txt", Variants: map[string]Func{"ok": Copy, "bad": broken}, DefaultVariant: "bad"}})
	if err != nil {
		t.Fatal(err)
	}
	r, _ := rules.Match("a.txt")
	out, err := storage.NewFSStorage(filepath.Join(root, "dist"))
	if err != nil {
		t.Fatal(err)
	}
	ret, err := Build(context.Background(), BuildOptions{Root: root, Inputs: []Input{{Path: "a.txt", Rule: r}}, Storage: out})
	if err != nil {
		t.Fatal(err)
	}
	if len(ret.Errors) != 1 {
		t.Fatalf("expected 1 error, got %v", ret.Errors)
	}
	output := ret.Outputs["a.txt"]
	if output == nil || len(output.Variants) != 1 || output.DefaultVariant != "" {
		t.Fatalf("unexpected output %+v", output)
	}
}

func TestBuildReserved(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "static", "app.js"), []byte("asset"))
	writeFile(t, filepath.Join(root, "static", "other.js"), []byte("other"))
	rules, err := NewRules([]Rule{{Pattern: "static/*.js", Transform: Copy}})
	if err != nil {
		t.Fatal(err)
	}
	r, _ := rules.Match("static/app.js")
	out, err := storage.NewFSStorage(filepath.Join(root, "dist"))
	if err != nil {
		t.Fatal(err)
	}
	if err := out.Put("app.js", strings.NewReader("script")); err != nil {
		t.Fatal(err)
	}

	ret, err := Build(context.Background(), BuildOptions{
		Root:      root,
		Inputs:    []Input{{Path: "static/app.js", Rule: r}, {Path: "static/other.js", Rule: r}},
		Storage:   out,
		FileNames: "[name]",
		Reserved:  map[string]string{"app.js": "src/app.ts"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(ret.Errors) != 1 || !errors.Is(ret.Errors[0], ErrCollision) {
		t.Fatalf("expected one collision, got %v", ret.Errors)
	}
	data, err := storage.ReadFile(out, "app.js")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "script" {
		t.Fatalf("a reserved output was overwritten with %q", data)
	}
	if _, ok := ret.Outputs["static/app.js"]; ok {
		t.Fatal("a colliding input has no output")
	}
	if v := ret.Outputs["static/other.js"]; v == nil || v.Path != "other.js" {
		t.Fatalf("unexpected output %+v", v)
	}
}

func TestNamed(t *testing.T) {
	fn, err := Named("minify|gzip")
	if err != nil {
		t.Fatal(err)
	}
	out, err := fn(context.Background(), &Asset{Name: "style.css", Data: []byte("a {\n  color: red;\n}\n")})
	if err != nil {
		t.Fatal(err)
	}
	if out.Name != "style.css.gz" {
		t.Fatalf("unexpected name %s", out.Name)
	}
	r, err := gzip.NewReader(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatal(err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != "a{color:red}" {
		t.Fatalf("unexpected content %q", data)
	}

	for _, name := range []string{"resize:x", "resize:0x0", "blur"} {
		if _, err := Named(name); err == nil {
			t.Errorf("expected an error for %q", name)
		}
	}
}

func TestResize(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 40, 20))
	for x := 0; x < 40; x++ {
		for y := 0; y < 20; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 6), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	fn, err := Named("resize:10x0")
	if err != nil {
		t.Fatal(err)
	}
	out, err := fn(context.Background(), &Asset{Name: "images/a.png", Data: buf.Bytes()})
	if err != nil {
		t.Fatal(err)
	}
	resized, err := png.Decode(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatal(err)
	}
	if b := resized.Bounds(); b.Dx() != 10 || b.Dy() != 5 {
		t.Fatalf("unexpected size %dx%d", b.Dx(), b.Dy())
	}
}
