package transform

import (
	"strings"
	"testing"
)

func TestTransform(t *testing.T) {
	ret, err := Transform("app.ts", []byte("import { b } from './b.ts'\nconst n: number = b + 1\nexport default n\n"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	code := string(ret.Code)
	if strings.Contains(code, ": number") {
		t.Fatalf("types are not stripped: %s", code)
	}
	if !strings.Contains(code, "./b.ts") {
		t.Fatalf("import specifier is lost: %s", code)
	}
	if ret.Map != nil {
		t.Fatal("source map should not be emitted")
	}
}

func TestTransformJSX(t *testing.T) {
	ret, err := Transform("view.tsx", []byte("export const View = () => <div class=\"x\">hi</div>\n"), Options{JSXImportSource: "preact"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(ret.Code), "preact/jsx-runtime") {
		t.Fatalf("jsx runtime import is missing: %s", ret.Code)
	}
}

func TestTransformSourceMap(t *testing.T) {
	ret, err := Transform("app.ts", []byte("export const a: string = 'a'\n"), Options{SourceMap: true, SourcesContent: true, Sourcefile: "../src/app.ts"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(ret.Map), "../src/app.ts") {
		t.Fatalf("source map does not reference the source file: %s", ret.Map)
	}
	if !strings.Contains(string(ret.Map), "sourcesContent") {
		t.Fatalf("source map does not include sources content: %s", ret.Map)
	}
	inline := InlineSourceMap(ret.Code, ret.Map)
	if !strings.Contains(string(inline), "//# sourceMappingURL=data:application/json;base64,") {
		t.Fatalf("inline source map is missing: %s", inline)
	}
}

func TestTransformError(t *testing.T) {
	_, err := Transform("bad.ts", []byte("export const = ;"), Options{})
	if err == nil {
		t.Fatal("expected a syntax error")
	}
	if !strings.HasPrefix(err.Error(), "bad.ts:1:") {
		t.Fatalf("error should carry the location: %v", err)
	}
}

func TestCheckFormat(t *testing.T) {
	tests := []struct {
		source string
		legacy bool
	}{
		{"import a from './a'\n", false},
		{"const {\n  a,\n  b\n} = require('./lib')\n", true},
		{"var fs = require(\"fs\")\n", true},
		{"module.exports = { a: 1 }\n", true},
		{"// const x = require in a comment is fine\nexport {}\n", false},
	}
	for _, tt := range tests {
		if err := CheckFormat([]byte(tt.source)); (err != nil) != tt.legacy {
			t.Errorf("CheckFormat(%q) = %v, want legacy %v", tt.source, err, tt.legacy)
		}
	}
}

func TestHash(t *testing.T) {
	code := []byte("export default 1\n")
	a := Hash("/src/a.ts", code)
	b := Hash("/src/b.ts", code)
	if a == b {
		t.Fatal("identical content at different paths must hash differently")
	}
	if a != Hash("/src/a.ts", code) {
		t.Fatal("hash must be deterministic")
	}
	if len(a) != 8 {
		t.Fatalf("unexpected hash length %d", len(a))
	}
}

func TestMinify(t *testing.T) {
	css, err := Minify("style.css", []byte("body {\n  color: red;\n}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(css)) != "body{color:red}" {
		t.Fatalf("unexpected minified css %q", css)
	}
	if _, err := Minify("logo.png", []byte{0x89}); err == nil {
		t.Fatal("expected an error for an unsupported file")
	}
}
