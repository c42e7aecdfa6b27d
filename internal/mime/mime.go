package mime

import (
	"path"
	"strings"
)

// Fallback is served for files with an unknown extension.
const Fallback = "application/octet-stream"

var typeExts = map[string][]string{
	"application/gzip":        {"gz"},
	"application/javascript;": {"js", "mjs"},
	"application/json;":       {"json", "map"},
	"application/pdf":         {"pdf"},
	"application/wasm":        {"wasm"},
	"application/xml;":        {"xml"},
	"application/x-brotli":    {"br"},
	"audio/mpeg":              {"mp3"},
	"audio/ogg":               {"ogg", "oga"},
	"audio/wav":               {"wav"},
	"font/otf":                {"otf"},
	"font/ttf":                {"ttf"},
	"font/woff":               {"woff"},
	"font/woff2":              {"woff2"},
	"image/avif":              {"avif"},
	"image/bmp":               {"bmp"},
	"image/gif":               {"gif"},
	"image/jpeg":              {"jpg", "jpeg"},
	"image/png":               {"png"},
	"image/svg+xml;":          {"svg"},
	"image/tiff":              {"tif", "tiff"},
	"image/webp":              {"webp"},
	"image/x-icon":            {"ico"},
	"text/css":                {"css"},
	"text/csv":                {"csv"},
	"text/html":               {"html", "htm"},
	"text/markdown":           {"md"},
	"text/plain":              {"txt"},
	"video/mp4":               {"mp4", "m4v"},
	"video/webm":              {"webm"},
}

var byExt = map[string]string{}

func init() {
	for t, exts := range typeExts {
		if strings.HasSuffix(t, ";") || strings.HasPrefix(t, "text/") {
			t = strings.TrimSuffix(t, ";") + "; charset=utf-8"
		}
		for _, ext := range exts {
			byExt["."+ext] = t
		}
	}
	typeExts = nil
}

// ContentType returns the MIME type of the file, or Fallback.
func ContentType(filename string) string {
	if t, ok := byExt[strings.ToLower(path.Ext(filename))]; ok {
		return t
	}
	return Fallback
}
