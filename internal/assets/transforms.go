package assets

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/disintegration/imaging"
	"github.com/esm-dev/assetpipe/internal/transform"
	"github.com/klauspost/compress/gzip"
)

// Named builds a transform from its configuration name. Names may be chained
// with `|`, e.g. `resize:320x0|gzip`.
//
//	copy          the identity transform
//	minify        minify css or js with esbuild
//	resize:WxH    resize an image; a zero dimension keeps the aspect ratio
//	gzip          gzip compress, appending `.gz`
//	brotli        brotli compress, appending `.br`
func Named(name string) (Func, error) {
	if strings.Contains(name, "|") {
		var chain []Func
		for _, part := range strings.Split(name, "|") {
			fn, err := Named(strings.TrimSpace(part))
			if err != nil {
				return nil, err
			}
			chain = append(chain, fn)
		}
		return Chain(chain...), nil
	}
	kind, arg, _ := strings.Cut(name, ":")
	switch kind {
	case "", "copy":
		return Copy, nil
	case "minify":
		return Minify, nil
	case "resize":
		w, h, err := parseSize(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid transform %q: %w", name, err)
		}
		return Resize(w, h), nil
	case "gzip":
		return Gzip, nil
	case "brotli":
		return Brotli, nil
	default:
		return nil, fmt.Errorf("unknown transform %q", name)
	}
}

// Chain runs the transforms in order.
func Chain(fns ...Func) Func {
	return func(ctx context.Context, in *Asset) (*Asset, error) {
		out := in
		for _, fn := range fns {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			var err error
			out, err = fn(ctx, out)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	}
}

func Copy(_ context.Context, in *Asset) (*Asset, error) {
	return in, nil
}

func Minify(_ context.Context, in *Asset) (*Asset, error) {
	data, err := transform.Minify(in.Name, in.Data)
	if err != nil {
		return nil, err
	}
	return &Asset{Name: in.Name, Data: data}, nil
}

// Resize returns a transform that scales an image to fit within w x h.
func Resize(w int, h int) Func {
	return func(_ context.Context, in *Asset) (*Asset, error) {
		format, err := imaging.FormatFromFilename(in.Name)
		if err != nil {
			return nil, err
		}
		img, err := imaging.Decode(bytes.NewReader(in.Data), imaging.AutoOrientation(true))
		if err != nil {
			return nil, err
		}
		if w > 0 && h > 0 {
			img = imaging.Fit(img, w, h, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, w, h, imaging.Lanczos)
		}
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, format); err != nil {
			return nil, err
		}
		return &Asset{Name: in.Name, Data: buf.Bytes()}, nil
	}
}

func Gzip(_ context.Context, in *Asset) (*Asset, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(in.Data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return &Asset{Name: in.Name + ".gz", Data: buf.Bytes()}, nil
}

func Brotli(_ context.Context, in *Asset) (*Asset, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.BestCompression)
	if _, err := w.Write(in.Data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return &Asset{Name: in.Name + ".br", Data: buf.Bytes()}, nil
}

func parseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("size %q must be WIDTHxHEIGHT", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w < 0 {
		return 0, 0, fmt.Errorf("invalid width %q", ws)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h < 0 {
		return 0, 0, fmt.Errorf("invalid height %q", hs)
	}
	if w == 0 && h == 0 {
		return 0, 0, fmt.Errorf("size %q has no dimension", s)
	}
	return w, h, nil
}

// splitName splits a slash path into directory, stem and extension.
func splitName(name string) (dir string, stem string, ext string) {
	dir = path.Dir(name)
	base := path.Base(name)
	ext = path.Ext(base)
	stem = strings.TrimSuffix(base, ext)
	return
}
