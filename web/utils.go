package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/esm-dev/assetpipe/internal/graph"
	"github.com/ije/gox/utils"
)

// etagOf returns the weak entity tag of a cached transform.
func etagOf(t *graph.Transform) string {
	return `W/"` + t.Hash + `"`
}

// etagMatch reports whether the If-None-Match header names the tag. Weak
// comparison is used, so `W/"x"` and `"x"` match.
func etagMatch(header http.Header, etag string) bool {
	ifNoneMatch := header.Get("If-None-Match")
	if ifNoneMatch == "" {
		return false
	}
	if strings.TrimSpace(ifNoneMatch) == "*" {
		return true
	}
	want := strings.TrimPrefix(etag, "W/")
	rest := ifNoneMatch
	for rest != "" {
		var tag string
		tag, rest = utils.SplitByFirstByte(rest, ',')
		if strings.TrimPrefix(strings.TrimSpace(tag), "W/") == want {
			return true
		}
	}
	return false
}

func moduleResponse(t *graph.Transform, header http.Header) *Response {
	h := http.Header{}
	h.Set("Content-Type", "application/javascript; charset=utf-8")
	return cachedResponse(t, header, h)
}

func fileResponse(t *graph.Transform, header http.Header) *Response {
	h := http.Header{}
	h.Set("Content-Type", t.ContentType)
	return cachedResponse(t, header, h)
}

func cachedResponse(t *graph.Transform, header http.Header, h http.Header) *Response {
	etag := etagOf(t)
	h.Set("Cache-Control", "no-cache")
	h.Set("ETag", etag)
	if etagMatch(header, etag) {
		h.Del("Content-Type")
		return &Response{Status: http.StatusNotModified, Header: h}
	}
	return &Response{Status: http.StatusOK, Header: h, Body: t.Code}
}

func textResponse(status int, message string) *Response {
	h := http.Header{}
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	return &Response{Status: status, Header: h, Body: []byte(message)}
}

func writeResponse(w http.ResponseWriter, r *http.Request, resp *Response) {
	header := w.Header()
	for key, values := range resp.Header {
		header[key] = values
	}
	if resp.Body != nil {
		header.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}
	w.WriteHeader(resp.Status)
	if r.Method != http.MethodHead && resp.Body != nil {
		w.Write(resp.Body)
	}
}
