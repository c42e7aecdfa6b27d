package graph

import (
	"sync"
	"testing"
	"time"
)

func TestGraph(t *testing.T) {
	g := New()
	n := g.Node("/src/a.ts")
	if !n.Placeholder() {
		t.Fatal("a new node must be a placeholder")
	}
	if _, ok := g.ByFile("/root/src/a.ts"); ok {
		t.Fatal("a placeholder must not be indexed by file")
	}

	a := g.Attach("/src/a.ts", "/root/src/a.ts")
	if a != n {
		t.Fatal("attach must reuse the placeholder node")
	}
	if byFile, ok := g.ByFile("/root/src/a.ts"); !ok || byFile != a {
		t.Fatal("file index is not consistent with the url index")
	}
	if byURL, ok := g.ByURL("/src/a.ts"); !ok || byURL.FilePath() != "/root/src/a.ts" {
		t.Fatal("url index is not consistent with the file index")
	}

	mtime := time.Unix(1700000000, 0)
	a.Store(&Transform{Code: []byte("export {}"), Hash: "abcdefgh"}, mtime)
	if _, ok := a.Cached(mtime.Add(time.Second)); ok {
		t.Fatal("a newer mtime must miss the cache")
	}
	if ret, ok := a.Cached(mtime); !ok || ret.Hash != "abcdefgh" {
		t.Fatal("expected a cache hit")
	}
	if !a.LastModified().Equal(mtime) {
		t.Fatal("unexpected last modified time")
	}

	if n := g.Invalidate("/root/src/a.ts"); n != 1 {
		t.Fatalf("expected 1 invalidated node, got %d", n)
	}
	if _, ok := a.Cached(mtime); ok {
		t.Fatal("cache must be empty after invalidation")
	}
}

func TestGraphConcurrentNodes(t *testing.T) {
	g := New()
	var wg sync.WaitGroup
	nodes := make([]*ModuleNode, 16)
	for i := range nodes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			nodes[i] = g.Attach("/src/a.ts", "/root/src/a.ts")
		}(i)
	}
	wg.Wait()
	for _, n := range nodes[1:] {
		if n != nodes[0] {
			t.Fatal("concurrent callers must share one node")
		}
	}
	if len(g.Nodes()) != 1 {
		t.Fatalf("expected 1 node, got %d", len(g.Nodes()))
	}
}
