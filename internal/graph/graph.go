package graph

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Transform is the cached output of a module.
type Transform struct {
	Code []byte
	Map  []byte
	Hash string
	// ContentType is set for file assets; scripts are always served as
	// javascript.
	ContentType string
}

type entry struct {
	result  *Transform
	modTime time.Time
}

// ModuleNode is a servable module identified by its URL. A node without a
// file path is a placeholder.
type ModuleNode struct {
	URL      string
	filePath atomic.Pointer[string]
	cached   atomic.Pointer[entry]
}

// FilePath returns the absolute file path of the node, or an empty string for
// a placeholder.
func (n *ModuleNode) FilePath() string {
	if p := n.filePath.Load(); p != nil {
		return *p
	}
	return ""
}

// Placeholder reports whether the node has not been attached to a file yet.
func (n *ModuleNode) Placeholder() bool {
	return n.filePath.Load() == nil
}

// LastModified returns the modification time of the file the cached
// transform was produced from.
func (n *ModuleNode) LastModified() time.Time {
	if e := n.cached.Load(); e != nil {
		return e.modTime
	}
	return time.Time{}
}

// Cached returns the cached transform if it was produced from a file with the
// given modification time.
func (n *ModuleNode) Cached(modTime time.Time) (*Transform, bool) {
	e := n.cached.Load()
	if e == nil || !e.modTime.Equal(modTime) {
		return nil, false
	}
	return e.result, true
}

// Store caches the transform under the modification time of its source file.
func (n *ModuleNode) Store(result *Transform, modTime time.Time) {
	n.cached.Store(&entry{result: result, modTime: modTime})
}

// Reset drops the cached transform.
func (n *ModuleNode) Reset() {
	n.cached.Store(nil)
}

// Graph indexes module nodes by URL and by absolute file path. Writes are
// idempotent: concurrent callers creating the same node share one instance.
type Graph struct {
	byURL  sync.Map
	byFile sync.Map
}

func New() *Graph {
	return &Graph{}
}

// Node returns the node for the URL, creating a placeholder if needed.
func (g *Graph) Node(url string) *ModuleNode {
	if v, ok := g.byURL.Load(url); ok {
		return v.(*ModuleNode)
	}
	v, _ := g.byURL.LoadOrStore(url, &ModuleNode{URL: url})
	return v.(*ModuleNode)
}

// Attach returns the node for the URL and binds it to the file path, keeping
// both indices consistent.
func (g *Graph) Attach(url string, filePath string) *ModuleNode {
	n := g.Node(url)
	if n.FilePath() != filePath {
		if old := n.FilePath(); old != "" {
			g.byFile.CompareAndDelete(old, n)
		}
		n.filePath.Store(&filePath)
		n.Reset()
	}
	g.byFile.Store(filePath, n)
	return n
}

// ByURL returns the node for the URL.
func (g *Graph) ByURL(url string) (*ModuleNode, bool) {
	v, ok := g.byURL.Load(url)
	if !ok {
		return nil, false
	}
	return v.(*ModuleNode), true
}

// ByFile returns the node attached to the file path.
func (g *Graph) ByFile(filePath string) (*ModuleNode, bool) {
	v, ok := g.byFile.Load(filePath)
	if !ok {
		return nil, false
	}
	return v.(*ModuleNode), true
}

// Invalidate drops the cached transforms of every node attached to the file
// path, including variant nodes that share the file.
func (g *Graph) Invalidate(filePath string) int {
	n := 0
	g.byURL.Range(func(_, v any) bool {
		node := v.(*ModuleNode)
		if node.FilePath() == filePath && node.cached.Load() != nil {
			node.Reset()
			n++
		}
		return true
	})
	return n
}

// Nodes returns a snapshot of all nodes ordered by URL.
func (g *Graph) Nodes() []*ModuleNode {
	var nodes []*ModuleNode
	g.byURL.Range(func(_, v any) bool {
		nodes = append(nodes, v.(*ModuleNode))
		return true
	})
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].URL < nodes[j].URL
	})
	return nodes
}
