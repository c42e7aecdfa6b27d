package resolver

import "sync"

// Resolution is the outcome of resolving one specifier from one directory.
type Resolution struct {
	Specifier string
	// FilePath is the absolute path the specifier resolved to.
	FilePath string
	// URL is the servable path of FilePath, or the specifier itself when the
	// resolution failed or the file lies outside both roots.
	URL string
	// Failed is set when the specifier could not be resolved to a file.
	Failed bool
	// Outside is set when the file exists but lies outside both roots.
	Outside bool
}

// Rewritten reports whether the resolution changes the specifier.
func (r Resolution) Rewritten() bool {
	return !r.Failed && !r.Outside && r.URL != r.Specifier
}

// Cache memoizes resolutions per (specifier, importer directory). Entries are
// written once; a racing duplicate write keeps the first value.
type Cache struct {
	entries sync.Map
}

func NewCache() *Cache {
	return &Cache{}
}

func cacheKey(specifier string, dir string) string {
	return dir + "\x00" + specifier
}

func (c *Cache) Load(specifier string, dir string) (Resolution, bool) {
	v, ok := c.entries.Load(cacheKey(specifier, dir))
	if !ok {
		return Resolution{}, false
	}
	return v.(Resolution), true
}

func (c *Cache) Store(dir string, r Resolution) Resolution {
	v, _ := c.entries.LoadOrStore(cacheKey(r.Specifier, dir), r)
	return v.(Resolution)
}

// ForgetFailures drops every failed resolution so it is retried, e.g. after a
// missing file is created.
func (c *Cache) ForgetFailures() int {
	n := 0
	c.entries.Range(func(key, value any) bool {
		if value.(Resolution).Failed {
			c.entries.Delete(key)
			n++
		}
		return true
	})
	return n
}

// Len returns the number of cached resolutions.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
