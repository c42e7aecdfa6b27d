package assets

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// skipDirs are never traversed when collecting source files.
var skipDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	".hg":          true,
	".svn":         true,
}

// Walk returns the slash paths, relative to root, of every regular file under
// root in lexical order. Dependency-manager and version-control directories
// are skipped, as is every directory in exclude.
func Walk(root string, exclude ...string) ([]string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	excluded := make(map[string]bool, len(exclude))
	for _, dir := range exclude {
		if dir == "" {
			continue
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		excluded[abs] = abs != root
		if real, err := filepath.EvalSymlinks(abs); err == nil {
			excluded[real] = real != root
		}
	}
	var files []string
	err = filepath.WalkDir(root, func(filename string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if filename != root && (skipDirs[d.Name()] || excluded[filename]) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, filename)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, "../") {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
