package pipeline

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// codegenDelay debounces dev codegen after a burst of file events.
const codegenDelay = 100 * time.Millisecond

var skipWatchDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	".hg":          true,
	".svn":         true,
}

// Watch watches the roots until ctx is done. A changed file drops the cached
// transforms of its nodes; a created file also forgets cached resolution
// failures. When a codegen directory is configured, dev stubs are regenerated
// after files are created, removed or renamed.
func (p *Pipeline) Watch(ctx context.Context, onChange func(filename string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	roots := []string{p.sandbox.Root()}
	if ws := p.sandbox.WorkspaceRoot(); ws != "" {
		roots = append(roots, ws)
	}
	for _, root := range roots {
		if err := p.watchDirs(w, root); err != nil {
			return err
		}
	}
	p.log.Debugf("watcher: started on %v", roots)

	var timer *time.Timer
	var timerC <-chan time.Time
	scheduleCodegen := func() {
		if p.config.CodegenDir == "" {
			return
		}
		if timer == nil {
			timer = time.NewTimer(codegenDelay)
			timerC = timer.C
		} else {
			timer.Reset(codegenDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			p.log.Debugf("watcher: stopped")
			return nil

		case <-timerC:
			written, pruned, err := p.Codegen(true, true)
			if err != nil {
				p.log.Warnf("watcher: codegen: %v", err)
			} else if len(written)+len(pruned) > 0 {
				p.log.Infof("codegen: %d stubs written, %d pruned", len(written), len(pruned))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if p.ignored(ev.Name) {
						continue
					}
					if err := p.watchDirs(w, ev.Name); err != nil {
						p.log.Warnf("watcher: add %s: %v", ev.Name, err)
					}
					scheduleCodegen()
					continue
				}
				if n := p.resolver.Cache().ForgetFailures(); n > 0 {
					p.log.Debugf("watcher: forgot %d failed resolutions", n)
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if p.ignored(filepath.Dir(ev.Name)) {
				continue
			}
			if n := p.graph.Invalidate(ev.Name); n > 0 {
				p.log.Debugf("watcher: invalidated %d nodes of %s", n, ev.Name)
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleCodegen()
			}
			if onChange != nil {
				onChange(ev.Name)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			p.log.Errorf("watcher: %v", err)
		}
	}
}

// ignored reports whether a directory is skipped by the watcher: build and
// codegen output, and dependency or version-control directories.
func (p *Pipeline) ignored(dir string) bool {
	for _, excluded := range p.excluded() {
		if _, ok := relWithin(excluded, dir); ok {
			return true
		}
	}
	for _, root := range []string{p.sandbox.Root(), p.sandbox.WorkspaceRoot()} {
		if root == "" {
			continue
		}
		if rel, ok := relWithin(root, dir); ok {
			for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
				if skipWatchDirs[seg] {
					return true
				}
			}
			return false
		}
	}
	return false
}

// relWithin returns the path of dir relative to root when dir is root or
// lies under it.
func relWithin(root string, dir string) (string, bool) {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

func (p *Pipeline) watchDirs(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && p.ignored(path) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
