package storage

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ije/gox/utils"
)

var errInvalidKey = errors.New("invalid storage key")

// NewFSStorage creates a storage that keeps files under dir, creating the
// directory when missing.
func NewFSStorage(dir string) (Storage, error) {
	if dir == "" {
		return nil, errors.New("storage root is required")
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	return &fsStorage{root: root}, nil
}

type fsStorage struct {
	root string
}

func (s *fsStorage) Root() string {
	return s.root
}

// filename maps a key to a path under the root. Keys that clean to the root
// itself or climb out of it are rejected.
func (s *fsStorage) filename(key string) (string, error) {
	name := path.Clean("/" + filepath.ToSlash(key))[1:]
	if name == "" || strings.Contains(key, "\x00") {
		return "", errInvalidKey
	}
	if rel := filepath.ToSlash(key); rel == ".." || strings.HasPrefix(rel, "../") || strings.Contains(rel, "/../") {
		return "", errInvalidKey
	}
	return filepath.Join(s.root, filepath.FromSlash(name)), nil
}

func notFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, errInvalidKey) || strings.HasSuffix(err.Error(), "not a directory")
}

func (s *fsStorage) Stat(key string) (Stat, error) {
	filename, err := s.filename(key)
	if err != nil {
		return nil, ErrNotFound
	}
	fi, err := os.Lstat(filename)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if fi.IsDir() {
		return nil, ErrNotFound
	}
	return fi, nil
}

func (s *fsStorage) Get(key string) (io.ReadCloser, Stat, error) {
	filename, err := s.filename(key)
	if err != nil {
		return nil, nil, ErrNotFound
	}
	file, err := os.Open(filename)
	if err != nil {
		if notFound(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	fi, err := file.Stat()
	if err == nil && fi.IsDir() {
		err = ErrNotFound
	}
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	return file, fi, nil
}

// List returns the keys under the prefix directory in lexical order. A
// missing directory lists nothing.
func (s *fsStorage) List(prefix string) ([]string, error) {
	dir := strings.Trim(utils.CleanPath(prefix), "/")
	base := s.root
	if dir != "" {
		var err error
		if base, err = s.filename(dir); err != nil {
			return nil, err
		}
	}
	var keys []string
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == base && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// Put writes the content to a temporary file next to the target and renames
// it into place, so readers never observe a partial file.
func (s *fsStorage) Put(key string, content io.Reader) error {
	filename, err := s.filename(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	_, err = io.Copy(tmp, content)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmp.Name(), 0644)
	}
	if err == nil {
		err = os.Rename(tmp.Name(), filename)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (s *fsStorage) Delete(key string) error {
	filename, err := s.filename(key)
	if err != nil {
		return ErrNotFound
	}
	if err := os.Remove(filename); err != nil {
		if notFound(err) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *fsStorage) Clear() ([]string, error) {
	keys, err := s.List("")
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, entry.Name())); err != nil {
			return nil, err
		}
	}
	return keys, nil
}
