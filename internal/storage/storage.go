package storage

import (
	"bytes"
	"errors"
	"io"
	"time"
)

var ErrNotFound = errors.New("file not found")

// Stat is the metadata of a stored file.
type Stat interface {
	Size() int64
	ModTime() time.Time
}

// Storage stores build outputs and generated files under a root, addressed by
// slash-separated keys.
type Storage interface {
	Root() string
	Stat(key string) (Stat, error)
	Get(key string) (io.ReadCloser, Stat, error)
	List(prefix string) ([]string, error)
	Put(key string, content io.Reader) error
	Delete(key string) error
	// Clear removes everything under the root and returns the removed keys.
	Clear() ([]string, error)
}

// ReadFile reads the whole content of a stored file.
func ReadFile(s Storage, key string) ([]byte, error) {
	r, _, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// PutIfChanged writes data unless the stored file already has the same
// content, leaving its modification time untouched. It reports whether a
// write happened.
func PutIfChanged(s Storage, key string, data []byte) (bool, error) {
	current, err := ReadFile(s, key)
	if err == nil && bytes.Equal(current, data) {
		return false, nil
	}
	if err != nil && err != ErrNotFound {
		return false, err
	}
	if err := s.Put(key, bytes.NewReader(data)); err != nil {
		return false, err
	}
	return true, nil
}
