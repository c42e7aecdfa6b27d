package storage

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFSStorage(t *testing.T) {
	root := filepath.Join(t.TempDir(), "dist")
	fs, err := NewFSStorage(root)
	if err != nil {
		t.Fatal(err)
	}

	err = fs.Put("entry.js", bytes.NewBufferString("Hello World!"))
	if err != nil {
		t.Fatal(err)
	}

	err = fs.Put("assets/logo.png", bytes.NewBufferString("Hello World!"))
	if err != nil {
		t.Fatal(err)
	}

	fi, err := fs.Stat("entry.js")
	if err != nil {
		t.Fatal(err)
	}

	if fi.Size() != 12 {
		t.Fatalf("unexpected size %d, want 12", fi.Size())
	}

	f, fi, err := fs.Get("entry.js")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if fi.Size() != 12 {
		t.Fatalf("unexpected size %d, want 12", fi.Size())
	}

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}

	if string(data) != "Hello World!" {
		t.Fatalf("unexpected content %q", string(data))
	}

	keys, err := fs.List("")
	if err != nil {
		t.Fatal(err)
	}

	if len(keys) != 2 {
		t.Fatalf("unexpected key count %d, want 2", len(keys))
	}

	keys, err = fs.List("assets/")
	if err != nil {
		t.Fatal(err)
	}

	if len(keys) != 1 || keys[0] != "assets/logo.png" {
		t.Fatalf("unexpected keys %v, want [assets/logo.png]", keys)
	}

	err = fs.Delete("entry.js")
	if err != nil {
		t.Fatal(err)
	}

	_, err = fs.Stat("entry.js")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	removed, err := fs.Clear()
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0] != "assets/logo.png" {
		t.Fatalf("unexpected removed keys %v", removed)
	}
	if entries, _ := os.ReadDir(root); len(entries) != 0 {
		t.Fatalf("root should be empty, got %d entries", len(entries))
	}
}

func TestFSStorageEscape(t *testing.T) {
	fs, err := NewFSStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.Put("../escape.txt", bytes.NewBufferString("x")); err == nil {
		t.Fatal("writing outside the root must fail")
	}
	if _, err := fs.Stat("../../etc/passwd"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutIfChanged(t *testing.T) {
	fs, err := NewFSStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	written, err := PutIfChanged(fs, "gen/a.js", []byte("export const a = 1\n"))
	if err != nil || !written {
		t.Fatalf("expected a write, got %v, %v", written, err)
	}
	fi, err := fs.Stat("gen/a.js")
	if err != nil {
		t.Fatal(err)
	}
	mtime := fi.ModTime()

	time.Sleep(10 * time.Millisecond)
	written, err = PutIfChanged(fs, "gen/a.js", []byte("export const a = 1\n"))
	if err != nil || written {
		t.Fatalf("expected no write, got %v, %v", written, err)
	}
	fi, err = fs.Stat("gen/a.js")
	if err != nil {
		t.Fatal(err)
	}
	if !fi.ModTime().Equal(mtime) {
		t.Fatal("modification time changed without a write")
	}
}
