package fsutil

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryFileSystem_RoundTrip(t *testing.T) {
	fs := NewMemoryFileSystem()
	if err := fs.WriteFile("a/b/file.txt", []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	data, err := fs.ReadFile("a/b/file.txt")
	if err != nil || string(data) != "hello" {
		t.Fatalf("read = %q, err = %v", data, err)
	}
	if !fs.Exists("a/b/file.txt") {
		t.Error("Exists should see the written file")
	}
	if fs.Exists("a/b/other.txt") {
		t.Error("Exists should miss absent files")
	}
}

func TestMemoryFileSystem_OpenAndCreate(t *testing.T) {
	fs := NewMemoryFileSystem()
	w, err := fs.Create("out.bin")
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("part1 "))
	w.Write([]byte("part2"))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := fs.Open("out.bin")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	if string(data) != "part1 part2" {
		t.Errorf("content = %q", data)
	}

	info, err := fs.Stat("out.bin")
	if err != nil || info.Size() != int64(len("part1 part2")) {
		t.Errorf("stat = %v, err = %v", info, err)
	}
}

func TestMemoryFileSystem_ReadDir(t *testing.T) {
	fs := NewMemoryFileSystem()
	fs.MkdirAll("root/sub", 0755)
	fs.WriteFile("root/a.txt", []byte("a"), 0644)
	fs.WriteFile("root/b.txt", []byte("b"), 0644)
	fs.WriteFile("root/sub/c.txt", []byte("c"), 0644)

	entries, err := fs.ReadDir("root")
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	want := []string{"a.txt", "b.txt", "sub"}
	if len(names) != len(want) {
		t.Fatalf("entries = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("entries = %v, want %v", names, want)
			break
		}
	}

	if _, err := fs.ReadDir("missing"); err == nil {
		t.Error("ReadDir on a missing directory should fail")
	}
}

func TestMemoryFileSystem_Remove(t *testing.T) {
	fs := NewMemoryFileSystem()
	fs.WriteFile("x", []byte("x"), 0644)
	if err := fs.Remove("x"); err != nil {
		t.Fatal(err)
	}
	if err := fs.Remove("x"); !os.IsNotExist(err) {
		t.Errorf("second remove err = %v, want not-exist", err)
	}
}

func TestOSFileSystem(t *testing.T) {
	fs := OSFileSystem{}
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "f.txt")

	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteFile(path, []byte("on disk"), 0644); err != nil {
		t.Fatal(err)
	}
	data, err := fs.ReadFile(path)
	if err != nil || string(data) != "on disk" {
		t.Fatalf("read = %q, err = %v", data, err)
	}
	if !fs.Exists(path) {
		t.Error("Exists should see the file")
	}
	if err := fs.Remove(path); err != nil {
		t.Fatal(err)
	}
	if fs.Exists(path) {
		t.Error("file should be gone")
	}
}
