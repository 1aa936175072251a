package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_OpenAppend(t *testing.T) {
	dir := t.TempDir()
	osfs := OSFileSystem{}
	path := filepath.Join(dir, "nested", "log.csv")

	if err := osfs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	for _, chunk := range []string{"a,b\n", "1,2\n"} {
		w, err := osfs.OpenAppend(path)
		if err != nil {
			t.Fatalf("OpenAppend: %v", err)
		}
		if _, err := w.Write([]byte(chunk)); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	data, err := osfs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "a,b\n1,2\n" {
		t.Errorf("content = %q, want appended chunks", data)
	}
	if !osfs.Exists(path) {
		t.Error("Exists() = false for written file")
	}
	if osfs.Exists(filepath.Join(dir, "missing")) {
		t.Error("Exists() = true for missing file")
	}
}

func TestMemoryFileSystem_AppendVisibleBeforeClose(t *testing.T) {
	m := NewMemoryFileSystem()
	if err := m.MkdirAll("/logs", 0755); err != nil {
		t.Fatal(err)
	}

	w, err := m.OpenAppend("/logs/run.csv")
	if err != nil {
		t.Fatalf("OpenAppend: %v", err)
	}
	if _, err := w.Write([]byte("header\n")); err != nil {
		t.Fatal(err)
	}

	data, err := m.ReadFile("/logs/run.csv")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "header\n" {
		t.Errorf("content = %q", data)
	}

	w.Close()
	if _, err := w.Write([]byte("late")); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("write after close err = %v, want fs.ErrClosed", err)
	}
	if m.Opens() != 1 {
		t.Errorf("Opens() = %d, want 1", m.Opens())
	}
}

func TestMemoryFileSystem_OpenAppendMissingDir(t *testing.T) {
	m := NewMemoryFileSystem()
	if _, err := m.OpenAppend("/nowhere/run.csv"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, want fs.ErrNotExist", err)
	}
}

func TestMemoryFileSystem_WriteError(t *testing.T) {
	m := NewMemoryFileSystem()
	m.MkdirAll("/logs", 0755)
	w, err := m.OpenAppend("/logs/run.csv")
	if err != nil {
		t.Fatal(err)
	}

	injected := errors.New("no space left on device")
	m.SetWriteError(injected)
	if _, err := w.Write([]byte("row\n")); !errors.Is(err, injected) {
		t.Errorf("err = %v, want injected error", err)
	}

	m.SetWriteError(nil)
	if _, err := w.Write([]byte("row\n")); err != nil {
		t.Errorf("write after recovery: %v", err)
	}
	data, _ := m.ReadFile("/logs/run.csv")
	if string(data) != "row\n" {
		t.Errorf("content = %q, want only the recovered write", data)
	}
}

func TestMemoryFileSystem_ExistsAndFiles(t *testing.T) {
	m := NewMemoryFileSystem()
	m.MkdirAll("/a/b/c", 0755)

	for _, dir := range []string{"/a", "/a/b", "/a/b/c"} {
		if !m.Exists(dir) {
			t.Errorf("Exists(%q) = false", dir)
		}
	}
	if _, err := m.ReadFile("/a/b/none"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ReadFile missing err = %v", err)
	}

	w, _ := m.OpenAppend("/a/b/c/../c/x.csv")
	w.Close()
	files := m.Files()
	if len(files) != 1 || files[0] != "/a/b/c/x.csv" {
		t.Errorf("Files() = %v, want cleaned path", files)
	}
}

func TestWithinDir(t *testing.T) {
	base := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"direct child", filepath.Join(base, "run.csv"), false},
		{"nested child", filepath.Join(base, "a", "run.csv"), false},
		{"dot segments stay inside", filepath.Join(base, "a", "..", "run.csv"), false},
		{"parent escape", filepath.Join(base, "..", "run.csv"), true},
		{"deep escape", filepath.Join(base, "a", "..", "..", "..", "etc", "passwd"), true},
		{"dir itself", base, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithinDir(tt.path, base)
			if (err != nil) != tt.wantErr {
				t.Errorf("WithinDir(%q) err = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}
