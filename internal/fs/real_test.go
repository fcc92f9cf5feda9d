package fs

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestRealWriteFileAtomicRoundTrip(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	path := filepath.Join(t.TempDir(), "data.bin")
	payload := []byte("atomic payload")

	if err := fsys.WriteFileAtomic(path, payload, 0o644); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}

	got, err := fsys.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	if !bytes.Equal(payload, got) {
		t.Fatalf("expected %q, got %q", payload, got)
	}

	// Overwriting is atomic too.
	if err := fsys.WriteFileAtomic(path, []byte("v2"), 0o644); err != nil {
		t.Fatalf("second WriteFileAtomic failed: %v", err)
	}

	got, _ = fsys.ReadFile(path)
	if string(got) != "v2" {
		t.Fatalf("expected v2, got %q", got)
	}
}

func TestRealOpenAndRemove(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	path := filepath.Join(t.TempDir(), "data.bin")

	if err := fsys.WriteFileAtomic(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}

	f, err := fsys.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("reading: %v", err)
	}

	_ = f.Close()

	if string(data) != "x" {
		t.Fatalf("expected x, got %q", data)
	}

	if err := fsys.Remove(path); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if _, err := fsys.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file should be gone, got %v", err)
	}
}

func TestRealMkdirAll(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	path := filepath.Join(t.TempDir(), "a", "b", "c")

	if err := fsys.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	info, err := fsys.Stat(path)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected a directory, got %v (%v)", info, err)
	}
}
