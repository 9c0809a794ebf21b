package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSizeLimitedWriterStaysUnderCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	w, err := newSizeLimitedWriter(path, 1)
	if err != nil {
		t.Fatalf("newSizeLimitedWriter() error = %v", err)
	}
	defer w.Close()

	chunk := []byte(strings.Repeat("x", 400<<10))
	for i := 0; i < 4; i++ {
		if _, err := w.Write(chunk); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Size() > 1<<20 {
		t.Fatalf("log size = %d, want <= 1MB", info.Size())
	}
}

func TestSizeLimitedWriterStartsOverNotAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	w, err := newSizeLimitedWriter(path, 1)
	if err != nil {
		t.Fatalf("newSizeLimitedWriter() error = %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte(strings.Repeat("a", 900<<10))); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	// This write busts the cap; the file restarts with only this payload.
	fresh := strings.Repeat("b", 200<<10)
	if _, err := w.Write([]byte(fresh)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != fresh {
		t.Fatalf("file len = %d, want only the post-truncate write (%d bytes)", len(data), len(fresh))
	}
}

func TestSizeLimitedWriterReopensAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	w, err := newSizeLimitedWriter(path, 1)
	if err != nil {
		t.Fatalf("newSizeLimitedWriter() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := w.Write([]byte("after close")); err != nil {
		t.Fatalf("Write(after close) error = %v", err)
	}
}
