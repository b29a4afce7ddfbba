package storage

import (
	"bytes"
	"path/filepath"
	"testing"
)

func testBackends(t *testing.T) map[string]Storage {
	t.Helper()
	file, err := Open(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("Open file storage: %v", err)
	}
	t.Cleanup(func() { file.Close() })
	return map[string]Storage{
		"file":   file,
		"memory": NewMemory(),
	}
}

func TestWriteAtReadAtRoundTrip(t *testing.T) {
	for name, s := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.WriteAt([]byte("hello"), 10); err != nil {
				t.Fatalf("WriteAt: %v", err)
			}
			got := make([]byte, 5)
			if _, err := s.ReadAt(got, 10); err != nil {
				t.Fatalf("ReadAt: %v", err)
			}
			if !bytes.Equal(got, []byte("hello")) {
				t.Fatalf("ReadAt = %q, want %q", got, "hello")
			}
		})
	}
}

func TestTruncateGrowsAndShrinks(t *testing.T) {
	for name, s := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Truncate(100); err != nil {
				t.Fatalf("Truncate grow: %v", err)
			}
			size, err := s.Size()
			if err != nil || size != 100 {
				t.Fatalf("Size = %d, %v; want 100, nil", size, err)
			}
			if err := s.Truncate(10); err != nil {
				t.Fatalf("Truncate shrink: %v", err)
			}
			size, _ = s.Size()
			if size != 10 {
				t.Fatalf("Size after shrink = %d, want 10", size)
			}
		})
	}
}
