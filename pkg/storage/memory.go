package storage

import "sync"

// Memory implements Storage entirely in-process, writing nothing to
// disk — grounded on the teacher's MemoryStorage for the same :memory:
// use case. The page cache opens file storage even for
// Options.Temporary stores; Memory backs the log in tests.
type Memory struct {
	mu   sync.Mutex
	data []byte
}

// NewMemory returns an empty in-memory Storage.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if off < 0 || off > int64(len(m.data)) {
		return 0, wrapIOErr("storage.ReadAt", errShortRead)
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, wrapIOErr("storage.ReadAt", errShortRead)
	}
	return n, nil
}

func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	n := copy(m.data[off:end], p)
	return n, nil
}

func (m *Memory) Sync() error { return nil }

func (m *Memory) Size() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.data)), nil
}

func (m *Memory) Truncate(size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size <= int64(len(m.data)) {
		m.data = m.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, m.data)
	m.data = grown
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	return nil
}

var errShortRead = shortReadErr{}

type shortReadErr struct{}

func (shortReadErr) Error() string { return "storage: short read past end of in-memory buffer" }
