//go:build unix || linux || darwin || freebsd || openbsd || netbsd

package storage

import (
	"os"

	"golang.org/x/sys/unix"
)

// fileStorage backs the log with raw pread/pwrite: concurrent
// ReadAt calls need no lock because pread is atomic with respect to
// the file's current offset on these platforms, matching the
// concurrency model's "no handle-level lock is needed on systems
// with pread/pwrite" requirement.
type fileStorage struct {
	f *os.File
}

func openFile(path string) (Storage, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, wrapIOErr("storage.Open", err)
	}
	return &fileStorage{f: f}, nil
}

func (s *fileStorage) ReadAt(p []byte, off int64) (int, error) {
	n, err := unix.Pread(int(s.f.Fd()), p, off)
	return n, wrapIOErr("storage.ReadAt", err)
}

func (s *fileStorage) WriteAt(p []byte, off int64) (int, error) {
	n, err := unix.Pwrite(int(s.f.Fd()), p, off)
	return n, wrapIOErr("storage.WriteAt", err)
}

func (s *fileStorage) Sync() error {
	return wrapIOErr("storage.Sync", unix.Fsync(int(s.f.Fd())))
}

func (s *fileStorage) Size() (int64, error) {
	fi, err := s.f.Stat()
	if err != nil {
		return 0, wrapIOErr("storage.Size", err)
	}
	return fi.Size(), nil
}

func (s *fileStorage) Truncate(size int64) error {
	return wrapIOErr("storage.Truncate", s.f.Truncate(size))
}

func (s *fileStorage) Close() error {
	return wrapIOErr("storage.Close", s.f.Close())
}
