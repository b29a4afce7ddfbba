// Package storage provides the positional-I/O file abstraction the
// log is built on: concurrent positional reads, writes serialized by
// the caller's own offset discipline (the log's reservation protocol),
// and an in-memory backend. Snapshot files are written with package os
// directly, not through Storage.
package storage

import "pagecache/pkg/errs"

// Storage is the backing file for the segment log.
type Storage interface {
	// ReadAt reads len(p) bytes starting at off. Concurrent ReadAt
	// calls are safe without external synchronization on platforms
	// with pread; see doc comments on the platform-specific
	// implementations.
	ReadAt(p []byte, off int64) (int, error)
	// WriteAt writes p at off. Callers serialize writers themselves
	// via the log's reservation protocol — WriteAt does not claim
	// any range on the caller's behalf.
	WriteAt(p []byte, off int64) (int, error)
	// Sync flushes pending writes to stable storage.
	Sync() error
	// Size returns the current file size.
	Size() (int64, error)
	// Truncate grows or shrinks the file to size.
	Truncate(size int64) error
	// Close releases any resources.
	Close() error
}

// Open opens or creates the positional-I/O backed Storage at path.
func Open(path string) (Storage, error) {
	return openFile(path)
}

func wrapIOErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return errs.New(errs.Io, op, err)
}
