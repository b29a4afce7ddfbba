// Package metrics is a purely observational set of atomic counters for
// the page cache. Nothing in the core ever branches on a counter's
// value.
package metrics

import "sync/atomic"

// Registry holds one store's counters. The zero value is ready to use.
type Registry struct {
	AllocateTotal     atomic.Uint64
	LinkTotal         atomic.Uint64
	CasFailedTotal    atomic.Uint64
	ReplaceTotal      atomic.Uint64
	FreeTotal         atomic.Uint64
	BytesFlushed      atomic.Uint64
	SegmentsReclaimed atomic.Uint64
	SnapshotsWritten  atomic.Uint64
}

// New returns a ready Registry.
func New() *Registry { return &Registry{} }

// Snapshot is a point-in-time copy of every counter, safe to log or
// serialize without racing further increments.
type Snapshot struct {
	AllocateTotal     uint64
	LinkTotal         uint64
	CasFailedTotal    uint64
	ReplaceTotal      uint64
	FreeTotal         uint64
	BytesFlushed      uint64
	SegmentsReclaimed uint64
	SnapshotsWritten  uint64
}

// Snapshot reads every counter.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		AllocateTotal:     r.AllocateTotal.Load(),
		LinkTotal:         r.LinkTotal.Load(),
		CasFailedTotal:    r.CasFailedTotal.Load(),
		ReplaceTotal:      r.ReplaceTotal.Load(),
		FreeTotal:         r.FreeTotal.Load(),
		BytesFlushed:      r.BytesFlushed.Load(),
		SegmentsReclaimed: r.SegmentsReclaimed.Load(),
		SnapshotsWritten:  r.SnapshotsWritten.Load(),
	}
}
