package pagecache

import (
	"pagecache/internal/codec"
	"pagecache/internal/epoch"
	"pagecache/pkg/errs"
	"pagecache/pkg/fragstack"
	"pagecache/pkg/logstore"
	"pagecache/pkg/materializer"
	"pagecache/pkg/meta"
	"pagecache/pkg/pagetable"
)

// metaCodec adapts meta.Meta's own Encode/meta.Decode pair to the
// Codec[meta.Meta] shape the generic op helpers expect.
type metaCodec struct{}

func (metaCodec) Encode(m meta.Meta) []byte          { return m.Encode() }
func (metaCodec) Decode(b []byte) (meta.Meta, error) { return meta.Decode(b) }

// Key is the opaque head reference a caller must present to the next
// mutation on a pid: the page-table entry observed at the moment of
// the prior successful operation.
type Key[T any] = *pagetable.Entry[T]

// allocateOn picks pid (already reserved by the caller via
// table.Allocate(), or fixed for the meta page), writes Allocate(pid)
// followed by the anchor record, and installs a single-fragment
// Present entry.
func allocateOn[X materializer.Materializer[X]](
	table *pagetable.Table[X], lg *logstore.Store, pc Codec[X], pcodec codec.Codec,
	pid uint64, anchor X,
) (Key[X], uint64, error) {
	allocRes, err := lg.Reserve(logstore.KindAllocate, pid, nil)
	if err != nil {
		return nil, 0, err
	}
	if _, err := allocRes.Publish(); err != nil {
		return nil, 0, err
	}

	raw := pc.Encode(anchor)
	compressed, err := pcodec.Encode(raw)
	if err != nil {
		return nil, 0, errs.New(errs.Io, "pagecache.allocate", err)
	}
	anchorRes, err := lg.Reserve(logstore.KindReplace, pid, compressed)
	if err != nil {
		return nil, 0, err
	}
	lsn, err := anchorRes.Publish()
	if err != nil {
		return nil, 0, err
	}

	node := &fragstack.Node[X]{Value: anchor}
	entry := &pagetable.Entry[X]{State: pagetable.Present, Head: node, Links: 0}
	table.Install(pid, entry)

	return entry, lsn, nil
}

// linkOn attempts cap(key, fragment) on pid's in-memory chain first;
// only a winning CAS proceeds to reserve and publish the log record,
// so the log's record order for this pid always matches the
// successful-CAS order (never a losing attempt).
func linkOn[X materializer.Materializer[X]](
	table *pagetable.Table[X], lg *logstore.Store, pc Codec[X], pcodec codec.Codec,
	pid uint64, key Key[X], fragment X,
) (Key[X], uint64, error) {
	old := key
	node := &fragstack.Node[X]{Value: fragment, Next: old.Head}
	next := &pagetable.Entry[X]{State: pagetable.Present, Head: node, Links: old.Links + 1}

	if !table.CAS(pid, old, next) {
		current := table.Get(pid)
		return current, 0, errs.ErrCasFailed
	}

	raw := pc.Encode(fragment)
	compressed, err := pcodec.Encode(raw)
	if err != nil {
		return next, 0, errs.New(errs.Io, "pagecache.link", err)
	}
	res, err := lg.Reserve(logstore.KindLink, pid, compressed)
	if err != nil {
		return next, 0, err
	}
	lsn, err := res.Publish()
	if err != nil {
		return next, 0, err
	}
	return next, lsn, nil
}

// replaceOn installs a fresh single-fragment chain, deferring
// destruction of the displaced tail to the epoch domain, and writes a
// Replace record. Releasing the accountant's hold on the old chain's
// segments is left to the caller.
func replaceOn[X materializer.Materializer[X]](
	table *pagetable.Table[X], lg *logstore.Store, pc Codec[X], pcodec codec.Codec,
	dom *epoch.Domain, pid uint64, key Key[X], anchor X,
) (Key[X], uint64, error) {
	old := key
	node := &fragstack.Node[X]{Value: anchor}
	next := &pagetable.Entry[X]{State: pagetable.Present, Head: node, Links: 0}

	if !table.CAS(pid, old, next) {
		current := table.Get(pid)
		return current, 0, errs.ErrCasFailed
	}

	oldHead := old.Head
	dom.DeferDestroy(func() { _ = oldHead })
	dom.Advance()

	raw := pc.Encode(anchor)
	compressed, err := pcodec.Encode(raw)
	if err != nil {
		return next, 0, errs.New(errs.Io, "pagecache.replace", err)
	}
	res, err := lg.Reserve(logstore.KindReplace, pid, compressed)
	if err != nil {
		return next, 0, err
	}
	lsn, err := res.Publish()
	if err != nil {
		return next, 0, err
	}
	return next, lsn, nil
}

// getOn pulls a paged-out chain from disk if needed, then folds the
// materializer across anchor..latest (chain order) and returns the
// accumulator plus the current key. The accumulator is not cloned: for
// a single-fragment chain it is the stored anchor value itself, and
// for longer chains it is whatever Merge returns.
func getOn[X materializer.Materializer[X]](
	table *pagetable.Table[X], lg *logstore.Store, pc Codec[X], pcodec codec.Codec,
	pid uint64,
) (Key[X], X, int, error) {
	var zero X
	entry := table.Get(pid)
	if entry == nil || entry.State == pagetable.Free {
		return nil, zero, 0, errs.ErrUnknownPid
	}

	if entry.State == pagetable.PagedOut {
		pulled, err := pullChain[X](lg, pc, pcodec, entry)
		if err != nil {
			return nil, zero, 0, err
		}
		if table.CAS(pid, entry, pulled) {
			entry = pulled
		} else {
			entry = table.Get(pid)
		}
	}

	values := fragstack.Walk(entry.Head) // newest first, anchor last
	size := 0
	for i := len(values) - 1; i >= 0; i-- {
		size++
		if i == len(values)-1 {
			zero = values[i]
			continue
		}
		zero = zero.Merge(values[i])
	}
	return entry, zero, size, nil
}

func pullChain[X materializer.Materializer[X]](lg *logstore.Store, pc Codec[X], pcodec codec.Codec, entry *pagetable.Entry[X]) (*pagetable.Entry[X], error) {
	var head *fragstack.Node[X]
	// LogOffsets is anchor-first; build the stack tail-first so Head
	// ends up pointing at the most recent fragment, matching a
	// normally-built chain.
	for i := len(entry.LogOffsets) - 1; i >= 0; i-- {
		off := entry.LogOffsets[i]
		rec, err := readRecordAt(lg, off)
		if err != nil {
			return nil, err
		}
		raw, err := pcodec.Decode(rec)
		if err != nil {
			return nil, errs.New(errs.Corruption, "pagecache.pullChain", err)
		}
		val, err := pc.Decode(raw)
		if err != nil {
			return nil, errs.New(errs.Corruption, "pagecache.pullChain", err)
		}
		head = &fragstack.Node[X]{Value: val, Next: head}
	}
	return &pagetable.Entry[X]{State: pagetable.Present, Head: head, Links: len(entry.LogOffsets) - 1}, nil
}

// readRecordAt re-reads and decodes a single record at a known
// offset, used when pulling a paged-out chain back into memory.
func readRecordAt(lg *logstore.Store, offset uint64) ([]byte, error) {
	return lg.ReadPayloadAt(offset)
}

// foldEntry folds an already-Present entry's chain (anchor..newest,
// chain order) into a single accumulated value, without touching the
// log. Used to build the rewrite anchor for chain consolidation.
func foldEntry[X materializer.Materializer[X]](entry *pagetable.Entry[X]) X {
	values := fragstack.Walk(entry.Head) // newest first, anchor last
	var acc X
	for i := len(values) - 1; i >= 0; i-- {
		if i == len(values)-1 {
			acc = values[i]
			continue
		}
		acc = acc.Merge(values[i])
	}
	return acc
}

// freeOn installs a tombstone head, defers destruction of the live
// chain, and reserves a Free record. The pid is returned to the table
// free list by the caller once the epoch boundary has passed.
func freeOn[X materializer.Materializer[X]](
	table *pagetable.Table[X], lg *logstore.Store, dom *epoch.Domain,
	pid uint64, key Key[X],
) (uint64, error) {
	old := key
	tombstone := &pagetable.Entry[X]{State: pagetable.Free}
	if !table.CAS(pid, old, tombstone) {
		return 0, errs.ErrCasFailed
	}
	oldHead := old.Head
	dom.DeferDestroy(func() { _ = oldHead })
	dom.Advance()

	res, err := lg.Reserve(logstore.KindFree, pid, nil)
	if err != nil {
		return 0, err
	}
	return res.Publish()
}
