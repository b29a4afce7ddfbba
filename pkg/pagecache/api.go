package pagecache

import (
	"pagecache/internal/epoch"
	"pagecache/pkg/membudget"
	"pagecache/pkg/meta"
)

// Allocate reserves a fresh pid, writes its anchor fragment, and
// installs a single-fragment Present entry. The returned Key is the
// opaque head reference the next Link/Replace/Free on this pid must
// present.
func (c *Cache[T]) Allocate(anchor T) (pid uint64, key Key[T], err error) {
	pid = c.table.Allocate()
	key, lsn, err := allocateOn(c.table, c.log, c.pcodec, c.payload, pid, anchor)
	if err != nil {
		return 0, nil, err
	}
	c.recordOffsets(pid, lsn, lsn, true)
	c.noteOp()
	c.metrics.AllocateTotal.Add(1)
	c.budget.TrackPage("pagecache", pid, int64(len(c.pcodec.Encode(anchor))), membudget.PriorityWarm)
	return pid, key, nil
}

// Link attempts to CAS fragment onto pid's chain at key. On success it
// returns the new key; on a losing CAS it returns errs.ErrCasFailed
// and the fresh key the caller observed, so the caller can decide
// whether to retry.
//
// Once key's chain has already reached
// Options.PageConsolidationThreshold links, Link never writes an
// ordinary Link record: it folds the existing chain, merges fragment
// into it as the newest value, and writes that as a single Replace
// instead, so the chain's observable length never exceeds the
// threshold and every triggering fragment still lands in exactly one
// log record.
func (c *Cache[T]) Link(guard *epoch.Guard, pid uint64, key Key[T], fragment T) (Key[T], error) {
	_ = guard

	if key.Links >= c.opts.PageConsolidationThreshold {
		folded := foldEntry[T](key).Merge(fragment)
		next, err := c.consolidate(pid, key, folded)
		if err != nil {
			c.metrics.CasFailedTotal.Add(1)
			return next, err
		}
		c.noteOp()
		c.metrics.LinkTotal.Add(1)
		return next, nil
	}

	next, lsn, err := linkOn(c.table, c.log, c.pcodec, c.payload, pid, key, fragment)
	if err != nil {
		c.metrics.CasFailedTotal.Add(1)
		return next, err
	}
	c.recordOffsets(pid, lsn, lsn, false)
	c.noteOp()
	c.metrics.LinkTotal.Add(1)
	return next, nil
}

// Replace installs a fresh single-fragment chain for pid, discarding
// the prior chain once every reader pinned before this call has moved
// on. The displaced chain's log offsets are released from the
// segment accountant only once the epoch domain has run that
// destructor, matching Free's deferral.
func (c *Cache[T]) Replace(guard *epoch.Guard, pid uint64, key Key[T], anchor T) (Key[T], error) {
	_ = guard
	next, lsn, err := replaceOn(c.table, c.log, c.pcodec, c.payload, c.dom, pid, key, anchor)
	if err != nil {
		c.metrics.CasFailedTotal.Add(1)
		return next, err
	}
	old := c.swapOffsets(pid, lsn, lsn)
	c.noteOp()
	c.metrics.ReplaceTotal.Add(1)
	c.dom.DeferDestroy(func() { c.releaseSegments(old) })
	c.budget.TrackPage("pagecache", pid, int64(len(c.pcodec.Encode(anchor))), membudget.PriorityWarm)
	return next, nil
}

// consolidate is Replace's non-exported core, reused by Link and
// CasMeta's auto-rewrite path without requiring a caller-held guard.
func (c *Cache[T]) consolidate(pid uint64, key Key[T], anchor T) (Key[T], error) {
	next, lsn, err := replaceOn(c.table, c.log, c.pcodec, c.payload, c.dom, pid, key, anchor)
	if err != nil {
		return next, err
	}
	old := c.swapOffsets(pid, lsn, lsn)
	c.dom.DeferDestroy(func() { c.releaseSegments(old) })
	return next, nil
}

// Get materializes pid's current chain, pulling it from the log first
// if it is only known Paged-out, and returns the materialized value
// alongside the key and the number of fragments folded.
func (c *Cache[T]) Get(guard *epoch.Guard, pid uint64) (Key[T], T, int, error) {
	_ = guard
	c.budget.RecordPageAccess("pagecache", pid)
	return getOn(c.table, c.log, c.pcodec, c.payload, pid)
}

// Free tombstones pid and schedules the chain's destruction once the
// epoch boundary has passed. The pid itself returns to the free list
// only after the epoch domain has run that destructor, since only
// then is it safe for a new Allocate to reuse it.
func (c *Cache[T]) Free(guard *epoch.Guard, pid uint64, key Key[T]) error {
	_ = guard
	if _, err := freeOn(c.table, c.log, c.dom, pid, key); err != nil {
		c.metrics.CasFailedTotal.Add(1)
		return err
	}
	offsets := c.releaseOffsets(pid)
	c.noteOp()
	c.metrics.FreeTotal.Add(1)
	c.budget.ReleasePage("pagecache", pid)
	table := c.table
	c.dom.DeferDestroy(func() {
		table.Release(pid)
		c.releaseSegments(offsets)
	})
	return nil
}

// Meta materializes the singleton tenant metadata page.
func (c *Cache[T]) Meta(guard *epoch.Guard) (meta.Meta, Key[meta.Meta], error) {
	_ = guard
	key, m, _, err := getOn(c.metaTable, c.log, metaCodec{}, c.payload, MetaPID)
	return m, key, err
}

// CasMeta links diff (typically built with meta.SetBlock/DelBlock/
// SetBucket/DelBucket) onto the meta page at key. It is a thin wrapper
// over the generic Link primitive, specialized to meta.Meta's own
// diff-fragment shape, with the same pre-write consolidation check as
// Link: once key's chain has already reached
// Options.PageConsolidationThreshold links, the triggering diff is
// folded into a single Replace instead of an additional Link record.
func (c *Cache[T]) CasMeta(guard *epoch.Guard, key Key[meta.Meta], diff meta.Meta) (Key[meta.Meta], error) {
	_ = guard

	if key.Links >= c.opts.PageConsolidationThreshold {
		folded := foldEntry[meta.Meta](key).Merge(diff)
		next, lsn, err := replaceOn(c.metaTable, c.log, metaCodec{}, c.payload, c.dom, MetaPID, key, folded)
		if err != nil {
			return next, err
		}
		old := c.swapOffsets(MetaPID, lsn, lsn)
		c.noteOp()
		c.dom.DeferDestroy(func() { c.releaseSegments(old) })
		return next, nil
	}

	next, lsn, err := linkOn(c.metaTable, c.log, metaCodec{}, c.payload, MetaPID, key, diff)
	if err != nil {
		return next, err
	}
	c.recordOffsets(MetaPID, lsn, lsn, false)
	c.noteOp()
	return next, nil
}

func (c *Cache[T]) noteOp() {
	c.opsMu.Lock()
	c.opsSinceSnapshot++
	c.opsMu.Unlock()
}
