// Package pagecache is the facade: it orchestrates the epoch domain,
// the lock-free fragment stack, the page table, the log, and
// snapshots into the allocate/link/replace/get/free/meta/cas_meta
// operations a higher layer (pkg/block) builds on.
package pagecache

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"pagecache/internal/codec"
	"pagecache/internal/epoch"
	"pagecache/pkg/config"
	"pagecache/pkg/logstore"
	"pagecache/pkg/materializer"
	"pagecache/pkg/meta"
	"pagecache/pkg/membudget"
	"pagecache/pkg/metrics"
	"pagecache/pkg/pagetable"
	"pagecache/pkg/promise"
	"pagecache/pkg/snapshot"
	"pagecache/pkg/storage"
)

// MetaPID is the reserved pid of the singleton tenant metadata page.
const MetaPID = 0

// pageOffsets tracks, for one live pid, the ordered (anchor-first) log
// offsets its current chain was durably written at, and the LSN each
// landed at. This is exactly spec's snapshot shape; keeping it live
// lets both the segment accountant's release calls and periodic
// snapshot writes read it directly instead of re-deriving it.
type pageOffsets struct {
	offsets []uint64
	lsns    []uint64
}

// Cache is the page cache facade, generic over the fragment payload
// type of ordinary (non-meta) pages.
type Cache[T materializer.Materializer[T]] struct {
	opts config.Options

	table     *pagetable.Table[T]
	metaTable *pagetable.Table[meta.Meta]

	dom *epoch.Domain

	log     *logstore.Store
	storage storage.Storage
	payload codec.Codec

	pcodec Codec[T]

	budget  *membudget.Budget
	metrics *metrics.Registry
	bg      *promise.Pool

	offMu sync.Mutex
	off   map[uint64]*pageOffsets

	lastLSN atomic.Uint64

	opsSinceSnapshot uint64
	opsMu            sync.Mutex

	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup

	cfgDir string
}

// Open opens or creates a store rooted at cfg.Path, recovering from
// the newest snapshot plus forward log replay if one exists.
func Open[T materializer.Materializer[T]](cfg *config.Config, pcodec Codec[T]) (*Cache[T], error) {
	st, err := storage.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	payloadCodec, err := codec.Get(cfg.FragmentCodec)
	if err != nil {
		st.Close()
		return nil, err
	}

	c := &Cache[T]{
		opts:      cfg.Options,
		table:     pagetable.New[T](),
		metaTable: pagetable.New[meta.Meta](),
		dom:       epoch.NewDomain(),
		storage:   st,
		payload:   payloadCodec,
		pcodec:    pcodec,
		budget:    membudget.New(membudget.DefaultLimit),
		metrics:   metrics.New(),
		bg:        promise.NewPool(2, 4),
		off:       make(map[uint64]*pageOffsets),
		closeCh:   make(chan struct{}),
		cfgDir:    cfg.Path,
	}
	c.budget.RegisterComponent("pagecache")
	// pid 0 is the meta page's fixed home in metaTable; the regular
	// table's pid space reserves it too so table.Allocate() never
	// hands it out.
	c.table.SetMaxPid(1)

	startOffset, err := c.recover(st, cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	lg, err := logstore.Open(st, logstore.Options{
		SegmentSize:   cfg.SegmentSize,
		FlushInterval: flushInterval(cfg.FlushEveryMS),
	}, startOffset)
	if err != nil {
		st.Close()
		return nil, err
	}
	c.log = lg

	if c.metaTable.Get(MetaPID) == nil {
		_, lsn, err := allocateOn(c.metaTable, c.log, metaCodec{}, c.payload, MetaPID, meta.New())
		if err != nil {
			return nil, err
		}
		c.recordOffsets(MetaPID, lsn, lsn, true)
	}

	c.wg.Add(2)
	go c.snapshotLoop()
	go c.collectLoop()

	return c, nil
}

func flushInterval(ms uint64) time.Duration {
	if ms == 0 {
		return 50 * time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}

// Close stops background tasks, writes a final snapshot, and closes
// the underlying log and storage.
func (c *Cache[T]) Close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	c.wg.Wait()

	if err := c.writeSnapshot(); err != nil {
		log.Printf("pagecache: final snapshot failed: %v", err)
	}
	c.bg.Close()
	return c.log.Close()
}

func (c *Cache[T]) recordOffsets(pid uint64, offset, lsn uint64, reset bool) {
	c.offMu.Lock()
	defer c.offMu.Unlock()
	po, ok := c.off[pid]
	if !ok || reset {
		po = &pageOffsets{}
		c.off[pid] = po
	}
	po.offsets = append(po.offsets, offset)
	po.lsns = append(po.lsns, lsn)
	c.bumpLastLSN(lsn)
}

// bumpLastLSN advances the high-water LSN a snapshot should cover.
// Replay and live ops both funnel through here, so writeSnapshot never
// sees a stale value once the store has taken any writes at all.
func (c *Cache[T]) bumpLastLSN(lsn uint64) {
	for {
		cur := c.lastLSN.Load()
		if lsn <= cur {
			return
		}
		if c.lastLSN.CompareAndSwap(cur, lsn) {
			return
		}
	}
}

// swapOffsets atomically replaces pid's tracked offsets with a single
// fresh (offset, lsn) pair and returns whatever was tracked before,
// so a Replace can release the superseded segments without racing a
// concurrent Link's append.
func (c *Cache[T]) swapOffsets(pid uint64, offset, lsn uint64) []uint64 {
	c.offMu.Lock()
	defer c.offMu.Unlock()
	var old []uint64
	if po, ok := c.off[pid]; ok {
		old = po.offsets
	}
	c.off[pid] = &pageOffsets{offsets: []uint64{offset}, lsns: []uint64{lsn}}
	c.bumpLastLSN(lsn)
	return old
}

func (c *Cache[T]) releaseOffsets(pid uint64) []uint64 {
	c.offMu.Lock()
	defer c.offMu.Unlock()
	po, ok := c.off[pid]
	if !ok {
		return nil
	}
	delete(c.off, pid)
	return po.offsets
}

func (c *Cache[T]) snapshotOfPid(pid uint64) (snapshot.PageOffsets, bool) {
	c.offMu.Lock()
	defer c.offMu.Unlock()
	po, ok := c.off[pid]
	if !ok {
		return snapshot.PageOffsets{}, false
	}
	offsets := append([]uint64(nil), po.offsets...)
	lsns := append([]uint64(nil), po.lsns...)
	return snapshot.PageOffsets{LogOffsets: offsets, LastLSNPerFrag: lsns}, true
}

func (c *Cache[T]) releaseSegments(offsets []uint64) {
	for _, off := range offsets {
		if c.log.Accountant().Release(c.log.SegmentIndex(off)) {
			c.log.Accountant().MarkReclaimable(c.log.SegmentIndex(off))
			c.metrics.SegmentsReclaimed.Add(1)
		}
	}
}

// Pin pins the current epoch for one logical operation's duration. The
// returned guard must be dropped (usually via defer) once the caller
// is done touching anything it obtained from the cache.
func (c *Cache[T]) Pin() *epoch.Guard { return c.dom.Pin() }

// Metrics returns the store's counter registry.
func (c *Cache[T]) Metrics() *metrics.Registry { return c.metrics }

// Budget returns the store's page memory budget tracker.
func (c *Cache[T]) Budget() *membudget.Budget { return c.budget }

// recover loads the newest snapshot (if any) as a set of paged-out
// entries, then forward-replays the log from the point the snapshot
// covers. It returns the offset the log's write cursor should resume
// at. st is read directly; c.log does not exist yet at this point.
func (c *Cache[T]) recover(st storage.Storage, cfg *config.Config) (uint64, error) {
	fromOffset := uint64(0)

	path, _, ok, err := snapshot.FindLatest(cfg.Path)
	if err != nil {
		return 0, err
	}
	if ok {
		snap, err := snapshot.Read(path)
		if err != nil {
			return 0, err
		}
		for pid, po := range snap.Pages {
			c.offMu.Lock()
			c.off[pid] = &pageOffsets{
				offsets: append([]uint64(nil), po.LogOffsets...),
				lsns:    append([]uint64(nil), po.LastLSNPerFrag...),
			}
			c.offMu.Unlock()

			if pid == MetaPID {
				c.metaTable.Install(pid, &pagetable.Entry[meta.Meta]{
					State:          pagetable.PagedOut,
					LogOffsets:     po.LogOffsets,
					LastLSNPerFrag: po.LastLSNPerFrag,
				})
				continue
			}
			c.table.Install(pid, &pagetable.Entry[T]{
				State:          pagetable.PagedOut,
				LogOffsets:     po.LogOffsets,
				LastLSNPerFrag: po.LastLSNPerFrag,
			})
			if pid+1 > c.table.MaxPid() {
				c.table.SetMaxPid(pid + 1)
			}
		}
		if snap.MaxPid > c.table.MaxPid() {
			c.table.SetMaxPid(snap.MaxPid)
		}
		c.lastLSN.Store(snap.LastLSN)

		if snap.LastLSN > 0 {
			fromOffset, err = logstore.NextOffset(st, snap.LastLSN)
			if err != nil {
				return 0, err
			}
		}
	}

	stopOffset, err := logstore.Replay(st, cfg.SegmentSize, fromOffset, c.applyReplayRecord)
	if err != nil {
		return 0, err
	}
	return stopOffset, nil
}

// applyReplayRecord folds one replayed record into the in-memory page
// tables. Every recovered or replayed page lands Paged-out: recovery
// never decodes fragment payloads, matching the snapshot's own
// offsets-only shape, so a restart never materializes more than the
// snapshot already costs.
func (c *Cache[T]) applyReplayRecord(lsn uint64, rec logstore.Record) error {
	switch rec.Kind {
	case logstore.KindAllocate:
		if rec.Pid != MetaPID && rec.Pid+1 > c.table.MaxPid() {
			c.table.SetMaxPid(rec.Pid + 1)
		}

	case logstore.KindReplace:
		if rec.Pid == MetaPID {
			c.metaTable.Install(rec.Pid, &pagetable.Entry[meta.Meta]{
				State: pagetable.PagedOut, LogOffsets: []uint64{lsn}, LastLSNPerFrag: []uint64{lsn},
			})
		} else {
			if rec.Pid+1 > c.table.MaxPid() {
				c.table.SetMaxPid(rec.Pid + 1)
			}
			c.table.Install(rec.Pid, &pagetable.Entry[T]{
				State: pagetable.PagedOut, LogOffsets: []uint64{lsn}, LastLSNPerFrag: []uint64{lsn},
			})
		}
		c.recordOffsets(rec.Pid, lsn, lsn, true)
		c.lastLSN.Store(lsn)

	case logstore.KindLink:
		if rec.Pid == MetaPID {
			e := c.metaTable.Get(rec.Pid)
			offs, lsns := extendOffsets[meta.Meta](e, lsn)
			c.metaTable.Install(rec.Pid, &pagetable.Entry[meta.Meta]{
				State: pagetable.PagedOut, LogOffsets: offs, LastLSNPerFrag: lsns,
			})
		} else {
			e := c.table.Get(rec.Pid)
			offs, lsns := extendOffsets[T](e, lsn)
			c.table.Install(rec.Pid, &pagetable.Entry[T]{
				State: pagetable.PagedOut, LogOffsets: offs, LastLSNPerFrag: lsns,
			})
		}
		c.recordOffsets(rec.Pid, lsn, lsn, false)
		c.lastLSN.Store(lsn)

	case logstore.KindFree:
		if rec.Pid == MetaPID {
			c.metaTable.Release(rec.Pid)
		} else {
			c.table.Release(rec.Pid)
		}
		c.releaseOffsets(rec.Pid)
		c.lastLSN.Store(lsn)
	}
	return nil
}

func extendOffsets[X materializer.Materializer[X]](e *pagetable.Entry[X], lsn uint64) ([]uint64, []uint64) {
	if e == nil {
		return []uint64{lsn}, []uint64{lsn}
	}
	return append(append([]uint64(nil), e.LogOffsets...), lsn), append(append([]uint64(nil), e.LastLSNPerFrag...), lsn)
}

// snapshotLoop periodically checks whether enough operations have
// landed since the last snapshot and, if so, writes a fresh one.
func (c *Cache[T]) snapshotLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.closeCh:
			return
		case <-ticker.C:
		}

		c.opsMu.Lock()
		due := c.opsSinceSnapshot >= c.opts.SnapshotAfterOps
		if due {
			c.opsSinceSnapshot = 0
		}
		c.opsMu.Unlock()

		if due {
			f := promise.Go(c.bg, c.writeSnapshot)
			if _, err := f.Get(); err != nil {
				log.Printf("pagecache: periodic snapshot failed: %v", err)
			}
		}
	}
}

// collectLoop periodically runs the epoch domain's reclaim pass,
// running deferred destructors once every reader that could have
// observed the retired value has dropped its guard.
func (c *Cache[T]) collectLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.closeCh:
			c.dom.Collect()
			return
		case <-ticker.C:
			c.dom.Collect()
		}
	}
}

// writeSnapshot makes the log stable up to the last LSN observed by
// this process, gathers every pid's current on-disk fragment offsets,
// and durably installs a new snapshot file.
func (c *Cache[T]) writeSnapshot() error {
	lsn := c.lastLSN.Load()
	if lsn == 0 {
		return nil
	}
	if err := c.log.MakeStable(lsn); err != nil {
		return err
	}

	pages := make(map[uint64]snapshot.PageOffsets)
	c.table.ForEach(func(pid uint64, _ *pagetable.Entry[T]) {
		if po, ok := c.snapshotOfPid(pid); ok {
			pages[pid] = po
		}
	})
	// metaTable's pid range is never grown (the meta page is installed
	// at MetaPID directly), so ForEach would skip it; read it by pid.
	if c.metaTable.Get(MetaPID) != nil {
		if po, ok := c.snapshotOfPid(MetaPID); ok {
			pages[MetaPID] = po
		}
	}

	snap := snapshot.Snapshot{LastLSN: lsn, MaxPid: c.table.MaxPid(), Pages: pages}
	path := filepath.Join(c.cfgDir, fmt.Sprintf("snap.%x", lsn))
	inMotion := filepath.Join(c.cfgDir, fmt.Sprintf("snap.%x.in___motion", lsn))
	if err := snapshot.Write(path, inMotion, snap, c.payload.ID()); err != nil {
		return err
	}
	c.metrics.SnapshotsWritten.Add(1)
	if fi, err := os.Stat(path); err == nil {
		c.metrics.BytesFlushed.Add(uint64(fi.Size()))
	}
	return nil
}
