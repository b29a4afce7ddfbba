// Package snapshot implements periodic/on-shutdown page-table
// checkpoints and the recovery scan that loads the newest one. A
// snapshot plus a forward log replay from its LSN reconstructs the
// full page cache without replaying the entire log history.
package snapshot

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"pagecache/internal/codec"
	"pagecache/pkg/errs"
)

const magic = "PCSNAP1\x00"

// PageOffsets records, for one pid, the ordered (anchor first) log
// offsets of its on-disk fragments and the LSN each was written at —
// exactly spec's `pt: Map<pid, (log_offsets[], last_lsn_per_frag)>`.
// Recovery installs every such pid as Paged-out; the chain is pulled
// from the log lazily on first Get.
type PageOffsets struct {
	LogOffsets     []uint64
	LastLSNPerFrag []uint64
}

// Snapshot is the page table's indirection state as of LastLSN. It
// never holds materialized page bytes — only where their fragments
// live in the log — so loading a snapshot is cheap regardless of how
// large individual pages have grown.
type Snapshot struct {
	LastLSN uint64
	MaxPid  uint64
	Pages   map[uint64]PageOffsets
}

// Write serializes snap, compresses it with codecID, and durably
// installs it at path via the "write to a temp name, fsync, rename"
// idiom: the rename is atomic, so a crash mid-write leaves only the
// in-motion file behind and the previous snapshot (if any) intact.
func Write(path, inMotionPath string, snap Snapshot, codecID codec.ID) error {
	body := encode(snap)

	c, err := codec.Get(codecID)
	if err != nil {
		return err
	}
	compressed, err := c.Encode(body)
	if err != nil {
		return errs.New(errs.Io, "snapshot.Write", err)
	}

	header := make([]byte, len(magic)+1)
	copy(header, magic)
	header[len(magic)] = byte(codecID)

	f, err := os.OpenFile(inMotionPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.New(errs.Io, "snapshot.Write", err)
	}
	if _, err := f.Write(header); err != nil {
		f.Close()
		return errs.New(errs.Io, "snapshot.Write", err)
	}
	if _, err := f.Write(compressed); err != nil {
		f.Close()
		return errs.New(errs.Io, "snapshot.Write", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errs.New(errs.Io, "snapshot.Write", err)
	}
	if err := f.Close(); err != nil {
		return errs.New(errs.Io, "snapshot.Write", err)
	}

	if err := os.Rename(inMotionPath, path); err != nil {
		return errs.New(errs.Io, "snapshot.Write", err)
	}
	return nil
}

// Read loads and decodes the snapshot at path.
func Read(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, errs.New(errs.Io, "snapshot.Read", err)
	}
	if len(data) < len(magic)+1 || string(data[:len(magic)]) != magic {
		return Snapshot{}, errs.New(errs.Corruption, "snapshot.Read", fmt.Errorf("not a snapshot file"))
	}
	codecID := codec.ID(data[len(magic)])
	c, err := codec.Get(codecID)
	if err != nil {
		return Snapshot{}, err
	}
	body, err := c.Decode(data[len(magic)+1:])
	if err != nil {
		return Snapshot{}, errs.New(errs.Corruption, "snapshot.Read", err)
	}
	return decode(body)
}

// encode frames Snapshot as:
//
//	u64 last_lsn | u64 max_pid | u32 nPages, then for each pid:
//	  u64 pid | u32 nOffsets | nOffsets*(u64 offset | u64 lsn)
func encode(snap Snapshot) []byte {
	pids := make([]uint64, 0, len(snap.Pages))
	for pid := range snap.Pages {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	size := 8 + 8 + 4
	for _, pid := range pids {
		po := snap.Pages[pid]
		size += 8 + 4 + len(po.LogOffsets)*16
	}

	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:], snap.LastLSN)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], snap.MaxPid)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(pids)))
	off += 4
	for _, pid := range pids {
		po := snap.Pages[pid]
		binary.LittleEndian.PutUint64(buf[off:], pid)
		off += 8
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(po.LogOffsets)))
		off += 4
		for i, o := range po.LogOffsets {
			binary.LittleEndian.PutUint64(buf[off:], o)
			off += 8
			binary.LittleEndian.PutUint64(buf[off:], po.LastLSNPerFrag[i])
			off += 8
		}
	}
	return buf
}

func decode(buf []byte) (Snapshot, error) {
	if len(buf) < 20 {
		return Snapshot{}, errs.New(errs.Corruption, "snapshot.decode", fmt.Errorf("truncated snapshot body"))
	}
	snap := Snapshot{Pages: make(map[uint64]PageOffsets)}
	off := 0
	snap.LastLSN = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	snap.MaxPid = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	n := binary.LittleEndian.Uint32(buf[off:])
	off += 4

	for i := uint32(0); i < n; i++ {
		if off+12 > len(buf) {
			return Snapshot{}, errs.New(errs.Corruption, "snapshot.decode", fmt.Errorf("truncated page entry"))
		}
		pid := binary.LittleEndian.Uint64(buf[off:])
		off += 8
		nOff := binary.LittleEndian.Uint32(buf[off:])
		off += 4
		if off+int(nOff)*16 > len(buf) {
			return Snapshot{}, errs.New(errs.Corruption, "snapshot.decode", fmt.Errorf("truncated offset list"))
		}
		po := PageOffsets{
			LogOffsets:     make([]uint64, nOff),
			LastLSNPerFrag: make([]uint64, nOff),
		}
		for j := uint32(0); j < nOff; j++ {
			po.LogOffsets[j] = binary.LittleEndian.Uint64(buf[off:])
			off += 8
			po.LastLSNPerFrag[j] = binary.LittleEndian.Uint64(buf[off:])
			off += 8
		}
		snap.Pages[pid] = po
	}
	return snap, nil
}

// FindLatest scans dir for completed snapshot files ("snap.<hex-lsn>",
// excluding the ".in___motion" in-progress suffix) and returns the
// path of the one with the highest LSN, if any.
func FindLatest(dir string) (path string, lsn uint64, ok bool, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, false, errs.New(errs.Io, "snapshot.FindLatest", err)
	}
	best := uint64(0)
	bestPath := ""
	found := false
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "snap.") || strings.HasSuffix(name, ".in___motion") {
			continue
		}
		hex := strings.TrimPrefix(name, "snap.")
		v, perr := strconv.ParseUint(hex, 16, 64)
		if perr != nil {
			continue
		}
		if !found || v > best {
			best = v
			bestPath = filepath.Join(dir, name)
			found = true
		}
	}
	return bestPath, best, found, nil
}
