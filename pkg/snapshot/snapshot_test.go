package snapshot

import (
	"path/filepath"
	"testing"

	"pagecache/internal/codec"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap.a")
	inMotion := filepath.Join(dir, "snap.a.in___motion")

	want := Snapshot{
		LastLSN: 0xABCD,
		MaxPid:  5,
		Pages: map[uint64]PageOffsets{
			1: {LogOffsets: []uint64{32, 96}, LastLSNPerFrag: []uint64{32, 96}},
			2: {LogOffsets: []uint64{160}, LastLSNPerFrag: []uint64{160}},
			3: {LogOffsets: nil, LastLSNPerFrag: nil},
		},
	}

	if err := Write(path, inMotion, want, codec.Zstd); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.LastLSN != want.LastLSN || got.MaxPid != want.MaxPid {
		t.Fatalf("got LastLSN=%x MaxPid=%d, want LastLSN=%x MaxPid=%d", got.LastLSN, got.MaxPid, want.LastLSN, want.MaxPid)
	}
	if len(got.Pages) != len(want.Pages) {
		t.Fatalf("Pages has %d entries, want %d", len(got.Pages), len(want.Pages))
	}
	for pid, po := range want.Pages {
		gotPO := got.Pages[pid]
		if len(gotPO.LogOffsets) != len(po.LogOffsets) {
			t.Fatalf("pid %d LogOffsets = %v, want %v", pid, gotPO.LogOffsets, po.LogOffsets)
		}
		for i := range po.LogOffsets {
			if gotPO.LogOffsets[i] != po.LogOffsets[i] || gotPO.LastLSNPerFrag[i] != po.LastLSNPerFrag[i] {
				t.Fatalf("pid %d entry %d = (%d,%d), want (%d,%d)", pid, i,
					gotPO.LogOffsets[i], gotPO.LastLSNPerFrag[i], po.LogOffsets[i], po.LastLSNPerFrag[i])
			}
		}
	}
}

func TestFindLatestPicksHighestLSN(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, dir, "snap.1", 1)
	mustWrite(t, dir, "snap.a", 0xa)
	mustWrite(t, dir, "snap.5", 5)

	path, lsn, ok, err := FindLatest(dir)
	if err != nil {
		t.Fatalf("FindLatest: %v", err)
	}
	if !ok {
		t.Fatal("expected a snapshot to be found")
	}
	if lsn != 0xa {
		t.Fatalf("lsn = %x, want 0xa", lsn)
	}
	if filepath.Base(path) != "snap.a" {
		t.Fatalf("path = %s, want snap.a", path)
	}
}

func mustWrite(t *testing.T, dir, name string, lsn uint64) {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := Write(p, p+".tmp", Snapshot{LastLSN: lsn, Pages: map[uint64]PageOffsets{}}, codec.None); err != nil {
		t.Fatalf("Write %s: %v", name, err)
	}
}

func TestFindLatestEmptyDir(t *testing.T) {
	dir := t.TempDir()
	_, _, ok, err := FindLatest(dir)
	if err != nil {
		t.Fatalf("FindLatest: %v", err)
	}
	if ok {
		t.Fatal("expected no snapshot found in empty dir")
	}
}
