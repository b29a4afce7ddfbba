package pagetable

import (
	"testing"

	"pagecache/pkg/fragstack"
)

func TestAllocateGrowsWithoutFreelist(t *testing.T) {
	tb := New[string]()
	a := tb.Allocate()
	b := tb.Allocate()
	c := tb.Allocate()
	if a != 0 || b != 1 || c != 2 {
		t.Fatalf("expected sequential pids 0,1,2, got %d,%d,%d", a, b, c)
	}
}

func TestAllocateReusesFreedPid(t *testing.T) {
	tb := New[string]()
	pid := tb.Allocate()
	tb.Install(pid, &Entry[string]{State: Present, Head: fragstack.New[string]().Push("x")})
	tb.Release(pid)

	reused := tb.Allocate()
	if reused != pid {
		t.Fatalf("expected freed pid %d to be reused, got %d", pid, reused)
	}
	if tb.Get(reused) != nil {
		t.Fatalf("reused slot should start nil")
	}
}

func TestCASAndGet(t *testing.T) {
	tb := New[int]()
	pid := tb.Allocate()

	e1 := &Entry[int]{State: Present, Head: fragstack.New[int]().Push(1)}
	if !tb.CAS(pid, nil, e1) {
		t.Fatalf("initial CAS install failed")
	}
	if tb.Get(pid) != e1 {
		t.Fatalf("Get did not return installed entry")
	}

	e2 := &Entry[int]{State: Present, Head: fragstack.New[int]().Push(2)}
	if tb.CAS(pid, nil, e2) {
		t.Fatalf("CAS against stale expected value should fail")
	}
	if !tb.CAS(pid, e1, e2) {
		t.Fatalf("CAS against correct expected value should succeed")
	}
}

func TestForEachVisitsInstalledSlots(t *testing.T) {
	tb := New[int]()
	p0 := tb.Allocate()
	p1 := tb.Allocate()
	tb.Install(p0, &Entry[int]{State: Present})
	tb.Install(p1, &Entry[int]{State: PagedOut})

	seen := map[uint64]State{}
	tb.ForEach(func(pid uint64, e *Entry[int]) {
		seen[pid] = e.State
	})
	if len(seen) != 2 || seen[p0] != Present || seen[p1] != PagedOut {
		t.Fatalf("unexpected ForEach result: %+v", seen)
	}
}

func TestBlockBoundaryAllocation(t *testing.T) {
	tb := New[int]()
	var last uint64
	for i := 0; i < BlockSize+10; i++ {
		last = tb.Allocate()
	}
	if last != uint64(BlockSize+9) {
		t.Fatalf("expected last pid %d, got %d", BlockSize+9, last)
	}
	tb.Install(last, &Entry[int]{State: Present})
	if tb.Get(last) == nil {
		t.Fatalf("entry spanning block boundary not stored")
	}
}
