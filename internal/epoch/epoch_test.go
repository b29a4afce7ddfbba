package epoch

import (
	"sync/atomic"
	"testing"
)

func TestPinAdvanceCollect(t *testing.T) {
	d := NewDomain()

	g1 := d.Pin()
	var freed int32
	d.DeferDestroy(func() { atomic.AddInt32(&freed, 1) })

	d.Advance()

	// g1 is still pinned at the epoch the destructor was retired at,
	// so nothing may be reclaimed yet.
	if n := d.Collect(); n != 0 {
		t.Fatalf("collected %d destructors while a guard is still pinned", n)
	}
	if atomic.LoadInt32(&freed) != 0 {
		t.Fatalf("destructor ran while guard still pinned")
	}

	g1.Drop()
	d.Advance()

	if n := d.Collect(); n != 1 {
		t.Fatalf("expected 1 destructor reclaimed, got %d", n)
	}
	if atomic.LoadInt32(&freed) != 1 {
		t.Fatalf("destructor did not run after guard dropped")
	}
}

func TestDropIdempotent(t *testing.T) {
	d := NewDomain()
	g := d.Pin()
	g.Drop()
	g.Drop() // must not panic or double-count
	if d.ActiveGuardCount() != 0 {
		t.Fatalf("expected 0 active guards, got %d", d.ActiveGuardCount())
	}
}

func TestMinActiveEpochWithNoGuards(t *testing.T) {
	d := NewDomain()
	d.Advance()
	d.Advance()
	if got, want := d.MinActiveEpoch(), d.CurrentEpoch(); got != want {
		t.Fatalf("MinActiveEpoch() = %d, want current epoch %d", got, want)
	}
}

func TestUnprotectedDoesNotBlockCollection(t *testing.T) {
	d := NewDomain()
	u := d.Unprotected()
	defer u.Drop()

	d.DeferDestroy(func() {})
	d.Advance()
	if n := d.Collect(); n != 1 {
		t.Fatalf("Unprotected guard incorrectly blocked reclamation, collected %d", n)
	}
}
