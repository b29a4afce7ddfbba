// Package epoch implements epoch-based reclamation: readers pin the
// current epoch before touching lock-free structures, writers defer
// destructors until every reader that could have observed the retired
// value has dropped its guard.
package epoch

import (
	"sync"
	"sync/atomic"
)

// Domain is one reclamation domain. A page cache owns exactly one.
type Domain struct {
	global uint64

	guards sync.Map // guardID -> *guardState

	retiredMu sync.Mutex
	retired   map[uint64][]func()

	nextGuardID uint64
}

type guardState struct {
	epoch  uint64
	active int32
}

// NewDomain returns a reclamation domain with the global epoch at 1
// (0 is reserved to mean "guard not active").
func NewDomain() *Domain {
	return &Domain{
		global:  1,
		retired: make(map[uint64][]func()),
	}
}

// Guard is a pinned reader. Every Pin must be matched by exactly one
// Drop; Drop is idempotent.
type Guard struct {
	dom     *Domain
	state   *guardState
	guardID uint64
}

// Pin records the current epoch and marks the caller as an active
// reader. The returned Guard must be released with Drop.
func (d *Domain) Pin() *Guard {
	id := atomic.AddUint64(&d.nextGuardID, 1)
	st := &guardState{epoch: atomic.LoadUint64(&d.global), active: 1}
	d.guards.Store(id, st)
	return &Guard{dom: d, state: st, guardID: id}
}

// Unprotected returns a guard pinned at the current epoch but never
// registered as an active reader. Use only when the caller already
// holds an exclusivity guarantee by other means (e.g. during Close).
func (d *Domain) Unprotected() *Guard {
	return &Guard{dom: d, state: &guardState{epoch: atomic.LoadUint64(&d.global), active: 0}}
}

// Epoch returns the epoch this guard was pinned at.
func (g *Guard) Epoch() uint64 {
	if g == nil || g.state == nil {
		return 0
	}
	return g.state.epoch
}

// Drop releases the guard. Safe to call more than once.
func (g *Guard) Drop() {
	if g == nil || g.state == nil || g.dom == nil {
		return
	}
	if atomic.CompareAndSwapInt32(&g.state.active, 1, 0) {
		g.dom.guards.Delete(g.guardID)
	}
}

// Advance bumps the global epoch. Called by a writer after a CAS that
// detaches a value from a lock-free structure, immediately after
// scheduling that value's destructor with DeferDestroy, so guards
// pinned from then on sit at a later epoch than the retired value.
func (d *Domain) Advance() uint64 {
	return atomic.AddUint64(&d.global, 1)
}

// CurrentEpoch returns the current global epoch.
func (d *Domain) CurrentEpoch() uint64 {
	return atomic.LoadUint64(&d.global)
}

// DeferDestroy schedules fn to run once every guard active at the
// current epoch has dropped. fn must not block and must not itself
// call into the domain.
func (d *Domain) DeferDestroy(fn func()) {
	if fn == nil {
		return
	}
	epoch := atomic.LoadUint64(&d.global)

	d.retiredMu.Lock()
	d.retired[epoch] = append(d.retired[epoch], fn)
	d.retiredMu.Unlock()
}

// Collect reclaims everything retired at an epoch older than the
// oldest epoch any pinned guard still references, and returns how many
// destructors it ran.
func (d *Domain) Collect() int {
	min := d.MinActiveEpoch()

	d.retiredMu.Lock()
	var due []func()
	for epoch, fns := range d.retired {
		if epoch < min {
			due = append(due, fns...)
			delete(d.retired, epoch)
		}
	}
	d.retiredMu.Unlock()

	for _, fn := range due {
		fn()
	}
	return len(due)
}

// MinActiveEpoch returns the oldest epoch any pinned, active guard was
// pinned at, or the current epoch if nothing is pinned.
func (d *Domain) MinActiveEpoch() uint64 {
	min := atomic.LoadUint64(&d.global)
	d.guards.Range(func(_, v any) bool {
		st := v.(*guardState)
		if atomic.LoadInt32(&st.active) == 1 && st.epoch < min {
			min = st.epoch
		}
		return true
	})
	return min
}

// PendingCount reports how many destructors are waiting on reclamation.
func (d *Domain) PendingCount() int {
	d.retiredMu.Lock()
	defer d.retiredMu.Unlock()
	n := 0
	for _, fns := range d.retired {
		n += len(fns)
	}
	return n
}

// ActiveGuardCount reports how many guards are currently pinned.
func (d *Domain) ActiveGuardCount() int {
	n := 0
	d.guards.Range(func(_, v any) bool {
		if atomic.LoadInt32(&v.(*guardState).active) == 1 {
			n++
		}
		return true
	})
	return n
}
