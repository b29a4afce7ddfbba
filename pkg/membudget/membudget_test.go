package membudget

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTrackAndReleasePage(t *testing.T) {
	b := New(1000)
	b.RegisterComponent("pagecache")
	b.TrackPage("pagecache", 1, 400, PriorityCold)
	if got := b.TotalUsage(); got != 400 {
		t.Fatalf("TotalUsage = %d, want 400", got)
	}
	b.ReleasePage("pagecache", 1)
	if got := b.TotalUsage(); got != 0 {
		t.Fatalf("TotalUsage after release = %d, want 0", got)
	}
}

func TestIsExceeded(t *testing.T) {
	b := New(100)
	b.TrackPage("pagecache", 1, 150, PriorityHot)
	if !b.IsExceeded() {
		t.Fatalf("expected IsExceeded true")
	}
}

func TestPressureCallbackFiresOnTransition(t *testing.T) {
	b := New(100)
	var fired int32
	b.OnPressure(func(usage, limit int64) {
		atomic.AddInt32(&fired, 1)
	})
	b.TrackPage("pagecache", 1, 90, PriorityHot)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&fired) == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("pressure callback did not fire")
}

func TestEvictionCandidatesPrefersColdThenOldest(t *testing.T) {
	b := New(1000)
	b.TrackPage("pagecache", 1, 100, PriorityHot)
	b.TrackPage("pagecache", 2, 100, PriorityCold)
	b.TrackPage("pagecache", 3, 100, PriorityWarm)

	got := b.EvictionCandidates("pagecache", 100)
	if len(got) != 1 || got[0] != "2" {
		t.Fatalf("EvictionCandidates = %v, want [\"2\"]", got)
	}
}

func TestRecordAccessPromotesPriority(t *testing.T) {
	b := New(1000)
	b.TrackPage("pagecache", 1, 10, PriorityCold)
	b.TrackPage("pagecache", 2, 10, PriorityCold)
	for i := 0; i < 10; i++ {
		b.RecordPageAccess("pagecache", 1)
	}
	// pid 1 is now hot, so the still-cold pid 2 is the one offered.
	cands := b.EvictionCandidates("pagecache", 10)
	if len(cands) != 1 || cands[0] != "2" {
		t.Fatalf("EvictionCandidates = %v, want [\"2\"]", cands)
	}
}
