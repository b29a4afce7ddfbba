package pagecache

import (
	"errors"
	"testing"

	"pagecache/internal/codec"
	"pagecache/pkg/config"
	"pagecache/pkg/errs"
	"pagecache/pkg/materializer"
	"pagecache/pkg/meta"
)

func openTestCache(t *testing.T, opts config.Options) *Cache[materializer.Bytes] {
	t.Helper()
	opts.Temporary = true
	if opts.FragmentCodec == 0 {
		opts.FragmentCodec = codec.None
	}
	cfg, err := config.Open(opts)
	if err != nil {
		t.Fatalf("config.Open: %v", err)
	}
	t.Cleanup(func() { cfg.Close() })

	c, err := Open[materializer.Bytes](cfg, BytesCodec{})
	if err != nil {
		t.Fatalf("pagecache.Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// Scenario A: concat materializer — allocate, link twice, read back
// the full concatenation.
func TestAllocateLinkGetConcat(t *testing.T) {
	c := openTestCache(t, config.Options{})
	guard := c.Pin()
	defer guard.Drop()

	pid, key, err := c.Allocate(materializer.Bytes("a"))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	key, err = c.Link(guard, pid, key, materializer.Bytes("b"))
	if err != nil {
		t.Fatalf("Link 1: %v", err)
	}
	key, err = c.Link(guard, pid, key, materializer.Bytes("c"))
	if err != nil {
		t.Fatalf("Link 2: %v", err)
	}

	_, got, size, err := c.Get(guard, pid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "abc" {
		t.Fatalf("Get = %q, want %q", got, "abc")
	}
	if size != 3 {
		t.Fatalf("fragment count = %d, want 3", size)
	}
}

// Scenario C: consolidation — linking past the threshold rewrites the
// chain to a single anchor, and Get still sees the right value.
func TestLinkConsolidatesPastThreshold(t *testing.T) {
	c := openTestCache(t, config.Options{PageConsolidationThreshold: 3})
	guard := c.Pin()
	defer guard.Drop()

	pid, key, err := c.Allocate(materializer.Bytes("a"))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	for _, frag := range []string{"b", "c", "d", "e"} {
		key, err = c.Link(guard, pid, key, materializer.Bytes(frag))
		if err != nil {
			t.Fatalf("Link(%q): %v", frag, err)
		}
	}

	if key.Links != 0 {
		t.Fatalf("expected chain rewritten to a single anchor, Links = %d", key.Links)
	}

	_, got, _, err := c.Get(guard, pid)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "abcde" {
		t.Fatalf("Get after consolidation = %q, want %q", got, "abcde")
	}
}

// Scenario D: meta round trip — CasMeta sets block/bucket mappings
// and Meta reflects them after folding.
func TestCasMetaRoundTrip(t *testing.T) {
	c := openTestCache(t, config.Options{})
	guard := c.Pin()
	defer guard.Drop()

	m, key, err := c.Meta(guard)
	if err != nil {
		t.Fatalf("Meta: %v", err)
	}

	var h meta.Hash
	h[0] = 7
	key, err = c.CasMeta(guard, key, meta.SetBlock(h, 42))
	if err != nil {
		t.Fatalf("CasMeta SetBlock: %v", err)
	}
	key, err = c.CasMeta(guard, key, meta.SetBucket("bucket-a", 99))
	if err != nil {
		t.Fatalf("CasMeta SetBucket: %v", err)
	}

	m, _, err = c.Meta(guard)
	if err != nil {
		t.Fatalf("Meta after updates: %v", err)
	}
	if pid, ok := m.GetBlock(h); !ok || pid != 42 {
		t.Fatalf("GetBlock = %d, %v; want 42, true", pid, ok)
	}
	if pid, ok := m.GetBucket("bucket-a"); !ok || pid != 99 {
		t.Fatalf("GetBucket = %d, %v; want 99, true", pid, ok)
	}
}

// Scenario E: concurrent linkers — exactly one of a batch of
// concurrent Link attempts against the same stale key may win; the
// rest must observe ErrCasFailed and the fresh head.
func TestConcurrentLinkersExactlyOneWinner(t *testing.T) {
	c := openTestCache(t, config.Options{PageConsolidationThreshold: 1000})
	guard := c.Pin()
	defer guard.Drop()

	pid, key, err := c.Allocate(materializer.Bytes("a"))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	const n = 16
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := c.Link(guard, pid, key, materializer.Bytes("x"))
			results <- err
		}()
	}

	wins, losses := 0, 0
	for i := 0; i < n; i++ {
		switch err := <-results; {
		case err == nil:
			wins++
		default:
			losses++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winning Link, got %d", wins)
	}
	if losses != n-1 {
		t.Fatalf("expected %d losing Links, got %d", n-1, losses)
	}
}

// Free returns an unknown pid to Get.
func TestFreeThenGetIsUnknownPid(t *testing.T) {
	c := openTestCache(t, config.Options{})
	guard := c.Pin()
	defer guard.Drop()

	pid, key, err := c.Allocate(materializer.Bytes("a"))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := c.Free(guard, pid, key); err != nil {
		t.Fatalf("Free: %v", err)
	}

	if _, _, _, err := c.Get(guard, pid); !errors.Is(err, errs.ErrUnknownPid) {
		t.Fatalf("Get after Free: err = %v, want ErrUnknownPid", err)
	}
}

// Scenario F: snapshot + replay parity — writing a snapshot, closing,
// and reopening must recover the same materialized value.
func TestSnapshotAndReopenRecoversState(t *testing.T) {
	opts := config.Options{Path: t.TempDir(), FragmentCodec: codec.None}

	cfg, err := config.Open(opts)
	if err != nil {
		t.Fatalf("config.Open: %v", err)
	}
	c, err := Open[materializer.Bytes](cfg, BytesCodec{})
	if err != nil {
		t.Fatalf("pagecache.Open: %v", err)
	}
	guard := c.Pin()

	pid, key, err := c.Allocate(materializer.Bytes("a"))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, err := c.Link(guard, pid, key, materializer.Bytes("b")); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if err := c.writeSnapshot(); err != nil {
		t.Fatalf("writeSnapshot: %v", err)
	}
	guard.Drop()
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	cfg2, err := config.Open(opts)
	if err != nil {
		t.Fatalf("config.Open (reopen): %v", err)
	}
	defer cfg2.Close()
	c2, err := Open[materializer.Bytes](cfg2, BytesCodec{})
	if err != nil {
		t.Fatalf("pagecache.Open (reopen): %v", err)
	}
	defer c2.Close()

	guard2 := c2.Pin()
	defer guard2.Drop()
	_, got, _, err := c2.Get(guard2, pid)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got) != "ab" {
		t.Fatalf("Get after reopen = %q, want %q", got, "ab")
	}
}
