package block

import (
	"errors"
	"sync"

	"pagecache/internal/epoch"
	"pagecache/pkg/errs"
	"pagecache/pkg/meta"
	"pagecache/pkg/pagecache"
)

// cookieEntry is one pending (uncommitted) write in a TreeBlock's
// in-memory overlay.
type cookieEntry struct {
	value   []byte
	deleted bool
}

// TreeBlock is a content-hashed overlay of key-value entries chained
// onto a prior committed block (or nil, for genesis). Writes accumulate
// in memory until Commit, which folds them into the underlying page's
// chain, computes the block's root hash, and registers the hash in the
// tenant meta page.
type TreeBlock struct {
	cache *pagecache.Cache[Node]
	pid   uint64

	mu        sync.Mutex
	key       pagecache.Key[Node]
	cookie    map[string]cookieEntry
	committed bool
	hash      []byte
}

var errAlreadyCommitted = errors.New("block: already committed")

// New allocates a fresh TreeBlock chained onto prev (nil for genesis).
func New(cache *pagecache.Cache[Node], prev *uint64, guard *epoch.Guard) (*TreeBlock, error) {
	_ = guard
	pid, key, err := cache.Allocate(NewAnchor(prev))
	if err != nil {
		return nil, err
	}
	return &TreeBlock{
		cache:  cache,
		pid:    pid,
		key:    key,
		cookie: make(map[string]cookieEntry),
	}, nil
}

// Open resurrects the TreeBlock previously committed at pid, for
// reading or as the prev of a new block. Its overlay starts empty and
// Insert/Delete on it will fail, matching commitedness: only a fresh
// New block accepts writes.
func Open(cache *pagecache.Cache[Node], pid uint64, guard *epoch.Guard) (*TreeBlock, error) {
	key, node, _, err := cache.Get(guard, pid)
	if err != nil {
		return nil, err
	}
	return &TreeBlock{
		cache:     cache,
		pid:       pid,
		key:       key,
		cookie:    make(map[string]cookieEntry),
		committed: true,
		hash:      node.Hash,
	}, nil
}

// Insert stages key=value in the overlay, returning the previously
// staged value if any. Fails once the block is committed.
func (b *TreeBlock) Insert(key string, value []byte) ([]byte, error) {
	return b.stage(key, cookieEntry{value: value})
}

// Delete stages a deletion of key, returning the previously staged
// value if any. Fails once the block is committed.
func (b *TreeBlock) Delete(key string) ([]byte, error) {
	return b.stage(key, cookieEntry{deleted: true})
}

func (b *TreeBlock) stage(key string, e cookieEntry) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.committed {
		return nil, errs.New(errs.CommittedState, "block.stage", errAlreadyCommitted)
	}
	old, existed := b.cookie[key]
	b.cookie[key] = e
	if !existed || old.deleted {
		return nil, nil
	}
	return old.value, nil
}

// Get resolves key: first against this block's uncommitted overlay,
// then the committed chain starting at this block's own page and
// walking Prev until a level has an authoritative answer or the chain
// ends.
func (b *TreeBlock) Get(guard *epoch.Guard, key string) ([]byte, bool, error) {
	b.mu.Lock()
	e, ok := b.cookie[key]
	b.mu.Unlock()
	if ok {
		return e.value, !e.deleted, nil
	}

	pid := b.pid
	for {
		_, node, _, err := b.cache.Get(guard, pid)
		if err != nil {
			return nil, false, err
		}
		if v, found, stop := node.Lookup(key); stop {
			return v, found, nil
		}
		if node.Prev == nil {
			return nil, false, nil
		}
		pid = *node.Prev
	}
}

// Commit folds the staged overlay into the page's chain, computes the
// block's root hash chained onto its predecessor's, registers the
// hash in the tenant meta page, and marks the block read-only. Calling
// Commit more than once is idempotent and returns the same hash.
func (b *TreeBlock) Commit(guard *epoch.Guard) ([]byte, error) {
	b.mu.Lock()
	if b.committed {
		hash := b.hash
		b.mu.Unlock()
		return hash, nil
	}
	entries := make(map[string][]byte, len(b.cookie))
	deleted := make(map[string]struct{})
	for k, e := range b.cookie {
		if e.deleted {
			deleted[k] = struct{}{}
		} else {
			entries[k] = e.value
		}
	}
	b.mu.Unlock()

	_, anchor, _, err := b.cache.Get(guard, b.pid)
	if err != nil {
		return nil, err
	}

	var prevHash []byte
	if anchor.Prev != nil {
		_, prevNode, _, err := b.cache.Get(guard, *anchor.Prev)
		if err != nil {
			return nil, err
		}
		prevHash = prevNode.Hash
	}
	hash := calcRoot(prevHash, entries)

	diff := Node{Prev: anchor.Prev, Hash: hash, Entries: entries, Deleted: deleted}

	b.mu.Lock()
	key := b.key
	b.mu.Unlock()
	newKey, err := b.cache.Link(guard, b.pid, key, diff)
	if err != nil {
		return nil, err
	}

	if err := b.registerInMeta(guard, hash); err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.key = newKey
	b.committed = true
	b.hash = hash
	b.cookie = make(map[string]cookieEntry)
	b.mu.Unlock()

	return hash, nil
}

// registerInMeta CASes the block's pid into the tenant meta page under
// its content hash, retrying on a losing CAS the way any meta writer
// must.
func (b *TreeBlock) registerInMeta(guard *epoch.Guard, hash []byte) error {
	var h meta.Hash
	copy(h[:], hash)
	diff := meta.SetBlock(h, b.pid)

	for {
		_, metaKey, err := b.cache.Meta(guard)
		if err != nil {
			return err
		}
		_, err = b.cache.CasMeta(guard, metaKey, diff)
		if err == nil {
			return nil
		}
		if !errs.Is(err, errs.CasFailed) {
			return err
		}
	}
}

// Hash returns the block's root hash, or nil if it has not been
// committed yet.
func (b *TreeBlock) Hash() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hash
}

// Committed reports whether Commit has run.
func (b *TreeBlock) Committed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committed
}

// Pid is the page id backing this block, usable as a future block's
// prev or looked up again via Open.
func (b *TreeBlock) Pid() uint64 { return b.pid }

// ResolveBlock looks up a committed block's pid by its root hash via
// the tenant meta page and opens it.
func ResolveBlock(cache *pagecache.Cache[Node], guard *epoch.Guard, hash meta.Hash) (*TreeBlock, bool, error) {
	m, _, err := cache.Meta(guard)
	if err != nil {
		return nil, false, err
	}
	pid, ok := m.GetBlock(hash)
	if !ok {
		return nil, false, nil
	}
	tb, err := Open(cache, pid, guard)
	if err != nil {
		return nil, false, err
	}
	return tb, true, nil
}
