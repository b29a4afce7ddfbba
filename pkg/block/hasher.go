package block

import (
	"sort"

	"golang.org/x/crypto/blake2b"
)

// calcRoot hashes prev (the preceding committed block's root hash, or
// nil for genesis) followed by every key/value pair in kvs in
// lexicographic key order, so the root is independent of the overlay
// map's iteration order.
func calcRoot(prev []byte, kvs map[string][]byte) []byte {
	h, _ := blake2b.New256(nil)
	if prev != nil {
		h.Write(prev)
	}
	keys := make([]string, 0, len(kvs))
	for k := range kvs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write(kvs[k])
	}
	return h.Sum(nil)
}
