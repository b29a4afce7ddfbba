// Package meta implements the tenant metadata page: the singleton
// pid-0 page holding the block and bucket name-to-pid mappings every
// other collaborator discovers pids through.
package meta

import (
	"encoding/binary"
	"errors"
	"sort"
)

// Hash identifies a content-addressed block.
type Hash [32]byte

// Meta is both the materialized Meta page and the shape of a single
// fragment in its chain: a fragment is a sparse overlay naming only
// the entries it sets or deletes, and Merge folds that overlay onto
// an accumulator. This lets Meta satisfy materializer.Materializer[Meta]
// directly — the anchor is the first (possibly full) overlay, and
// every later link is a small diff.
type Meta struct {
	blocks  map[Hash]uint64
	buckets map[string]uint64

	delBlocks  map[Hash]struct{}
	delBuckets map[string]struct{}
}

// New returns an empty Meta, suitable as the anchor fragment for a
// freshly allocated meta page.
func New() Meta {
	return Meta{
		blocks:  make(map[Hash]uint64),
		buckets: make(map[string]uint64),
	}
}

// SetBlock returns a single-entry diff fragment that maps h to pid.
func SetBlock(h Hash, pid uint64) Meta {
	d := Meta{blocks: map[Hash]uint64{h: pid}}
	return d
}

// DelBlock returns a single-entry diff fragment that removes h.
func DelBlock(h Hash) Meta {
	d := Meta{delBlocks: map[Hash]struct{}{h: {}}}
	return d
}

// SetBucket returns a single-entry diff fragment that maps name to pid.
func SetBucket(name string, pid uint64) Meta {
	return Meta{buckets: map[string]uint64{name: pid}}
}

// DelBucket returns a single-entry diff fragment that removes name.
func DelBucket(name string) Meta {
	return Meta{delBuckets: map[string]struct{}{name: {}}}
}

// GetBlock looks up a block's pid in the materialized Meta.
func (m Meta) GetBlock(h Hash) (uint64, bool) {
	pid, ok := m.blocks[h]
	return pid, ok
}

// GetBucket looks up a bucket's pid in the materialized Meta.
func (m Meta) GetBucket(name string) (uint64, bool) {
	pid, ok := m.buckets[name]
	return pid, ok
}

// BlockTenants returns a copy of the block hash-to-pid map for safe
// external iteration.
func (m Meta) BlockTenants() map[Hash]uint64 {
	out := make(map[Hash]uint64, len(m.blocks))
	for k, v := range m.blocks {
		out[k] = v
	}
	return out
}

// BucketTenants returns a copy of the bucket name-to-pid map for safe
// external iteration.
func (m Meta) BucketTenants() map[string]uint64 {
	out := make(map[string]uint64, len(m.buckets))
	for k, v := range m.buckets {
		out[k] = v
	}
	return out
}

// Merge applies other's sets and deletes onto a copy of m and returns
// the result. Pure: m is never mutated in place.
func (m Meta) Merge(other Meta) Meta {
	out := Meta{
		blocks:  m.BlockTenants(),
		buckets: m.BucketTenants(),
	}
	for h, pid := range other.blocks {
		out.blocks[h] = pid
	}
	for h := range other.delBlocks {
		delete(out.blocks, h)
	}
	for name, pid := range other.buckets {
		out.buckets[name] = pid
	}
	for name := range other.delBuckets {
		delete(out.buckets, name)
	}
	return out
}

// SizeInBytes estimates the encoded size, used by callers deciding
// whether a meta rewrite is due.
func (m Meta) SizeInBytes() int {
	return len(m.blocks)*(32+8) + len(m.buckets)*(8+8)
}

var errTruncated = errors.New("meta: truncated payload")

// Encode serializes a Meta fragment (anchor or diff) to bytes. Format:
//
//	u32 nBlockSet | (hash[32] pid u64)*
//	u32 nBlockDel | (hash[32])*
//	u32 nBucketSet | (u16 len, name bytes, pid u64)*
//	u32 nBucketDel | (u16 len, name bytes)*
func (m Meta) Encode() []byte {
	blockKeys := make([]Hash, 0, len(m.blocks))
	for h := range m.blocks {
		blockKeys = append(blockKeys, h)
	}
	sort.Slice(blockKeys, func(i, j int) bool { return string(blockKeys[i][:]) < string(blockKeys[j][:]) })

	delBlockKeys := make([]Hash, 0, len(m.delBlocks))
	for h := range m.delBlocks {
		delBlockKeys = append(delBlockKeys, h)
	}
	sort.Slice(delBlockKeys, func(i, j int) bool { return string(delBlockKeys[i][:]) < string(delBlockKeys[j][:]) })

	bucketKeys := make([]string, 0, len(m.buckets))
	for name := range m.buckets {
		bucketKeys = append(bucketKeys, name)
	}
	sort.Strings(bucketKeys)

	delBucketKeys := make([]string, 0, len(m.delBuckets))
	for name := range m.delBuckets {
		delBucketKeys = append(delBucketKeys, name)
	}
	sort.Strings(delBucketKeys)

	buf := make([]byte, 0, 4+len(blockKeys)*40+4+len(delBlockKeys)*32)

	var tmp4 [4]byte
	var tmp8 [8]byte

	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(blockKeys)))
	buf = append(buf, tmp4[:]...)
	for _, h := range blockKeys {
		buf = append(buf, h[:]...)
		binary.LittleEndian.PutUint64(tmp8[:], m.blocks[h])
		buf = append(buf, tmp8[:]...)
	}

	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(delBlockKeys)))
	buf = append(buf, tmp4[:]...)
	for _, h := range delBlockKeys {
		buf = append(buf, h[:]...)
	}

	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(bucketKeys)))
	buf = append(buf, tmp4[:]...)
	var tmp2 [2]byte
	for _, name := range bucketKeys {
		binary.LittleEndian.PutUint16(tmp2[:], uint16(len(name)))
		buf = append(buf, tmp2[:]...)
		buf = append(buf, name...)
		binary.LittleEndian.PutUint64(tmp8[:], m.buckets[name])
		buf = append(buf, tmp8[:]...)
	}

	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(delBucketKeys)))
	buf = append(buf, tmp4[:]...)
	for _, name := range delBucketKeys {
		binary.LittleEndian.PutUint16(tmp2[:], uint16(len(name)))
		buf = append(buf, tmp2[:]...)
		buf = append(buf, name...)
	}

	return buf
}

// Decode deserializes a Meta fragment produced by Encode.
func Decode(data []byte) (Meta, error) {
	m := Meta{}
	pos := 0

	need := func(n int) error {
		if pos+n > len(data) {
			return errTruncated
		}
		return nil
	}

	if err := need(4); err != nil {
		return m, err
	}
	nBlockSet := int(binary.LittleEndian.Uint32(data[pos:]))
	pos += 4
	if nBlockSet > 0 {
		m.blocks = make(map[Hash]uint64, nBlockSet)
	}
	for i := 0; i < nBlockSet; i++ {
		if err := need(40); err != nil {
			return m, err
		}
		var h Hash
		copy(h[:], data[pos:pos+32])
		pos += 32
		pid := binary.LittleEndian.Uint64(data[pos:])
		pos += 8
		m.blocks[h] = pid
	}

	if err := need(4); err != nil {
		return m, err
	}
	nBlockDel := int(binary.LittleEndian.Uint32(data[pos:]))
	pos += 4
	if nBlockDel > 0 {
		m.delBlocks = make(map[Hash]struct{}, nBlockDel)
	}
	for i := 0; i < nBlockDel; i++ {
		if err := need(32); err != nil {
			return m, err
		}
		var h Hash
		copy(h[:], data[pos:pos+32])
		pos += 32
		m.delBlocks[h] = struct{}{}
	}

	if err := need(4); err != nil {
		return m, err
	}
	nBucketSet := int(binary.LittleEndian.Uint32(data[pos:]))
	pos += 4
	if nBucketSet > 0 {
		m.buckets = make(map[string]uint64, nBucketSet)
	}
	for i := 0; i < nBucketSet; i++ {
		if err := need(2); err != nil {
			return m, err
		}
		l := int(binary.LittleEndian.Uint16(data[pos:]))
		pos += 2
		if err := need(l + 8); err != nil {
			return m, err
		}
		name := string(data[pos : pos+l])
		pos += l
		pid := binary.LittleEndian.Uint64(data[pos:])
		pos += 8
		m.buckets[name] = pid
	}

	if err := need(4); err != nil {
		return m, err
	}
	nBucketDel := int(binary.LittleEndian.Uint32(data[pos:]))
	pos += 4
	if nBucketDel > 0 {
		m.delBuckets = make(map[string]struct{}, nBucketDel)
	}
	for i := 0; i < nBucketDel; i++ {
		if err := need(2); err != nil {
			return m, err
		}
		l := int(binary.LittleEndian.Uint16(data[pos:]))
		pos += 2
		if err := need(l); err != nil {
			return m, err
		}
		name := string(data[pos : pos+l])
		pos += l
		m.delBuckets[name] = struct{}{}
	}

	return m, nil
}
