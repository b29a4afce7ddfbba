package block

import (
	"encoding/binary"
	"errors"

	"pagecache/pkg/errs"
)

// NodeCodec is the pagecache.Codec[Node] for block pages. Format:
//
//	u8 hasPrev | (u64 prev)?
//	u8 hasHash | (hash[32])?
//	u32 nSet | (u16 klen, key, u32 vlen, value)*
//	u32 nDel | (u16 klen, key)*
type NodeCodec struct{}

func (NodeCodec) Encode(n Node) []byte {
	buf := make([]byte, 0, 64)

	if n.Prev != nil {
		buf = append(buf, 1)
		var tmp8 [8]byte
		binary.LittleEndian.PutUint64(tmp8[:], *n.Prev)
		buf = append(buf, tmp8[:]...)
	} else {
		buf = append(buf, 0)
	}

	if n.Hash != nil {
		buf = append(buf, 1)
		buf = append(buf, n.Hash...)
	} else {
		buf = append(buf, 0)
	}

	var tmp4 [4]byte
	var tmp2 [2]byte
	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(n.Entries)))
	buf = append(buf, tmp4[:]...)
	for k, v := range n.Entries {
		binary.LittleEndian.PutUint16(tmp2[:], uint16(len(k)))
		buf = append(buf, tmp2[:]...)
		buf = append(buf, k...)
		binary.LittleEndian.PutUint32(tmp4[:], uint32(len(v)))
		buf = append(buf, tmp4[:]...)
		buf = append(buf, v...)
	}

	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(n.Deleted)))
	buf = append(buf, tmp4[:]...)
	for k := range n.Deleted {
		binary.LittleEndian.PutUint16(tmp2[:], uint16(len(k)))
		buf = append(buf, tmp2[:]...)
		buf = append(buf, k...)
	}

	return buf
}

func (NodeCodec) Decode(data []byte) (Node, error) {
	var n Node
	pos := 0

	need := func(k int) error {
		if pos+k > len(data) {
			return errTruncated
		}
		return nil
	}

	if err := need(1); err != nil {
		return n, err
	}
	hasPrev := data[pos] != 0
	pos++
	if hasPrev {
		if err := need(8); err != nil {
			return n, err
		}
		prev := binary.LittleEndian.Uint64(data[pos:])
		pos += 8
		n.Prev = &prev
	}

	if err := need(1); err != nil {
		return n, err
	}
	hasHash := data[pos] != 0
	pos++
	if hasHash {
		if err := need(32); err != nil {
			return n, err
		}
		n.Hash = append([]byte(nil), data[pos:pos+32]...)
		pos += 32
	}

	if err := need(4); err != nil {
		return n, err
	}
	nSet := int(binary.LittleEndian.Uint32(data[pos:]))
	pos += 4
	if nSet > 0 {
		n.Entries = make(map[string][]byte, nSet)
	}
	for i := 0; i < nSet; i++ {
		if err := need(2); err != nil {
			return n, err
		}
		klen := int(binary.LittleEndian.Uint16(data[pos:]))
		pos += 2
		if err := need(klen + 4); err != nil {
			return n, err
		}
		key := string(data[pos : pos+klen])
		pos += klen
		vlen := int(binary.LittleEndian.Uint32(data[pos:]))
		pos += 4
		if err := need(vlen); err != nil {
			return n, err
		}
		n.Entries[key] = append([]byte(nil), data[pos:pos+vlen]...)
		pos += vlen
	}

	if err := need(4); err != nil {
		return n, err
	}
	nDel := int(binary.LittleEndian.Uint32(data[pos:]))
	pos += 4
	if nDel > 0 {
		n.Deleted = make(map[string]struct{}, nDel)
	}
	for i := 0; i < nDel; i++ {
		if err := need(2); err != nil {
			return n, err
		}
		klen := int(binary.LittleEndian.Uint16(data[pos:]))
		pos += 2
		if err := need(klen); err != nil {
			return n, err
		}
		n.Deleted[string(data[pos:pos+klen])] = struct{}{}
		pos += klen
	}

	return n, nil
}

var errTruncated = errs.New(errs.Corruption, "block.decode", errors.New("truncated payload"))
