// Package logstore implements the append-only segmented log: record
// framing, the write-reservation protocol, and the segment
// accountant that gates segment reuse.
package logstore

import (
	"encoding/binary"
	"hash/crc32"

	"pagecache/pkg/errs"
)

// Kind identifies a log record's role, matching spec framing exactly.
type Kind uint8

const (
	KindPad Kind = iota
	KindAllocate
	KindLink
	KindReplace
	KindFree
	// KindMeta is reserved. The meta page is pid 0 in the same
	// pid-space as regular pages, so its records use KindAllocate,
	// KindLink and KindReplace like any other page; pid disambiguates.
	KindMeta
)

func (k Kind) String() string {
	switch k {
	case KindPad:
		return "pad"
	case KindAllocate:
		return "allocate"
	case KindLink:
		return "link"
	case KindReplace:
		return "replace"
	case KindFree:
		return "free"
	case KindMeta:
		return "meta"
	default:
		return "unknown"
	}
}

// Record framing:
//
//	u32 len            (payload length, excl. header and CRC)
//	u8  kind
//	u64 pid            (ignored for Pad)
//	[payload bytes]
//	u32 crc32          (over kind..payload)
//
// fixedOverhead is everything but the payload: len(4) + kind(1) +
// pid(8) + crc(4) = 17. minRecordSize is the smallest on-disk size a
// record can occupy once aligned to 8 bytes.
const (
	fixedOverhead = 4 + 1 + 8 + 4
	minRecordSize = 24 // align8(fixedOverhead + 0)
)

func alignUp8(n int) int { return (n + 7) &^ 7 }

// Record is a decoded log entry.
type Record struct {
	Kind    Kind
	Pid     uint64
	Payload []byte
}

// encode serializes kind/pid/payload into a buffer exactly
// alignUp8(fixedOverhead+len(payload)) bytes long.
func encode(kind Kind, pid uint64, payload []byte) []byte {
	raw := fixedOverhead + len(payload)
	size := alignUp8(raw)
	buf := make([]byte, size)

	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	buf[4] = byte(kind)
	binary.LittleEndian.PutUint64(buf[5:13], pid)
	copy(buf[13:13+len(payload)], payload)

	crc := crc32.ChecksumIEEE(buf[4 : 13+len(payload)])
	binary.LittleEndian.PutUint32(buf[13+len(payload):13+len(payload)+4], crc)
	// any bytes after the CRC (raw < size) are the zero alignment pad.
	return buf
}

// encodeExactPad is like encode but used only for a Pad record sized to
// fill exactly padLen bytes (padLen is always a multiple of 8 and at
// least minRecordSize — see Store.Reserve's rollover logic).
func encodeExactPad(padLen int) []byte {
	payloadLen := padLen - fixedOverhead
	return encode(KindPad, 0, make([]byte, payloadLen))
}

// decode reads one record from the front of buf. It returns the
// number of bytes consumed (the record's full on-disk size) and an
// error if buf doesn't contain a well-formed, checksum-valid record.
func decode(buf []byte) (Record, int, error) {
	if len(buf) < fixedOverhead {
		return Record{}, 0, errs.New(errs.Corruption, "logstore.decode", errShort)
	}
	payloadLen := int(binary.LittleEndian.Uint32(buf[0:4]))
	if payloadLen < 0 || fixedOverhead+payloadLen > len(buf) {
		return Record{}, 0, errs.New(errs.Corruption, "logstore.decode", errShort)
	}
	kind := Kind(buf[4])
	pid := binary.LittleEndian.Uint64(buf[5:13])
	payload := buf[13 : 13+payloadLen]

	wantCRC := binary.LittleEndian.Uint32(buf[13+payloadLen : 13+payloadLen+4])
	gotCRC := crc32.ChecksumIEEE(buf[4 : 13+payloadLen])
	if wantCRC != gotCRC {
		return Record{}, 0, errs.New(errs.Corruption, "logstore.decode", errChecksum)
	}

	size := alignUp8(fixedOverhead + payloadLen)
	out := make([]byte, payloadLen)
	copy(out, payload)
	return Record{Kind: kind, Pid: pid, Payload: out}, size, nil
}

type staticErr string

func (e staticErr) Error() string { return string(e) }

const (
	errShort    = staticErr("truncated record")
	errChecksum = staticErr("record checksum mismatch")
)
