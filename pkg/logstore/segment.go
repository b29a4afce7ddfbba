package logstore

import (
	"encoding/binary"

	"pagecache/pkg/errs"
)

// Segment header, written as the first SegmentHeaderSize bytes of
// every segment-aligned window in the log file:
//
//	u32 magic               (segmentMagic)
//	u64 lsn_base            (this segment's starting offset)
//	u64 segment_flush_lsn   (written as 0; headers are not rewritten)
//	u8[12] reserved
const (
	SegmentHeaderSize = 32
	segmentMagic      = 0x50434C47 // "PCLG"
)

type segmentHeader struct {
	LSNBase        uint64
	SegmentFlushLSN uint64
}

func encodeSegmentHeader(h segmentHeader) []byte {
	buf := make([]byte, SegmentHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], segmentMagic)
	binary.LittleEndian.PutUint64(buf[4:12], h.LSNBase)
	binary.LittleEndian.PutUint64(buf[12:20], h.SegmentFlushLSN)
	// buf[20:32] reserved, left zero.
	return buf
}

func decodeSegmentHeader(buf []byte) (segmentHeader, error) {
	if len(buf) < SegmentHeaderSize {
		return segmentHeader{}, errs.New(errs.Corruption, "logstore.decodeSegmentHeader", errShort)
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != segmentMagic {
		return segmentHeader{}, errs.New(errs.Corruption, "logstore.decodeSegmentHeader", errBadMagic)
	}
	return segmentHeader{
		LSNBase:         binary.LittleEndian.Uint64(buf[4:12]),
		SegmentFlushLSN: binary.LittleEndian.Uint64(buf[12:20]),
	}, nil
}

const errBadMagic = staticErr("bad segment header magic")
