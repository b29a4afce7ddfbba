package logstore

import (
	"pagecache/pkg/storage"
)

// Visitor receives one decoded record during replay, along with the
// LSN (byte offset) it was written at.
type Visitor func(lsn uint64, rec Record) error

// Replay reads st sequentially from fromOffset (0 for a fresh
// recovery pass) until a torn tail, a bad segment header, or end of
// file, invoking visit for each non-Pad record in order. It returns
// the offset replay stopped at — the next byte a fresh Store.Open
// should treat as its starting write cursor.
//
// Segment boundaries are tracked arithmetically rather than by
// parsing padding: once fewer than minRecordSize bytes remain before
// the next segment boundary, replay jumps straight to it. This keeps
// correctness independent of whether the padding in that gap is a
// well-formed Pad record or a raw zero-fill.
func Replay(st storage.Storage, segSize uint64, fromOffset uint64, visit Visitor) (uint64, error) {
	size, err := st.Size()
	if err != nil {
		return fromOffset, err
	}
	fileSize := uint64(size)
	offset := fromOffset

	for offset < fileSize {
		segStart := (offset / segSize) * segSize
		segEnd := segStart + segSize

		if offset == segStart {
			hdr := make([]byte, SegmentHeaderSize)
			if offset+SegmentHeaderSize > fileSize {
				return offset, nil
			}
			if _, err := st.ReadAt(hdr, int64(offset)); err != nil {
				return offset, nil
			}
			if _, err := decodeSegmentHeader(hdr); err != nil {
				return offset, nil
			}
			offset += SegmentHeaderSize
			continue
		}

		if offset+minRecordSize > segEnd {
			offset = segEnd
			continue
		}

		head := make([]byte, fixedOverhead)
		if offset+fixedOverhead > fileSize {
			return offset, nil
		}
		if _, err := st.ReadAt(head, int64(offset)); err != nil {
			return offset, nil
		}
		payloadLen := decodePayloadLen(head)
		total := alignUp8(fixedOverhead + payloadLen)
		if offset+uint64(total) > fileSize || offset+uint64(total) > segEnd {
			return offset, nil
		}

		buf := make([]byte, total)
		if _, err := st.ReadAt(buf, int64(offset)); err != nil {
			return offset, nil
		}
		rec, consumed, err := decode(buf)
		if err != nil {
			return offset, nil
		}

		if rec.Kind != KindPad {
			if err := visit(offset, rec); err != nil {
				return offset, err
			}
		}
		offset += uint64(consumed)
	}
	return offset, nil
}

func decodePayloadLen(head []byte) int {
	return int(head[0]) | int(head[1])<<8 | int(head[2])<<16 | int(head[3])<<24
}
