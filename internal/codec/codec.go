// Package codec implements the store-wide selectable fragment-payload
// codec: one compression scheme, chosen at store creation time and
// persisted in conf, applied uniformly to every record's payload
// bytes. It never changes the record framing itself (length, kind,
// pid, and CRC32 stay exactly as specified) — only the semantic
// content of the payload region.
package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ID names a registered codec. Persisted in conf as a single byte.
type ID uint8

const (
	None ID = iota
	Snappy
	LZ4
	Zstd
)

func (id ID) String() string {
	switch id {
	case None:
		return "none"
	case Snappy:
		return "snappy"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", id)
	}
}

// ParseID maps a conf string back to an ID.
func ParseID(s string) (ID, error) {
	switch s {
	case "", "none":
		return None, nil
	case "snappy":
		return Snappy, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("codec: unknown codec %q", s)
	}
}

// Codec compresses and decompresses fragment payload bytes.
type Codec interface {
	ID() ID
	Encode(src []byte) ([]byte, error)
	Decode(src []byte) ([]byte, error)
}

// Get returns the Codec for id.
func Get(id ID) (Codec, error) {
	switch id {
	case None:
		return noneCodec{}, nil
	case Snappy:
		return snappyCodec{}, nil
	case LZ4:
		return lz4Codec{}, nil
	case Zstd:
		return zstdCodec{}, nil
	default:
		return nil, fmt.Errorf("codec: unsupported codec id %d", id)
	}
}

type noneCodec struct{}

func (noneCodec) ID() ID                          { return None }
func (noneCodec) Encode(src []byte) ([]byte, error) { return src, nil }
func (noneCodec) Decode(src []byte) ([]byte, error) { return src, nil }

type snappyCodec struct{}

func (snappyCodec) ID() ID { return Snappy }

func (snappyCodec) Encode(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (snappyCodec) Decode(src []byte) ([]byte, error) {
	return snappy.Decode(nil, src)
}

type lz4Codec struct{}

func (lz4Codec) ID() ID { return LZ4 }

func (lz4Codec) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4Codec) Decode(src []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	return io.ReadAll(r)
}

type zstdCodec struct{}

func (zstdCodec) ID() ID { return Zstd }

func (zstdCodec) Encode(src []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(src, nil), nil
}

func (zstdCodec) Decode(src []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(src, nil)
}
