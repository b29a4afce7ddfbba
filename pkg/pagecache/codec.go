package pagecache

import "pagecache/pkg/materializer"

// Codec turns a fragment value into the bytes a log record or
// snapshot carries, and back. It is distinct from internal/codec's
// store-wide compression, which runs on the bytes Codec produces.
type Codec[T any] interface {
	Encode(T) []byte
	Decode([]byte) (T, error)
}

// BytesCodec is the identity Codec for materializer.Bytes, the
// reference concat materializer used by plain byte-blob pages.
type BytesCodec struct{}

func (BytesCodec) Encode(v materializer.Bytes) []byte { return []byte(v) }

func (BytesCodec) Decode(b []byte) (materializer.Bytes, error) {
	out := make(materializer.Bytes, len(b))
	copy(out, b)
	return out, nil
}
