package codec

import (
	"bytes"
	"testing"
)

func TestRoundTripAllCodecs(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 20)

	for _, id := range []ID{None, Snappy, LZ4, Zstd} {
		c, err := Get(id)
		if err != nil {
			t.Fatalf("Get(%v): %v", id, err)
		}
		enc, err := c.Encode(payload)
		if err != nil {
			t.Fatalf("%v Encode: %v", id, err)
		}
		dec, err := c.Decode(enc)
		if err != nil {
			t.Fatalf("%v Decode: %v", id, err)
		}
		if !bytes.Equal(dec, payload) {
			t.Fatalf("%v round trip mismatch", id)
		}
	}
}

func TestParseID(t *testing.T) {
	cases := map[string]ID{"none": None, "": None, "snappy": Snappy, "lz4": LZ4, "zstd": Zstd}
	for s, want := range cases {
		got, err := ParseID(s)
		if err != nil || got != want {
			t.Fatalf("ParseID(%q) = %v, %v; want %v, nil", s, got, err, want)
		}
	}
	if _, err := ParseID("bogus"); err == nil {
		t.Fatalf("expected error for unknown codec name")
	}
}
