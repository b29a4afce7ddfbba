package meta

import "testing"

func hashOf(b byte) Hash {
	var h Hash
	h[0] = b
	return h
}

func TestSetAndGetBlock(t *testing.T) {
	m := New()
	h := hashOf(1)
	m = m.Merge(SetBlock(h, 42))

	pid, ok := m.GetBlock(h)
	if !ok || pid != 42 {
		t.Fatalf("GetBlock = %d, %v; want 42, true", pid, ok)
	}
}

func TestDelBlockRemoves(t *testing.T) {
	h := hashOf(2)
	m := New()
	m = m.Merge(SetBlock(h, 7))
	m = m.Merge(DelBlock(h))

	if _, ok := m.GetBlock(h); ok {
		t.Fatalf("expected block removed after DelBlock")
	}
}

func TestBucketRoundTrip(t *testing.T) {
	m := New()
	m = m.Merge(SetBucket("widgets", 3))
	pid, ok := m.GetBucket("widgets")
	if !ok || pid != 3 {
		t.Fatalf("GetBucket = %d, %v; want 3, true", pid, ok)
	}
}

func TestMergeIsPureAndDeterministic(t *testing.T) {
	m := New().Merge(SetBlock(hashOf(1), 1))
	before := m.BlockTenants()

	_ = m.Merge(SetBlock(hashOf(2), 2))

	after := m.BlockTenants()
	if len(before) != len(after) {
		t.Fatalf("Merge mutated the receiver in place")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	d := SetBlock(hashOf(3), 99).Merge(SetBucket("b", 5))
	d = d.Merge(DelBlock(hashOf(4)))

	enc := d.Encode()
	got, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if pid, ok := got.GetBlock(hashOf(3)); !ok || pid != 99 {
		t.Fatalf("decoded block mismatch: %d, %v", pid, ok)
	}
	if pid, ok := got.GetBucket("b"); !ok || pid != 5 {
		t.Fatalf("decoded bucket mismatch: %d, %v", pid, ok)
	}
}

func TestDecodeTruncatedPayload(t *testing.T) {
	if _, err := Decode([]byte{0, 0}); err == nil {
		t.Fatalf("expected error decoding truncated payload")
	}
}
