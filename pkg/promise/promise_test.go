package promise

import (
	"errors"
	"testing"
	"time"
)

func TestSubmitGetReturnsResult(t *testing.T) {
	p := NewPool(2, 4)
	defer p.Close()

	f := Submit(p, func() (int, error) { return 42, nil })
	got, err := f.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != 42 {
		t.Fatalf("Get = %d, want 42", got)
	}
}

func TestSubmitPropagatesError(t *testing.T) {
	p := NewPool(1, 1)
	defer p.Close()

	wantErr := errors.New("boom")
	f := Submit(p, func() (int, error) { return 0, wantErr })
	_, err := f.Get()
	if !errors.Is(err, wantErr) {
		t.Fatalf("Get err = %v, want %v", err, wantErr)
	}
}

func TestDoneBeforeAndAfterResolution(t *testing.T) {
	p := NewPool(1, 1)
	defer p.Close()

	release := make(chan struct{})
	f := Submit(p, func() (int, error) {
		<-release
		return 1, nil
	})
	if f.Done() {
		t.Fatalf("Done before work finished")
	}
	close(release)
	if _, err := f.Get(); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !f.Done() {
		t.Fatalf("Done after Get should be true")
	}
}

func TestPoolRunsQueuedWorkConcurrently(t *testing.T) {
	p := NewPool(4, 8)
	defer p.Close()

	const n = 8
	futures := make([]*Future[int], n)
	for i := 0; i < n; i++ {
		i := i
		futures[i] = Submit(p, func() (int, error) {
			time.Sleep(time.Millisecond)
			return i, nil
		})
	}
	for i, f := range futures {
		got, err := f.Get()
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if got != i {
			t.Fatalf("Get(%d) = %d, want %d", i, got, i)
		}
	}
}

func TestGoDiscardsValueKeepsError(t *testing.T) {
	p := NewPool(1, 1)
	defer p.Close()

	wantErr := errors.New("failed")
	f := Go(p, func() error { return wantErr })
	_, err := f.Get()
	if !errors.Is(err, wantErr) {
		t.Fatalf("Get err = %v, want %v", err, wantErr)
	}
}
