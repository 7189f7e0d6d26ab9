package bufferpool

import "testing"

func TestLeaseSize(t *testing.T) {
	p := New(32)

	buf := p.Lease()
	if len(buf) != 32 {
		t.Fatalf("lease size: got %d, want 32", len(buf))
	}

	buf[0] = 23
	p.Release(buf)

	buf2 := p.Lease()
	if len(buf2) != 32 {
		t.Fatalf("re-leased size: got %d, want 32", len(buf2))
	}
}

func TestReleaseUndersizedBufferIsDropped(t *testing.T) {
	p := New(32)
	// A buffer smaller in capacity than the pool's size must not be
	// reinserted, or a later Lease could return a too-small slice.
	p.Release(make([]byte, 0, 4))

	buf := p.Lease()
	if len(buf) != 32 {
		t.Fatalf("lease size after dropped release: got %d, want 32", len(buf))
	}
}
