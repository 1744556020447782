package pool

import "testing"

func TestLimiter_RejectsWhenFull(t *testing.T) {
	limiter := NewLimiter(2)

	if !limiter.TryAcquire() {
		t.Fatal("First acquire should succeed")
	}
	if !limiter.TryAcquire() {
		t.Fatal("Second acquire should succeed")
	}
	if limiter.TryAcquire() {
		t.Fatal("Third acquire should be rejected")
	}

	limiter.Release()

	if !limiter.TryAcquire() {
		t.Fatal("Acquire after release should succeed")
	}
}

func TestLimiter_ZeroSizeGetsOneSlot(t *testing.T) {
	limiter := NewLimiter(0)

	if !limiter.TryAcquire() {
		t.Fatal("Expected at least one slot")
	}
	if limiter.TryAcquire() {
		t.Fatal("Expected a single slot")
	}
}
