package budget

import (
	"math/rand"
	"testing"
	"time"
)

// fakeClock lets tests advance time manually.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTracker(capacity int, window time.Duration) (*Tracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	tr := New(capacity, window)
	tr.now = clock.Now
	tr.start = clock.t
	return tr, clock
}

func TestTryConsume_Basic(t *testing.T) {
	tr, _ := newTracker(5, 900*time.Second)

	for i := 0; i < 5; i++ {
		if !tr.TryConsume(1) {
			t.Fatalf("call %d rejected below capacity", i)
		}
	}
	if tr.TryConsume(1) {
		t.Error("call admitted beyond capacity")
	}
	if got := tr.Remaining(); got != 0 {
		t.Errorf("Remaining() = %d, want 0", got)
	}
}

func TestTryConsume_WindowReset(t *testing.T) {
	tr, clock := newTracker(3, 900*time.Second)

	for i := 0; i < 3; i++ {
		tr.TryConsume(1)
	}
	if tr.TryConsume(1) {
		t.Fatal("window should be exhausted")
	}

	clock.Advance(900 * time.Second)
	if !tr.TryConsume(1) {
		t.Error("expected admission after window elapsed")
	}
	_, consumed, _ := tr.Snapshot()
	if consumed != 1 {
		t.Errorf("consumed after reset = %d, want 1", consumed)
	}
}

func TestTryConsume_CostExceedsCapacity(t *testing.T) {
	tr, _ := newTracker(10, time.Minute)

	if tr.TryConsume(11) {
		t.Error("cost greater than capacity must always be rejected")
	}
	if got := tr.Remaining(); got != 10 {
		t.Errorf("rejected call had side effects: Remaining() = %d, want 10", got)
	}
	if !tr.TryConsume(10) {
		t.Error("cost equal to capacity should be admitted")
	}
}

func TestTryConsume_NonPositiveCost(t *testing.T) {
	tr, _ := newTracker(10, time.Minute)
	if tr.TryConsume(0) || tr.TryConsume(-1) {
		t.Error("non-positive cost must be rejected")
	}
}

// Property: for any interleaving of calls and clock advances, consumed never
// exceeds capacity, and a fresh window always starts from zero.
func TestTryConsume_NeverExceedsCapacity(t *testing.T) {
	tr, clock := newTracker(50, 300*time.Second)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 5000; i++ {
		cost := rng.Intn(12) + 1
		tr.TryConsume(cost)
		if rng.Intn(10) == 0 {
			clock.Advance(time.Duration(rng.Intn(120)) * time.Second)
		}
		_, consumed, capacity := tr.Snapshot()
		if consumed > capacity {
			t.Fatalf("iteration %d: consumed %d exceeds capacity %d", i, consumed, capacity)
		}
		if consumed < 0 {
			t.Fatalf("iteration %d: consumed %d negative", i, consumed)
		}
	}
}
