// Package budget implements the fixed-window rate budget shared by all
// polling activity. It is the single arbiter of whether an external call may
// happen now; it knows nothing about accounts.
package budget

import (
	"sync"
	"time"
)

// Tracker maintains one process-wide rate window. Admission is
// all-or-nothing: a cost is either fully debited or the call is rejected
// with no side effects.
type Tracker struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	start    time.Time
	consumed int
	now      func() time.Time
}

// New creates a tracker with the given capacity per window duration.
func New(capacity int, window time.Duration) *Tracker {
	t := &Tracker{
		capacity: capacity,
		window:   window,
		now:      time.Now,
	}
	t.start = t.now()
	return t
}

// TryConsume debits cost from the current window if it fits and reports
// whether the call was admitted. A cost greater than the window capacity is
// never admitted. The window resets lazily once its duration has elapsed.
func (t *Tracker) TryConsume(cost int) bool {
	if cost <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfElapsed()
	if t.consumed+cost > t.capacity {
		return false
	}
	t.consumed += cost
	return true
}

// Remaining reports the budget left in the current window.
func (t *Tracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetIfElapsed()
	return t.capacity - t.consumed
}

// Snapshot returns the current window state for reporting.
func (t *Tracker) Snapshot() (start time.Time, consumed, capacity int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetIfElapsed()
	return t.start, t.consumed, t.capacity
}

// resetIfElapsed must be called with the mutex held.
func (t *Tracker) resetIfElapsed() {
	if now := t.now(); !now.Before(t.start.Add(t.window)) {
		t.start = now
		t.consumed = 0
	}
}
