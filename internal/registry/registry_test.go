package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/feedhawk/signalscout/internal/models"
	"github.com/feedhawk/signalscout/internal/storage"
)

func newTestRegistry(t *testing.T) (*Registry, *storage.Storage) {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	r, err := New(store, 30*time.Second, 8*time.Minute)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	return r, store
}

func TestRegistry_AddAndDuplicate(t *testing.T) {
	r, _ := newTestRegistry(t)

	a, err := r.Add("whalewatch")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if a.ID == "" || a.Handle != "whalewatch" || !a.Enabled {
		t.Errorf("unexpected account: %+v", a)
	}

	if _, err := r.Add("whalewatch"); !errors.Is(err, models.ErrDuplicateAccount) {
		t.Errorf("expected ErrDuplicateAccount, got %v", err)
	}
}

func TestRegistry_ListEnabled_StableOrder(t *testing.T) {
	r, _ := newTestRegistry(t)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	r.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	first, _ := r.Add("alpha")
	second, _ := r.Add("beta")
	third, _ := r.Add("gamma")

	list := r.ListEnabled()
	if len(list) != 3 {
		t.Fatalf("got %d accounts, want 3", len(list))
	}
	if list[0].ID != first.ID || list[1].ID != second.ID || list[2].ID != third.ID {
		t.Error("ListEnabled is not in added order")
	}

	if err := r.SetEnabled(second.ID, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	list = r.ListEnabled()
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != third.ID {
		t.Errorf("disabled account still listed: %v", list)
	}
}

func TestRegistry_AdvanceCursor(t *testing.T) {
	r, _ := newTestRegistry(t)
	a, _ := r.Add("whalewatch")

	if err := r.AdvanceCursor(a.ID, "100"); err != nil {
		t.Fatalf("AdvanceCursor from empty: %v", err)
	}
	if err := r.AdvanceCursor(a.ID, "250"); err != nil {
		t.Fatalf("AdvanceCursor forward: %v", err)
	}

	// Equal and backwards movements are both stale.
	if err := r.AdvanceCursor(a.ID, "250"); !errors.Is(err, models.ErrStaleCursor) {
		t.Errorf("equal cursor: expected ErrStaleCursor, got %v", err)
	}
	if err := r.AdvanceCursor(a.ID, "99"); !errors.Is(err, models.ErrStaleCursor) {
		t.Errorf("backwards cursor: expected ErrStaleCursor, got %v", err)
	}

	got, _ := r.Get(a.ID)
	if got.Cursor != "250" {
		t.Errorf("cursor = %q, want 250", got.Cursor)
	}

	if err := r.AdvanceCursor("missing", "1"); !errors.Is(err, models.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestCursorLess(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"", "100", true},
		{"100", "", false},
		{"", "", false},
		{"100", "200", true},
		{"200", "100", false},
		{"100", "100", false},
		// Numeric comparison, not lexicographic: 99 < 100.
		{"99", "100", true},
		{"9999999999999999999", "10000000000000000000", true},
		// Non-numeric markers: length then lexicographic.
		{"abc", "abd", true},
		{"zz", "aaa", true},
	}
	for _, tt := range tests {
		if got := cursorLess(tt.a, tt.b); got != tt.want {
			t.Errorf("cursorLess(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestRegistry_Persistence(t *testing.T) {
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	defer store.Close()

	r1, err := New(store, time.Second, time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a, _ := r1.Add("whalewatch")
	if err := r1.AdvanceCursor(a.ID, "12345"); err != nil {
		t.Fatalf("AdvanceCursor: %v", err)
	}

	// A fresh registry over the same store sees the same accounts.
	r2, err := New(store, time.Second, time.Minute)
	if err != nil {
		t.Fatalf("New (reload): %v", err)
	}
	got, err := r2.Get(a.ID)
	if err != nil {
		t.Fatalf("Get after reload: %v", err)
	}
	if got.Handle != "whalewatch" || got.Cursor != "12345" {
		t.Errorf("reloaded account = %+v", got)
	}
}

func TestRegistry_Backoff(t *testing.T) {
	r, _ := newTestRegistry(t)
	a, _ := r.Add("whalewatch")

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	if !r.Eligible(a.ID, now) {
		t.Fatal("account should be eligible before any backoff")
	}

	// First hit: base delay (30s).
	r.ApplyBackoff(a.ID)
	if r.Eligible(a.ID, now.Add(29*time.Second)) {
		t.Error("eligible before base delay elapsed")
	}
	if !r.Eligible(a.ID, now.Add(30*time.Second)) {
		t.Error("not eligible after base delay elapsed")
	}

	// Second hit doubles: 60s.
	r.ApplyBackoff(a.ID)
	if r.Eligible(a.ID, now.Add(59*time.Second)) {
		t.Error("eligible before doubled delay elapsed")
	}
	if !r.Eligible(a.ID, now.Add(60*time.Second)) {
		t.Error("not eligible after doubled delay elapsed")
	}

	// Repeated hits clamp at the ceiling (8m).
	for i := 0; i < 10; i++ {
		r.ApplyBackoff(a.ID)
	}
	if r.Eligible(a.ID, now.Add(8*time.Minute-time.Second)) {
		t.Error("eligible before ceiling delay elapsed")
	}
	if !r.Eligible(a.ID, now.Add(8*time.Minute)) {
		t.Error("hold-off exceeded the configured ceiling")
	}

	// Success resets to base.
	r.ResetBackoff(a.ID)
	if !r.Eligible(a.ID, now) {
		t.Error("account should be eligible immediately after reset")
	}
	r.ApplyBackoff(a.ID)
	if !r.Eligible(a.ID, now.Add(30*time.Second)) {
		t.Error("backoff after reset should restart at the base delay")
	}
}

func TestRegistry_Remove(t *testing.T) {
	r, _ := newTestRegistry(t)
	a, _ := r.Add("whalewatch")
	r.ApplyBackoff(a.ID)

	if err := r.Remove(a.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := r.Get(a.ID); !errors.Is(err, models.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound after removal, got %v", err)
	}
	if err := r.RemoveByHandle("whalewatch"); !errors.Is(err, models.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}
