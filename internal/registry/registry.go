// Package registry maintains the set of monitored accounts: registration,
// monotonic cursor advancement, and per-account backoff after upstream rate
// limits. The registry is the in-memory authority, seeded from storage at
// startup and written through on every mutation.
package registry

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feedhawk/signalscout/internal/models"
	"github.com/feedhawk/signalscout/internal/storage"
)

type backoffState struct {
	level        int
	nextEligible time.Time
}

// Registry is safe for concurrent use by the scheduler and its workers.
type Registry struct {
	mu       sync.Mutex
	store    *storage.Storage
	accounts map[string]*models.Account
	backoff  map[string]*backoffState

	base    time.Duration
	ceiling time.Duration
	now     func() time.Time
}

// New loads all persisted accounts and returns a ready registry. base and
// ceiling bound the exponential backoff applied after upstream rate limits.
func New(store *storage.Storage, base, ceiling time.Duration) (*Registry, error) {
	r := &Registry{
		store:    store,
		accounts: make(map[string]*models.Account),
		backoff:  make(map[string]*backoffState),
		base:     base,
		ceiling:  ceiling,
		now:      time.Now,
	}
	persisted, err := store.ListAccounts()
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	for i := range persisted {
		a := persisted[i]
		r.accounts[a.ID] = &a
	}
	return r, nil
}

// Add registers a new handle and returns the created account.
// Returns models.ErrDuplicateAccount if the handle is already monitored.
func (r *Registry) Add(handle string) (models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.accounts {
		if a.Handle == handle {
			return models.Account{}, models.ErrDuplicateAccount
		}
	}

	a := &models.Account{
		ID:      uuid.New().String(),
		Handle:  handle,
		Enabled: true,
		AddedAt: r.now(),
	}
	if err := r.store.AddAccount(a); err != nil {
		return models.Account{}, err
	}
	r.accounts[a.ID] = a
	return *a, nil
}

// Remove deletes an account. Its backoff state is dropped with it.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[id]; !ok {
		return models.ErrAccountNotFound
	}
	if err := r.store.RemoveAccount(id); err != nil {
		return err
	}
	delete(r.accounts, id)
	delete(r.backoff, id)
	return nil
}

// RemoveByHandle deletes the account with the given handle.
func (r *Registry) RemoveByHandle(handle string) error {
	r.mu.Lock()
	id := ""
	for _, a := range r.accounts {
		if a.Handle == handle {
			id = a.ID
			break
		}
	}
	r.mu.Unlock()
	if id == "" {
		return models.ErrAccountNotFound
	}
	return r.Remove(id)
}

// Get returns a copy of the account.
func (r *Registry) Get(id string) (models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return models.Account{}, models.ErrAccountNotFound
	}
	return *a, nil
}

// ListEnabled returns enabled accounts in stable order (added_at, then id).
// This order is the scheduler's rotation base.
func (r *Registry) ListEnabled() []models.Account {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		if a.Enabled {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.Before(out[j].AddedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SetEnabled toggles monitoring for an account without removing it.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return models.ErrAccountNotFound
	}
	if err := r.store.SetAccountEnabled(id, enabled); err != nil {
		return err
	}
	a.Enabled = enabled
	return nil
}

// AdvanceCursor moves an account's cursor forward. It returns
// models.ErrStaleCursor unless newCursor represents strict progress over the
// stored value, so concurrent or replayed updates cannot rewind the cursor
// and re-process already-seen content.
func (r *Registry) AdvanceCursor(id, newCursor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return models.ErrAccountNotFound
	}
	if !cursorLess(a.Cursor, newCursor) {
		return models.ErrStaleCursor
	}
	if err := r.store.UpdateAccountCursor(id, newCursor); err != nil {
		return err
	}
	a.Cursor = newCursor
	return nil
}

// cursorLess reports whether a is strictly behind b. Cursors are tweet IDs
// (snowflakes, numerically increasing); non-numeric markers fall back to
// length-then-lexicographic order. An empty cursor is behind everything.
func cursorLess(a, b string) bool {
	if b == "" {
		return false
	}
	if a == "" {
		return true
	}
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		return na < nb
	}
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// ─── Backoff ─────────────────────────────────────────────────────────────────

// ApplyBackoff records an upstream rate limit for the account: the first hit
// holds it off for the base duration, each subsequent hit doubles the
// hold-off up to the ceiling. It returns the hold-off applied.
func (r *Registry) ApplyBackoff(id string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.backoff[id]
	if !ok {
		st = &backoffState{}
		r.backoff[id] = st
	}
	st.level++
	delay := r.base << (st.level - 1)
	if delay > r.ceiling || delay <= 0 {
		delay = r.ceiling
	}
	st.nextEligible = r.now().Add(delay)
	return delay
}

// ResetBackoff clears backoff state after a successful fetch.
func (r *Registry) ResetBackoff(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.backoff, id)
}

// Eligible reports whether the account may be scheduled at the given time.
func (r *Registry) Eligible(id string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.backoff[id]
	if !ok {
		return true
	}
	return !at.Before(st.nextEligible)
}
