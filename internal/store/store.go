package store

import (
	"fmt"
	"sync"

	"voicekey/internal/domain"
)

// Store holds the single authoritative overlay state.
// Every access copies or mutates under the lock and releases it before
// returning; callers publish the returned snapshot themselves.
type Store struct {
	mu       sync.Mutex
	current  domain.OverlayState
	poisoned error
}

// New returns a store seeded with initial, normalized.
func New(initial domain.OverlayState) *Store {
	return &Store{current: initial.Normalized()}
}

// NewDefault returns a store seeded with domain.DefaultState.
func NewDefault() *Store {
	return New(domain.DefaultState())
}

// Get returns a copy of the current state.
func (s *Store) Get() (domain.OverlayState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poisoned != nil {
		return domain.OverlayState{}, s.poisoned
	}
	return s.snapshot(), nil
}

// Replace overwrites the whole state with next after clamping and normalization.
func (s *Store) Replace(next domain.OverlayState) (domain.OverlayState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poisoned != nil {
		return domain.OverlayState{}, s.poisoned
	}
	s.current = next.Normalized()
	return s.snapshot(), nil
}

// Update runs fn against the current state under the lock.
// A panic inside fn poisons the store: this and every later call fail with
// domain.ErrLockUnavailable, and the half-applied state is never observable.
func (s *Store) Update(fn func(*domain.OverlayState)) (state domain.OverlayState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poisoned != nil {
		return domain.OverlayState{}, s.poisoned
	}

	working := s.snapshot()
	defer func() {
		if r := recover(); r != nil {
			s.poisoned = domain.LockUnavailable(fmt.Errorf("writer panicked: %v", r))
			state, err = domain.OverlayState{}, s.poisoned
		}
	}()
	fn(&working)

	s.current = working.Normalized()
	return s.snapshot(), nil
}

// Poisoned reports whether a previous writer panicked.
func (s *Store) Poisoned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poisoned != nil
}

func (s *Store) snapshot() domain.OverlayState {
	out := s.current
	if out.Message != nil {
		text := *out.Message
		out.Message = &text
	}
	return out
}
