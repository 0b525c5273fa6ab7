package state

import (
	"sync"
	"time"

	"github.com/k25dtcn010/erp-tauri-sub000/internal/models"
)

// Store wraps the reducer behind a mutex for concurrent use from the UI
// and the refresh loop. The clock is injectable for tests.
type Store struct {
	mu    sync.Mutex
	state State
	now   func() time.Time
}

// NewStore creates a store starting from the idle boot state.
func NewStore() *Store {
	return NewStoreWithClock(time.Now)
}

// NewStoreWithClock creates a store with an injected clock.
func NewStoreWithClock(now func() time.Time) *Store {
	return &Store{state: Initial(), now: now}
}

// PerformCheckIn applies the optimistic check-in transition and opens the
// protection window. Returns the new state.
func (s *Store) PerformCheckIn() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Reduce(s.state, CheckIn{At: s.now()})
	return s.state
}

// PerformCheckOut applies the optimistic check-out transition and opens
// the protection window. Returns the new state.
func (s *Store) PerformCheckOut() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Reduce(s.state, CheckOut{At: s.now()})
	return s.state
}

// ApplyToday reconciles a fetched today payload into the state, honoring
// the protection window. Returns the new state.
func (s *Store) ApplyToday(today models.TodayAttendance) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Reduce(s.state, ServerRefresh{Today: today, Now: s.now()})
	return s.state
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
