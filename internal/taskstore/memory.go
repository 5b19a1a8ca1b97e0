package taskstore

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	view     View
	storedAt time.Time
}

// MemoryStore is a mutex-guarded in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ Sweeper = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (View, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	return e.view, ok, nil
}

// SetTerminal implements Store.
func (s *MemoryStore) SetTerminal(_ context.Context, view View) error {
	if err := checkTerminal(view); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[view.ID]; exists {
		return ErrAlreadyTerminal
	}
	s.entries[view.ID] = memoryEntry{view: view, storedAt: s.now()}
	return nil
}

// TakeIfTerminal implements Store.
func (s *MemoryStore) TakeIfTerminal(_ context.Context, id string) (View, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || !e.view.Status.Terminal() {
		return View{}, false, nil
	}
	delete(s.entries, id)
	return e.view, true, nil
}

// Sweep drops entries stored more than olderThan ago and returns how many
// were dropped.
func (s *MemoryStore) Sweep(olderThan time.Duration) int {
	cutoff := s.now().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, e := range s.entries {
		if e.storedAt.Before(cutoff) {
			delete(s.entries, id)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
