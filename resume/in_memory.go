package resume

import (
	"sync"
	"time"
)

// InMemoryStore is a volatile Store implementation holding snapshots in a
// process local map. It is safe for concurrent access and best suited for
// tests or ephemeral demo servers. Each returned snapshot is cloned to
// prevent external mutation of internal state.
type InMemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

// NewInMemoryStore constructs an empty in-memory snapshot store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{snapshots: make(map[string]*Snapshot)}
}

// Put stores a clone of the snapshot under the thread id, last write wins.
func (s *InMemoryStore) Put(threadID string, snapshot *Snapshot) error {
	cp, err := snapshot.Clone()
	if err != nil {
		return err
	}
	cp.ThreadID = threadID
	cp.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[threadID] = cp
	return nil
}

// Get returns a clone of the stored snapshot or ErrNotFound.
func (s *InMemoryStore) Get(threadID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	return snap.Clone()
}

// Has reports whether a snapshot exists for the thread id.
func (s *InMemoryStore) Has(threadID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.snapshots[threadID]
	return ok, nil
}
