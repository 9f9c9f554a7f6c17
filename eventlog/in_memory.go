package eventlog

import (
	"sync"

	"github.com/hupe1980/taskmesh/core"
)

// InMemoryStore is a volatile LogStore implementation storing logs in a
// process local map. It is safe for concurrent access and best suited for
// tests or ephemeral demo setups. Each returned log is cloned to prevent
// external mutation of internal state.
type InMemoryStore struct {
	mu   sync.RWMutex
	logs map[string]*core.Log
}

// NewInMemoryStore constructs an empty in-memory log store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{logs: make(map[string]*core.Log)}
}

// Get returns an existing log (clone) or creates a new one lazily.
func (s *InMemoryStore) Get(id string) (*core.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.logs[id]; ok {
		return l.Clone(), nil
	}
	return s.createLocked(id).Clone(), nil
}

// Create forces the creation (or overwriting) of a log with the given id.
func (s *InMemoryStore) Create(id string) (*core.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(id).Clone(), nil
}

// AppendEvent adds an event to an existing or newly created log.
func (s *InMemoryStore) AppendEvent(id string, ev core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[id]
	if !ok {
		l = s.createLocked(id)
	}
	l.Append(ev)
	return nil
}

// Snapshot returns a consistent copy of the ordered event sequence.
func (s *InMemoryStore) Snapshot(id string) ([]core.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.logs[id]
	if !ok {
		return []core.Event{}, nil
	}
	return l.Snapshot(), nil
}

// createLocked allocates and stores a new log; caller must already hold the
// write lock.
func (s *InMemoryStore) createLocked(id string) *core.Log {
	l := core.NewLog(id)
	s.logs[id] = l
	return l
}
