package core

import (
	"sync"
	"time"
)

// Log is an append-only, strictly ordered event sequence for one
// conversation or run. It is safe for concurrent access.
//
// Contract:
//   - Events are never mutated or removed once appended
//   - Snapshot returns a defensive copy consistent as of the call
//   - Readers never block writers beyond the short critical section
type Log struct {
	ID       string            `json:"id"`
	Events   []Event           `json:"events"`
	Created  time.Time         `json:"created"`
	Updated  time.Time         `json:"updated"`
	Metadata map[string]string `json:"metadata"`
	mu       sync.RWMutex
}

// NewLog creates an empty log with the given conversation/run id.
func NewLog(id string) *Log {
	now := time.Now()
	return &Log{ID: id, Events: []Event{}, Created: now, Updated: now, Metadata: map[string]string{}}
}

// Append adds an event to the log updating the Updated timestamp.
func (l *Log) Append(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Events = append(l.Events, ev)
	l.Updated = time.Now()
}

// Snapshot returns a copy of the full event slice so callers can never
// mutate internal state. The copy is consistent as of the call.
func (l *Log) Snapshot() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events := make([]Event, len(l.Events))
	copy(events, l.Events)
	return events
}

// Len returns the number of appended events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.Events)
}

// Clone returns a deep copy of the log safe for independent mutation.
func (l *Log) Clone() *Log {
	l.mu.RLock()
	defer l.mu.RUnlock()
	clone := &Log{ID: l.ID, Events: make([]Event, len(l.Events)), Created: l.Created, Updated: l.Updated, Metadata: make(map[string]string, len(l.Metadata))}
	copy(clone.Events, l.Events)
	for k, v := range l.Metadata {
		clone.Metadata[k] = v
	}
	return clone
}

// LogStore persists event logs keyed by conversation/run id. Implementations
// must be safe for concurrent use and must preserve append order per id.
// Append failures other than ErrLogUnavailable are not part of the contract;
// storage unavailability is fatal to the owning run.
type LogStore interface {
	Create(id string) (*Log, error)
	Get(id string) (*Log, error)
	AppendEvent(id string, event Event) error
	Snapshot(id string) ([]Event, error)
}
