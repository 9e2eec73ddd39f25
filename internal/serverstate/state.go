package serverstate

import (
	"sync"
	"sync/atomic"
)

// State is the lifecycle snapshot shared by every relay instance using the
// same store.
type State struct {
	Status   string `json:"status"`
	Draining bool   `json:"draining"`
}

// Store persists the lifecycle State.
type Store interface {
	Load() State
	Store(State)
}

type memoryStore struct {
	mu sync.RWMutex
	st State
}

// NewMemoryStore returns a process-local Store.
func NewMemoryStore() Store {
	return &memoryStore{st: State{Status: "not_ready"}}
}

func (m *memoryStore) Load() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st
}

func (m *memoryStore) Store(s State) {
	m.mu.Lock()
	m.st = s
	m.mu.Unlock()
}

var active Store = NewMemoryStore()

// draining is kept locally as well so a relay stops accepting work even when
// the shared store cannot be reached.
var draining atomic.Bool

// UseStore replaces the store backing the package functions.
func UseStore(s Store) {
	if s == nil {
		s = NewMemoryStore()
	}
	active = s
	draining.Store(s.Load().Draining)
}

// SetState sets the server status string.
func SetState(s string) {
	st := active.Load()
	st.Status = s
	active.Store(st)
}

// GetState returns the current server status.
func GetState() string {
	if st := active.Load().Status; st != "" {
		return st
	}
	return "unknown"
}

// StartDrain marks the server as draining.
func StartDrain() {
	draining.Store(true)
	active.Store(State{Status: "draining", Draining: true})
}

// IsDraining reports whether the server is draining.
func IsDraining() bool {
	return draining.Load() || active.Load().Draining
}
