package server

import (
	"errors"
	"sort"
	"sync"
)

// ErrManagerClosed is returned by Add after CloseAll
var ErrManagerClosed = errors.New("connection manager closed")

// ConnectionManager owns the set of live client sessions
type ConnectionManager struct {
	mu       sync.RWMutex
	sessions map[string]*ClientSession
	closed   bool
}

// NewConnectionManager creates an empty manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{sessions: make(map[string]*ClientSession)}
}

// Add registers a session
func (m *ConnectionManager) Add(s *ClientSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if old, ok := m.sessions[s.ID]; ok && old != s {
		old.Close()
	}
	m.sessions[s.ID] = s
	return nil
}

// Get returns the session for id
func (m *ConnectionManager) Get(id string) (*ClientSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove unregisters and closes the session. It reports whether the session
// was still registered.
func (m *ConnectionManager) Remove(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if ok {
		s.Close()
	}
	return ok
}

// Snapshot returns the live sessions ordered by id
func (m *ConnectionManager) Snapshot() []*ClientSession {
	m.mu.RLock()
	out := make([]*ClientSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of live sessions
func (m *ConnectionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes every session and rejects further Adds
func (m *ConnectionManager) CloseAll() []*ClientSession {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*ClientSession)
	m.mu.Unlock()

	out := make([]*ClientSession, 0, len(sessions))
	for _, s := range sessions {
		s.Close()
		out = append(out, s)
	}
	return out
}
