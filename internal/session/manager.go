package session

import "sync"

// Manager owns the session map. Safe for concurrent use.
type Manager struct {
	cache sync.Map // key → *Session
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// GetOrCreate returns the session for key, creating an empty one if needed.
func (m *Manager) GetOrCreate(key string) *Session {
	if v, ok := m.cache.Load(key); ok {
		return v.(*Session)
	}
	actual, _ := m.cache.LoadOrStore(key, newSession(key))
	return actual.(*Session)
}

// Clear empties the session for key. Used by the /new command.
func (m *Manager) Clear(key string) {
	if v, ok := m.cache.Load(key); ok {
		v.(*Session).Clear()
	}
}

// Keys returns the keys of all live sessions.
func (m *Manager) Keys() []string {
	var out []string
	m.cache.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	n := 0
	m.cache.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
