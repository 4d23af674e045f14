package session

import (
	"iter"
	"sync"

	"github.com/google/uuid"
)

// Store tracks the sessions of all connected clients.
type Store struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[uuid.UUID]*Session)}
}

// Add registers s.
func (st *Store) Add(s *Session) {
	st.mu.Lock()
	st.sessions[s.ID()] = s
	st.mu.Unlock()
}

// Remove forgets the session with the given id.
func (st *Store) Remove(id uuid.UUID) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

// Get retrieves a session by id.
func (st *Store) Get(id uuid.UUID) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.sessions[id]
	return s, ok
}

// Len returns the number of registered sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// All iterates over the sessions registered at the time of the call. The
// store is not locked while the caller handles a session.
func (st *Store) All() iter.Seq[*Session] {
	st.mu.RLock()
	list := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		list = append(list, s)
	}
	st.mu.RUnlock()

	return func(yield func(*Session) bool) {
		for _, s := range list {
			if !yield(s) {
				return
			}
		}
	}
}
