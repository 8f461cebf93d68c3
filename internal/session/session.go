package session

import (
	"fmt"
	"sync"
	"time"
)

// Session is owned by a user identifier and holds an ordered mapping of
// thread id -> Thread, with exactly one thread active at a time. Threads
// persist across disconnects (they are not torn down when a channel
// connection drops).
type Session struct {
	UserID         string
	Threads        map[string]*Thread
	ThreadOrder    []string
	ActiveThreadID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func newSession(userID string) *Session {
	now := time.Now().UTC()
	return &Session{
		UserID:    userID,
		Threads:   map[string]*Thread{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Manager owns the live map of user id -> Session, guarding every access
// with a read/write lock the same way jobctx.ContextManager guards its
// job-context map: writers hold the lock across the entire
// check-then-insert/update, read-only lookups take a read lock and
// return thread pointers owned by the caller's session (threads are not
// deep-cloned out, since §5's shared-state model has the session engine
// itself serialize access per thread).
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager returns an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: map[string]*Session{}}
}

// GetOrCreateSession returns the session owned by userID, creating one
// with a single fresh thread (made active) if none exists yet.
func (m *Manager) GetOrCreateSession(userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[userID]; ok {
		return s
	}

	s := newSession(userID)
	thread := NewThread()
	s.Threads[thread.ID] = thread
	s.ThreadOrder = append(s.ThreadOrder, thread.ID)
	s.ActiveThreadID = thread.ID
	m.sessions[userID] = s
	return s
}

// ActiveThread returns the currently active thread for userID, creating
// the session (and its first thread) if needed.
func (m *Manager) ActiveThread(userID string) (*Session, *Thread, error) {
	s := m.GetOrCreateSession(userID)

	m.mu.RLock()
	defer m.mu.RUnlock()

	thread, ok := s.Threads[s.ActiveThreadID]
	if !ok {
		return nil, nil, fmt.Errorf("session: active thread %q not found", s.ActiveThreadID)
	}
	return s, thread, nil
}

// NewThread creates a fresh thread under userID's session, makes it
// active, and returns it.
func (m *Manager) NewThread(userID string) *Thread {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		s = newSession(userID)
		m.sessions[userID] = s
	}

	thread := NewThread()
	s.Threads[thread.ID] = thread
	s.ThreadOrder = append(s.ThreadOrder, thread.ID)
	s.ActiveThreadID = thread.ID
	s.UpdatedAt = time.Now().UTC()
	return thread
}

// SwitchThread makes threadID the active thread for userID. Threads are
// looked up by full id or by unique prefix (the `/thread <id>` and
// `/resume <uuid>` submission forms accept either).
func (m *Manager) SwitchThread(userID, threadID string) (*Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		return nil, fmt.Errorf("session: no session for user %q", userID)
	}

	id, thread, err := resolveThreadID(s, threadID)
	if err != nil {
		return nil, err
	}
	s.ActiveThreadID = id
	s.UpdatedAt = time.Now().UTC()
	return thread, nil
}

// GetThread looks up a thread by full id or unique prefix without
// changing which thread is active.
func (m *Manager) GetThread(userID, threadID string) (*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[userID]
	if !ok {
		return nil, fmt.Errorf("session: no session for user %q", userID)
	}
	_, thread, err := resolveThreadID(s, threadID)
	return thread, err
}

func resolveThreadID(s *Session, threadID string) (string, *Thread, error) {
	if thread, ok := s.Threads[threadID]; ok {
		return threadID, thread, nil
	}
	var matchID string
	var match *Thread
	for id, thread := range s.Threads {
		if len(threadID) > 0 && len(id) >= len(threadID) && id[:len(threadID)] == threadID {
			if match != nil {
				return "", nil, fmt.Errorf("session: ambiguous thread prefix %q", threadID)
			}
			matchID, match = id, thread
		}
	}
	if match == nil {
		return "", nil, fmt.Errorf("session: thread %q not found", threadID)
	}
	return matchID, match, nil
}

// ListThreads returns the session's threads in creation order.
func (m *Manager) ListThreads(userID string) ([]*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[userID]
	if !ok {
		return nil, fmt.Errorf("session: no session for user %q", userID)
	}
	out := make([]*Thread, 0, len(s.ThreadOrder))
	for _, id := range s.ThreadOrder {
		if t, ok := s.Threads[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}
