package dashboard

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/efebarandurmaz/codelens/internal/view"
)

// ErrViewNotFound is returned for unknown or evicted view sessions.
var ErrViewNotFound = errors.New("view not found")

// Session is one browser's expand/collapse state over a repository graph.
type Session struct {
	ID         string
	RepoID     string
	Controller *view.Controller
	CreatedAt  time.Time

	lastUsed time.Time
}

// Sessions holds view sessions, evicting the least recently used past max.
type Sessions struct {
	mu    sync.Mutex
	views map[string]*Session
	max   int
	now   func() time.Time
}

// NewSessions creates a session table; max <= 0 means unbounded.
func NewSessions(max int) *Sessions {
	return &Sessions{views: make(map[string]*Session), max: max, now: time.Now}
}

// Create registers a new session and returns it together with any sessions
// evicted to make room.
func (s *Sessions) Create(repoID string, ctrl *view.Controller) (*Session, []*Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess := &Session{
		ID:         uuid.NewString(),
		RepoID:     repoID,
		Controller: ctrl,
		CreatedAt:  now,
		lastUsed:   now,
	}
	s.views[sess.ID] = sess

	var evicted []*Session
	for s.max > 0 && len(s.views) > s.max {
		oldest := s.oldestLocked(sess.ID)
		if oldest == nil {
			break
		}
		delete(s.views, oldest.ID)
		evicted = append(evicted, oldest)
	}
	return sess, evicted
}

func (s *Sessions) oldestLocked(keep string) *Session {
	var oldest *Session
	for id, v := range s.views {
		if id == keep {
			continue
		}
		if oldest == nil || v.lastUsed.Before(oldest.lastUsed) {
			oldest = v
		}
	}
	return oldest
}

// Get returns a session and marks it as used.
func (s *Sessions) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.views[id]
	if !ok {
		return nil, ErrViewNotFound
	}
	sess.lastUsed = s.now()
	return sess, nil
}

// Delete discards a session.
func (s *Sessions) Delete(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.views[id]
	if !ok {
		return nil, ErrViewNotFound
	}
	delete(s.views, id)
	return sess, nil
}

// Len returns the number of open sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.views)
}

// Clear discards every session and reports how many were open.
func (s *Sessions) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.views)
	clear(s.views)
	return n
}
