package brain

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NerovaAutomation/nerovaagent-sub000/pkg/models"
)

const (
	defaultSessionTTL   = 30 * time.Minute
	defaultSessionSweep = 5 * time.Minute
)

// Session accumulates the milestone history shared by every critic call
// that presents the same session id.
type Session struct {
	ID              string    `json:"id"`
	CurrentURL      string    `json:"currentUrl,omitempty"`
	CompleteHistory []string  `json:"completeHistory"`
	CreatedAt       time.Time `json:"createdAt"`
	LastSeen        time.Time `json:"lastSeen"`
}

// SessionStore keeps brain sessions in memory and forgets the idle ones.
type SessionStore struct {
	mu       sync.RWMutex
	ttl      time.Duration
	sessions map[string]*Session
	nowFunc  func() time.Time // For testing
}

// NewSessionStore creates a store that expires sessions idle longer than
// ttl. A non-positive ttl selects the 30 minute default.
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionStore{
		ttl:      ttl,
		sessions: map[string]*Session{},
		nowFunc:  time.Now,
	}
}

// Ensure returns the live session with the given id, creating a fresh one
// when the id is blank, unknown, or expired. The returned value is a
// snapshot; mutating it does not touch the store.
func (s *SessionStore) Ensure(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	if id != "" {
		if sess, ok := s.sessions[id]; ok && !s.expired(sess, now) {
			sess.LastSeen = now
			return cloneSession(sess)
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	sess := &Session{ID: id, CreatedAt: now, LastSeen: now}
	s.sessions[id] = sess
	return cloneSession(sess)
}

// Advance folds additions into the session history, records the page the
// run is on, and returns the updated snapshot. Unknown or expired ids get
// a fresh session under the same id.
func (s *SessionStore) Advance(id, currentURL string, additions []string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	sess, ok := s.sessions[id]
	if !ok || s.expired(sess, now) {
		sess = &Session{ID: id, CreatedAt: now}
		s.sessions[id] = sess
	}
	sess.CompleteHistory = models.MergeHistory(sess.CompleteHistory, additions)
	if currentURL != "" {
		sess.CurrentURL = currentURL
	}
	sess.LastSeen = now
	return cloneSession(sess)
}

// Get returns a snapshot of the session, or nil when it is unknown.
func (s *SessionStore) Get(id string) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	return cloneSession(sess)
}

// Len reports the number of tracked sessions, expired ones included.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep drops every session idle longer than the TTL and reports how many
// were removed.
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	removed := 0
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// StartSweeping runs Sweep on the given interval until ctx is cancelled.
// A non-positive interval selects the 5 minute default.
func (s *SessionStore) StartSweeping(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultSessionSweep
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

func (s *SessionStore) expired(sess *Session, now time.Time) bool {
	return now.Sub(sess.LastSeen) > s.ttl
}

func cloneSession(sess *Session) *Session {
	clone := *sess
	clone.CompleteHistory = append([]string(nil), sess.CompleteHistory...)
	return &clone
}
