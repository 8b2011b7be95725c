// Package inmemory implements session.Store in process memory.
package inmemory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/papercomputeco/relay/pkg/session"
)

// Store implements session.Store using an in-memory map.
type Store struct {
	// mu guards sessions
	mu sync.RWMutex

	// sessions maps conversation id to session
	sessions map[string]*session.Session

	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used to stamp CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore returns an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*session.Session),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new empty session, or returns the existing one.
func (s *Store) Create(_ context.Context, id, userID string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[id]; ok {
		return clone(existing), nil
	}

	sess := &session.Session{
		ID:        id,
		UserID:    userID,
		Messages:  []session.Message{},
		CreatedAt: s.now(),
	}
	s.sessions[id] = sess
	return clone(sess), nil
}

// Get returns a copy of the session for id.
func (s *Store) Get(_ context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, session.NotFoundError{ID: id}
	}
	return clone(sess), nil
}

// Append adds msg to the session for id, if it exists.
func (s *Store) Append(_ context.Context, id string, msg session.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false, nil
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	sess.Messages = append(sess.Messages, msg)
	return true, nil
}

// Rename moves a session to a new id.
func (s *Store) Rename(_ context.Context, oldID, newID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[oldID]
	if !ok || oldID == newID {
		return false, nil
	}
	if _, taken := s.sessions[newID]; taken {
		return false, nil
	}

	delete(s.sessions, oldID)
	sess.ID = newID
	s.sessions[newID] = sess
	return true, nil
}

// Sweep removes sessions created before cutoff.
func (s *Store) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.CreatedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of sessions.
func (s *Store) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.sessions), nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func clone(sess *session.Session) *session.Session {
	cp := *sess
	cp.Messages = slices.Clone(sess.Messages)
	if cp.Messages == nil {
		cp.Messages = []session.Message{}
	}
	return &cp
}
