package core

// session.go holds the per-browser session record and the store abstraction
// the auth container writes through. Every mutation goes through
// SessionStore.Update so a whole change is applied atomically.

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("session not found")

// DefaultSessionTTL is how long an untouched session stays valid.
const DefaultSessionTTL = 24 * time.Hour

// NoticeLevel classifies a notice for display.
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
	NoticeWarning NoticeLevel = "warning"
)

// Notice is a transient user-visible message, shown once on the next page view.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// Session is the server-side state of one browser.
type Session struct {
	ID         string    `json:"id"`
	Auth       AuthState `json:"auth"`
	Notices    []Notice  `json:"notices,omitempty"`
	OAuthState string    `json:"oauth_state,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Clone returns a deep copy safe to hand out of a store.
func (s *Session) Clone() *Session {
	c := *s
	if s.Notices != nil {
		c.Notices = append([]Notice(nil), s.Notices...)
	}
	return &c
}

// NewSession returns a fresh session with a random id.
func NewSession(now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SessionStore persists sessions. Implementations must apply Update atomically
// with respect to other Updates of the same id.
type SessionStore interface {
	Create(ctx context.Context) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	// Update loads the session, calls fn on it and stores the result. If fn
	// returns an error nothing is stored and the error is returned. fn may be
	// called more than once and must only change the session it is given.
	Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error)
	// Rotate moves the session to a fresh id and returns it. The old id stops
	// resolving.
	Rotate(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// MemorySessionStore keeps sessions in process memory.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewMemorySessionStore creates a store whose sessions expire after ttl of inactivity.
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &MemorySessionStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (m *MemorySessionStore) Create(ctx context.Context) (*Session, error) {
	s := NewSession(m.now())

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	return s.Clone(), nil
}

func (m *MemorySessionStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

func (m *MemorySessionStore) Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	working := s.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.ID = s.ID
	working.UpdatedAt = m.now()
	m.sessions[id] = working

	return working.Clone(), nil
}

func (m *MemorySessionStore) Rotate(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	moved := s.Clone()
	moved.ID = uuid.NewString()
	moved.UpdatedAt = m.now()
	m.sessions[moved.ID] = moved
	delete(m.sessions, id)

	return moved.Clone(), nil
}

func (m *MemorySessionStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

// Sweep drops expired sessions and returns their ids.
func (m *MemorySessionStore) Sweep(ctx context.Context) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.ttl)
	var removed []string
	for id, s := range m.sessions {
		if s.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// Len returns the number of stored sessions, expired or not.
func (m *MemorySessionStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// lookup must be called with mu held.
func (m *MemorySessionStore) lookup(id string) (*Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if m.now().Sub(s.UpdatedAt) > m.ttl {
		delete(m.sessions, id)
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Notifier delivers notices to the user of a session.
type Notifier interface {
	Notify(ctx context.Context, sessionID string, n Notice)
}

// FlashNotifier queues notices on the session so the next rendered page shows them.
type FlashNotifier struct {
	store SessionStore
}

// NewFlashNotifier creates a notifier backed by store.
func NewFlashNotifier(store SessionStore) *FlashNotifier {
	return &FlashNotifier{store: store}
}

// Notify appends n to the session's pending notices. Unknown sessions are ignored.
func (f *FlashNotifier) Notify(ctx context.Context, sessionID string, n Notice) {
	_, _ = f.store.Update(ctx, sessionID, func(s *Session) error {
		s.Notices = append(s.Notices, n)
		return nil
	})
}

// TakeNotices removes and returns the session's pending notices.
func TakeNotices(ctx context.Context, store SessionStore, sessionID string) ([]Notice, error) {
	var taken []Notice
	_, err := store.Update(ctx, sessionID, func(s *Session) error {
		taken = s.Notices
		s.Notices = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	return taken, nil
}
