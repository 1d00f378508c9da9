package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phyntra/backend/internal/conversation"
	"github.com/phyntra/backend/internal/observability"
	"github.com/rs/zerolog"
)

// DefaultMaxSessions limits live conversations to bound memory use.
const DefaultMaxSessions = 100

// SessionKeepAliveWindow protects recently used sessions from cleanup.
const SessionKeepAliveWindow = 5 * time.Minute

// ErrTooManySessions is returned when every slot is held by a session that
// cannot be evicted.
var ErrTooManySessions = errors.New("too many active sessions")

// Factory builds the conversation for a new session.
type Factory func(sessionID string) *conversation.Controller

// Session is one browser session and the conversation it owns.
type Session struct {
	ID           string                   `json:"id"`
	Conversation *conversation.Controller `json:"-"`
	CreatedAt    time.Time                `json:"createdAt"`
	LastAccessed time.Time                `json:"lastAccessed"`
}

// Manager tracks live sessions. Conversations are kept in memory only and
// are closed when their session ends.
type Manager struct {
	sessions    map[string]*Session
	mu          sync.RWMutex
	factory     Factory
	maxSessions int
	onEnd       []func(id string)
	busyFn      func(id string) bool
	log         zerolog.Logger
	now         func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxSessions overrides DefaultMaxSessions.
func WithMaxSessions(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxSessions = n
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// OnEnd registers a hook run after a session ends, by request or by
// cleanup.
func OnEnd(fn func(id string)) Option {
	return func(m *Manager) {
		m.onEnd = append(m.onEnd, fn)
	}
}

// WithBusy adds a check for work the conversation does not track itself,
// such as a running upload batch. Busy sessions are never cleaned up or
// evicted.
func WithBusy(fn func(id string) bool) Option {
	return func(m *Manager) {
		m.busyFn = fn
	}
}

// NewManager creates a session manager.
func NewManager(factory Factory, opts ...Option) *Manager {
	m := &Manager{
		sessions:    make(map[string]*Session),
		factory:     factory,
		maxSessions: DefaultMaxSessions,
		log:         zerolog.Nop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartSession creates a session with a freshly seeded conversation.
func (m *Manager) StartSession() (*Session, error) {
	evicted, err := m.cleanupOldSessionsIfNeeded()
	m.ended(evicted)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	now := m.now()
	s := &Session{
		ID:           id,
		Conversation: m.factory(id),
		CreatedAt:    now,
		LastAccessed: now,
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	observability.ActiveSessions.Inc()

	m.log.Info().Str("session_id", id).Msg("session started")
	copied := *s
	return &copied, nil
}

// GetSession returns the session and marks it as used.
func (m *Manager) GetSession(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	s.LastAccessed = m.now()
	copied := *s
	return &copied, true
}

// TouchSession extends the session's keep-alive window.
func (m *Manager) TouchSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	s.LastAccessed = m.now()
	return true
}

// EndSession closes the session's conversation and forgets it.
func (m *Manager) EndSession(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	m.ended([]*Session{s})
	return true
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupOldSessions ends idle sessions not used within maxAge. Busy
// sessions are kept.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	now := m.now()
	cutoff := now.Add(-maxAge)
	keepAliveCutoff := now.Add(-SessionKeepAliveWindow)

	var expired []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if m.busy(s) {
			continue
		}
		if s.LastAccessed.After(keepAliveCutoff) {
			continue
		}
		if s.LastAccessed.Before(cutoff) {
			delete(m.sessions, id)
			expired = append(expired, s)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		m.log.Info().
			Str("session_id", s.ID).
			Dur("idle", now.Sub(s.LastAccessed).Round(time.Second)).
			Msg("cleaned up aged session")
	}
	m.ended(expired)
	return len(expired)
}

// cleanupOldSessionsIfNeeded evicts the least recently used idle session
// when the manager is full.
func (m *Manager) cleanupOldSessionsIfNeeded() ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) < m.maxSessions {
		return nil, nil
	}

	var idle []*Session
	for _, s := range m.sessions {
		if !m.busy(s) {
			idle = append(idle, s)
		}
	}
	sort.Slice(idle, func(i, j int) bool {
		return idle[i].LastAccessed.Before(idle[j].LastAccessed)
	})

	toFree := len(m.sessions) - m.maxSessions + 1
	if len(idle) < toFree {
		return nil, ErrTooManySessions
	}

	evicted := idle[:toFree]
	for _, s := range evicted {
		delete(m.sessions, s.ID)
		m.log.Info().Str("session_id", s.ID).Msg("evicted session to free capacity")
	}
	return evicted, nil
}

// busy reports whether s has an upload in flight or a batch still queued.
func (m *Manager) busy(s *Session) bool {
	if s.Conversation.Processing() {
		return true
	}
	return m.busyFn != nil && m.busyFn(s.ID)
}

func (m *Manager) ended(sessions []*Session) {
	for _, s := range sessions {
		s.Conversation.Close()
		observability.ActiveSessions.Dec()
		for _, fn := range m.onEnd {
			fn(s.ID)
		}
	}
}
