// Package wave implements staged role-mutation waves: a staff member stages a
// normalized list of target ids, then executes a sequential promote or demote
// pipeline over them with rate-limited role mutations and streamed progress.
package wave

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultSessionTTL is how long a staged session stays usable.
const DefaultSessionTTL = 10 * time.Minute

// Kind selects the direction of a wave.
type Kind string

const (
	KindPromote Kind = "promote"
	KindDemote  Kind = "demote"
)

// Session store errors, distinguished so the front end can tell the staff
// member what to do next.
var (
	// ErrNoSession means nothing is staged for the requester.
	ErrNoSession = errors.New("no staged session")

	// ErrSessionExpired means the staged session outlived its TTL.
	ErrSessionExpired = errors.New("staged session expired")

	// ErrWrongGuild means the staged session belongs to a different guild.
	ErrWrongGuild = errors.New("staged session belongs to a different guild")
)

// Session is a staged wave: the normalized target list plus the scope it was
// staged in. Sessions are keyed by requester, one per staff member.
type Session struct {
	TargetIDs []string
	GuildID   string
	Kind      Kind
	CreatedAt time.Time
}

// SessionStore holds staged sessions with TTL expiry. Expiry is enforced
// lazily on read and eagerly by the periodic Sweep.
type SessionStore struct {
	ttl    time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewSessionStore creates a session store. A non-positive ttl selects
// DefaultSessionTTL.
func NewSessionStore(ttl time.Duration, logger *slog.Logger) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		ttl:      ttl,
		logger:   logger.With("component", "wave_sessions"),
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// SetNowFunc overrides the clock for tests.
func (s *SessionStore) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = fn
}

// Put stages a session for the requester, replacing any previous one.
// An empty target list is rejected.
func (s *SessionStore) Put(requesterID string, session *Session) error {
	if len(session.TargetIDs) == 0 {
		return errors.New("session has no target ids")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.now()
	}
	s.sessions[requesterID] = session
	s.logger.Debug("session staged",
		"requester_id", requesterID,
		"guild_id", session.GuildID,
		"kind", string(session.Kind),
		"targets", len(session.TargetIDs))
	return nil
}

// Get returns the requester's staged session, enforcing guild scope and TTL.
// An expired session is removed on the spot.
func (s *SessionStore) Get(requesterID, guildID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[requesterID]
	if !ok {
		return nil, ErrNoSession
	}
	if session.GuildID != guildID {
		return nil, ErrWrongGuild
	}
	if s.expiredLocked(session) {
		delete(s.sessions, requesterID)
		return nil, ErrSessionExpired
	}
	return session, nil
}

// Take consumes the requester's staged session: the same guild and TTL
// checks as Get, but the session is removed under the lock before it is
// returned. Of two concurrent callers, exactly one receives the session and
// the other gets ErrNoSession.
func (s *SessionStore) Take(requesterID, guildID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[requesterID]
	if !ok {
		return nil, ErrNoSession
	}
	if session.GuildID != guildID {
		return nil, ErrWrongGuild
	}
	delete(s.sessions, requesterID)
	if s.expiredLocked(session) {
		return nil, ErrSessionExpired
	}
	return session, nil
}

// Delete removes the requester's staged session, if any.
func (s *SessionStore) Delete(requesterID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, requesterID)
}

// Len returns the number of staged sessions, expired or not.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes every expired session and returns how many were dropped.
// Run periodically so abandoned sessions do not sit in memory until the next
// read touches them.
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for requesterID, session := range s.sessions {
		if s.expiredLocked(session) {
			delete(s.sessions, requesterID)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("expired sessions swept", "removed", removed)
	}
	return removed
}

func (s *SessionStore) expiredLocked(session *Session) bool {
	return s.now().Sub(session.CreatedAt) > s.ttl
}
