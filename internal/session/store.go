package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sfc-gh-cguzman/ext-oauth-snowflake-cortex-agents/internal/okta"
	"golang.org/x/oauth2"
)

var (
	// ErrNotFound is returned when a session or login state does not
	// exist or has expired
	ErrNotFound = errors.New("session not found")
)

// Login is a pending OAuth authorization tracked between the redirect
// to Okta and the callback. Keyed by the state parameter.
type Login struct {
	Verifier  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Session is an authenticated browser session
type Session struct {
	ID        string
	Identity  okta.Identity
	Token     *oauth2.Token
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store holds pending logins and authenticated sessions in memory.
// Sessions do not survive restarts; users simply log in again.
type Store struct {
	mu       sync.RWMutex
	logins   map[string]*Login
	sessions map[string]*Session

	sessionTTL time.Duration
	loginTTL   time.Duration
}

// NewStore creates a session store with the given lifetimes
func NewStore(sessionTTL, loginTTL time.Duration) *Store {
	return &Store{
		logins:     make(map[string]*Login),
		sessions:   make(map[string]*Session),
		sessionTTL: sessionTTL,
		loginTTL:   loginTTL,
	}
}

// PutLogin records a pending login keyed by its state parameter
func (s *Store) PutLogin(state, verifier string) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logins[state] = &Login{
		Verifier:  verifier,
		CreatedAt: now,
		ExpiresAt: now.Add(s.loginTTL),
	}
}

// TakeLogin fetches and removes the pending login for a state value.
// Each state is usable exactly once; a replayed state fails.
func (s *Store) TakeLogin(state string) (*Login, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	login, ok := s.logins[state]
	if !ok {
		return nil, ErrNotFound
	}
	delete(s.logins, state)

	if time.Now().After(login.ExpiresAt) {
		return nil, ErrNotFound
	}
	return login, nil
}

// CreateSession stores a new authenticated session and returns it
func (s *Store) CreateSession(identity okta.Identity, token *oauth2.Token) *Session {
	now := time.Now()
	sess := &Session{
		ID:        uuid.NewString(),
		Identity:  identity,
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess

	cp := *sess
	return &cp
}

// GetSession returns the session for an id, or ErrNotFound if it does
// not exist or has expired. The returned session is a copy; the
// canonical one stays inside the store so UpdateToken never races with
// handlers reading token fields.
func (s *Store) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok || time.Now().After(sess.ExpiresAt) {
		return nil, ErrNotFound
	}

	cp := *sess
	return &cp, nil
}

// UpdateToken replaces the OAuth token on an existing session, used
// after a refresh rotates the tokens
func (s *Store) UpdateToken(id string, token *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Token = token
	return nil
}

// DeleteSession removes a session. Deleting a missing session is not
// an error.
func (s *Store) DeleteSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Cleanup removes expired logins and sessions and reports how many
// entries were evicted
func (s *Store) Cleanup() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for state, login := range s.logins {
		if now.After(login.ExpiresAt) {
			delete(s.logins, state)
			removed++
		}
	}
	for id, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Counts returns the number of live pending logins and sessions
func (s *Store) Counts() (logins, sessions int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logins), len(s.sessions)
}
