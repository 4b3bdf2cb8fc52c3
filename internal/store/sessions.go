package store

import (
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/collabdoc/internal/errs"
)

// Sessions is the directory of online users, mapping opaque bearer tokens
// to accounts. At most one live token exists per username: a new login
// silently supersedes the previous one, immediately invalidating the stale
// session's authority.
type Sessions struct {
	mu      sync.RWMutex
	byToken map[string]*User
	byUser  map[string]string // username -> current token
}

// NewSessions constructs an empty session directory.
func NewSessions() *Sessions {
	return &Sessions{
		byToken: make(map[string]*User),
		byUser:  make(map[string]string),
	}
}

// Login issues a fresh token for user, revoking any token previously
// issued to the same username (last-login-wins).
func (s *Sessions) Login(user *User) (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	token := id.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byUser[user.Username]; ok {
		delete(s.byToken, old)
	}
	s.byUser[user.Username] = token
	s.byToken[token] = user
	return token, nil
}

// Resolve returns the account a live token belongs to.
func (s *Sessions) Resolve(token string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byToken[token]
	if !ok {
		return nil, errs.ErrUnauthorized
	}
	return u, nil
}

// Logout forgets the token if it is still the live one for its user.
// A token already superseded by a later login is left alone.
func (s *Sessions) Logout(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byToken[token]
	if !ok {
		return
	}
	delete(s.byToken, token)
	if s.byUser[u.Username] == token {
		delete(s.byUser, u.Username)
	}
}
