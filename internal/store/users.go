package store

import (
	"errors"
	"sync"

	"github.com/and161185/collabdoc/internal/crypto"
	"github.com/and161185/collabdoc/internal/errs"
)

// Users is the durable credential store: username -> account. Registration
// enforces username uniqueness; authentication verifies the password hash.
// It is independent from the session directory.
type Users struct {
	mu     sync.RWMutex
	byName map[string]*User
}

// NewUsers constructs an empty credential store.
func NewUsers() *Users {
	return &Users{byName: make(map[string]*User)}
}

// Register creates a new account. It fails with errs.ErrAlreadyExists if
// the username is taken.
func (s *Users) Register(username, password string) error {
	if username == "" || password == "" {
		return errors.New("empty username or password")
	}
	salt, err := crypto.NewSalt()
	if err != nil {
		return err
	}
	u := &User{
		Username:     username,
		PasswordHash: crypto.HashPassword([]byte(password), salt),
		Salt:         salt,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[username]; exists {
		return errs.ErrAlreadyExists
	}
	s.byName[username] = u
	return nil
}

// Authenticate verifies the credentials and returns the account. Unknown
// usernames and wrong passwords are indistinguishable to the caller.
func (s *Users) Authenticate(username, password string) (*User, error) {
	s.mu.RLock()
	u, ok := s.byName[username]
	s.mu.RUnlock()
	if !ok || !u.CheckPassword(password) {
		return nil, errs.ErrUnauthorized
	}
	return u, nil
}

// Lookup returns the account for username, for SHARE target resolution.
func (s *Users) Lookup(username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return u, nil
}

// Snapshot exports the aggregate for persistence, including undelivered
// notifications.
func (s *Users) Snapshot() []UserRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]UserRecord, 0, len(s.byName))
	for _, u := range s.byName {
		out = append(out, UserRecord{
			Username:      u.Username,
			PasswordHash:  append([]byte(nil), u.PasswordHash...),
			Salt:          append([]byte(nil), u.Salt...),
			Notifications: u.pendingNotifications(),
		})
	}
	return out
}

// RestoreUsers rebuilds a credential store from persisted records.
func RestoreUsers(records []UserRecord) *Users {
	s := NewUsers()
	for _, r := range records {
		u := &User{
			Username:      r.Username,
			PasswordHash:  append([]byte(nil), r.PasswordHash...),
			Salt:          append([]byte(nil), r.Salt...),
			notifications: append([]string(nil), r.Notifications...),
		}
		s.byName[u.Username] = u
	}
	return s
}
