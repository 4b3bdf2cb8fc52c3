// Package store holds the server's shared mutable state: the credential
// store, the session directory and the document catalogue. All
// cross-connection sharing goes through these types; each synchronizes its
// own state internally.
package store

import (
	"sync"

	"github.com/and161185/collabdoc/internal/crypto"
)

// User is a registered account. Identity is the username; the notification
// queue collects document names granted via SHARE until the user's
// notification channel drains them.
type User struct {
	Username     string
	PasswordHash []byte
	Salt         []byte

	mu            sync.Mutex
	notifications []string
}

// CheckPassword reports whether password matches the stored hash.
func (u *User) CheckPassword(password string) bool {
	return crypto.VerifyPassword([]byte(password), u.Salt, u.PasswordHash)
}

// PushNotification appends a document name to the unread queue.
func (u *User) PushNotification(doc string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.notifications = append(u.notifications, doc)
}

// TakeNotifications drains the unread queue, returning its contents in
// arrival order.
func (u *User) TakeNotifications() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := u.notifications
	u.notifications = nil
	return out
}

// RequeueNotifications puts undelivered notifications back at the front of
// the queue, preserving their original order.
func (u *User) RequeueNotifications(notes []string) {
	if len(notes) == 0 {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.notifications = append(append([]string{}, notes...), u.notifications...)
}

func (u *User) pendingNotifications() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.notifications...)
}
