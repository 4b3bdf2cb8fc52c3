package store

import "context"

// UserRecord is the persisted form of one account.
type UserRecord struct {
	Username      string   `json:"username"`
	PasswordHash  []byte   `json:"password_hash"`
	Salt          []byte   `json:"salt"`
	Notifications []string `json:"notifications,omitempty"`
}

// DocumentRecord is the persisted form of one document aggregate. Section
// contents live in their own files and are not part of the record.
type DocumentRecord struct {
	Name      string   `json:"name"`
	Owner     string   `json:"owner"`
	Modifiers []string `json:"modifiers,omitempty"`
	Sections  int      `json:"sections"`
}

// Persister saves and restores the two durable aggregates. Implementations
// must return empty slices, not errors, when nothing was saved yet.
type Persister interface {
	SaveUsers(ctx context.Context, users []UserRecord) error
	LoadUsers(ctx context.Context) ([]UserRecord, error)
	SaveDocuments(ctx context.Context, docs []DocumentRecord) error
	LoadDocuments(ctx context.Context) ([]DocumentRecord, error)
}
