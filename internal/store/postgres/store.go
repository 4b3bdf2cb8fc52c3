package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/collabdoc/internal/store"
)

// Store persists the two aggregates as whole snapshots: each save replaces
// the previous generation inside one transaction.
type Store struct{ db *DB }

var _ store.Persister = (*Store)(nil)

// NewStore constructs a Postgres-backed persister.
func NewStore(db *DB) *Store { return &Store{db: db} }

// SaveUsers replaces the persisted credential aggregate.
func (s *Store) SaveUsers(ctx context.Context, users []store.UserRecord) error {
	tx, err := s.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM users`); err != nil {
		return err
	}
	const q = `
INSERT INTO users (username, password_hash, salt, notifications)
VALUES ($1, $2, $3, $4)`
	for _, u := range users {
		notes, err := json.Marshal(emptyIfNil(u.Notifications))
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, q, u.Username, u.PasswordHash, u.Salt, notes); err != nil {
			return fmt.Errorf("save user %q: %w", u.Username, err)
		}
	}
	return tx.Commit(ctx)
}

// LoadUsers reads the persisted credential aggregate.
func (s *Store) LoadUsers(ctx context.Context) ([]store.UserRecord, error) {
	const q = `
SELECT username, password_hash, salt, notifications
FROM users ORDER BY username`
	rows, err := s.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.UserRecord
	for rows.Next() {
		var u store.UserRecord
		var notes []byte
		if err := rows.Scan(&u.Username, &u.PasswordHash, &u.Salt, &notes); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(notes, &u.Notifications); err != nil {
			return nil, fmt.Errorf("load user %q: %w", u.Username, err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SaveDocuments replaces the persisted document aggregate.
func (s *Store) SaveDocuments(ctx context.Context, docs []store.DocumentRecord) error {
	tx, err := s.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM documents`); err != nil {
		return err
	}
	const q = `
INSERT INTO documents (name, owner_name, modifiers, sections)
VALUES ($1, $2, $3, $4)`
	for _, d := range docs {
		mods, err := json.Marshal(emptyIfNil(d.Modifiers))
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, q, d.Name, d.Owner, mods, d.Sections); err != nil {
			return fmt.Errorf("save document %q: %w", d.Name, err)
		}
	}
	return tx.Commit(ctx)
}

// LoadDocuments reads the persisted document aggregate.
func (s *Store) LoadDocuments(ctx context.Context) ([]store.DocumentRecord, error) {
	const q = `
SELECT name, owner_name, modifiers, sections
FROM documents ORDER BY name`
	rows, err := s.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.DocumentRecord
	for rows.Next() {
		var d store.DocumentRecord
		var mods []byte
		if err := rows.Scan(&d.Name, &d.Owner, &mods, &d.Sections); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(mods, &d.Modifiers); err != nil {
			return nil, fmt.Errorf("load document %q: %w", d.Name, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// emptyIfNil keeps nil slices out of the jsonb columns so loads round-trip
// to empty lists.
func emptyIfNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
