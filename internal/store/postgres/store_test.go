package postgres

import (
	"context"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/collabdoc/internal/store"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func TestStore_SaveUsers(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db)
	ctx := context.Background()

	users := []store.UserRecord{
		{Username: "alice", PasswordHash: []byte("h1"), Salt: []byte("s1")},
		{Username: "bob", PasswordHash: []byte("h2"), Salt: []byte("s2"), Notifications: []string{"doc1"}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM users`).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO users \(username, password_hash, salt, notifications\) VALUES \(\$1, \$2, \$3, \$4\)`).
		WithArgs("alice", []byte("h1"), []byte("s1"), []byte(`[]`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO users \(username, password_hash, salt, notifications\) VALUES \(\$1, \$2, \$3, \$4\)`).
		WithArgs("bob", []byte("h2"), []byte("s2"), []byte(`["doc1"]`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.SaveUsers(ctx, users))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LoadUsers(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT username, password_hash, salt, notifications FROM users ORDER BY username`).
		WillReturnRows(pgxmock.NewRows([]string{"username", "password_hash", "salt", "notifications"}).
			AddRow("alice", []byte("h1"), []byte("s1"), []byte(`[]`)).
			AddRow("bob", []byte("h2"), []byte("s2"), []byte(`["doc1","doc2"]`)))

	users, err := s.LoadUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, "alice", users[0].Username)
	require.Empty(t, users[0].Notifications)
	require.Equal(t, []string{"doc1", "doc2"}, users[1].Notifications)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SaveUsers_RollbackOnError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM users`).
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	require.Error(t, s.SaveUsers(ctx, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SaveDocuments(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db)
	ctx := context.Background()

	docs := []store.DocumentRecord{
		{Name: "doc1", Owner: "alice", Modifiers: []string{"bob"}, Sections: 2},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM documents`).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`INSERT INTO documents \(name, owner_name, modifiers, sections\) VALUES \(\$1, \$2, \$3, \$4\)`).
		WithArgs("doc1", "alice", []byte(`["bob"]`), 2).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.SaveDocuments(ctx, docs))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LoadDocuments(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT name, owner_name, modifiers, sections FROM documents ORDER BY name`).
		WillReturnRows(pgxmock.NewRows([]string{"name", "owner_name", "modifiers", "sections"}).
			AddRow("doc1", "alice", []byte(`["bob"]`), 2).
			AddRow("doc2", "bob", []byte(`[]`), 5))

	docs, err := s.LoadDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, []string{"bob"}, docs[0].Modifiers)
	require.Equal(t, 5, docs[1].Sections)
	require.NoError(t, mock.ExpectationsWereMet())
}
