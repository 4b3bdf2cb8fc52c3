package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and161185/collabdoc/internal/errs"
)

func TestLoginIssuesResolvableToken(t *testing.T) {
	s := NewSessions()
	alice := &User{Username: "alice"}

	token, err := s.Login(alice)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := s.Resolve(token)
	require.NoError(t, err)
	assert.Same(t, alice, got)
}

func TestLastLoginWins(t *testing.T) {
	s := NewSessions()
	alice := &User{Username: "alice"}

	first, err := s.Login(alice)
	require.NoError(t, err)
	second, err := s.Login(alice)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	// The superseded token loses its authority immediately.
	_, err = s.Resolve(first)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	got, err := s.Resolve(second)
	require.NoError(t, err)
	assert.Same(t, alice, got)
}

func TestLogout(t *testing.T) {
	s := NewSessions()
	alice := &User{Username: "alice"}

	token, err := s.Login(alice)
	require.NoError(t, err)
	s.Logout(token)

	_, err = s.Resolve(token)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestLogoutOfStaleTokenKeepsLiveSession(t *testing.T) {
	s := NewSessions()
	alice := &User{Username: "alice"}

	stale, err := s.Login(alice)
	require.NoError(t, err)
	live, err := s.Login(alice)
	require.NoError(t, err)

	s.Logout(stale)

	got, err := s.Resolve(live)
	require.NoError(t, err)
	assert.Same(t, alice, got)
}

func TestSessionsAreIndependentAcrossUsers(t *testing.T) {
	s := NewSessions()
	alice := &User{Username: "alice"}
	bob := &User{Username: "bob"}

	at, err := s.Login(alice)
	require.NoError(t, err)
	bt, err := s.Login(bob)
	require.NoError(t, err)

	gotA, err := s.Resolve(at)
	require.NoError(t, err)
	gotB, err := s.Resolve(bt)
	require.NoError(t, err)
	assert.Same(t, alice, gotA)
	assert.Same(t, bob, gotB)
}
