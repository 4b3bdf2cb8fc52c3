package server_test

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and161185/collabdoc/internal/chat"
	"github.com/and161185/collabdoc/internal/client"
	"github.com/and161185/collabdoc/internal/limiter"
	"github.com/and161185/collabdoc/internal/protocol"
	"github.com/and161185/collabdoc/internal/server"
	"github.com/and161185/collabdoc/internal/store"
)

type testServer struct {
	cmdAddr string
	regAddr string
}

func startServer(t *testing.T) *testServer {
	t.Helper()

	srv := server.New(server.Options{
		Users:        store.NewUsers(),
		Sessions:     store.NewSessions(),
		Documents:    store.NewDocuments(t.TempDir()),
		Allocator:    chat.NewAllocator(),
		Limiter:      limiter.NewMemory(time.Minute, 5, time.Minute),
		PushInterval: 20 * time.Millisecond,
	})

	cmdLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	regLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() { _ = srv.Serve(cmdLn) }()
	go func() { _ = srv.ServeRegistration(regLn) }()
	t.Cleanup(func() {
		_ = cmdLn.Close()
		_ = regLn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	return &testServer{
		cmdAddr: cmdLn.Addr().String(),
		regAddr: regLn.Addr().String(),
	}
}

// loggedIn registers the user if needed and returns a logged-in client.
func loggedIn(t *testing.T, ts *testServer, username, password string) *client.Client {
	t.Helper()
	if _, err := client.Register(ts.regAddr, username, password); err != nil {
		var remote *protocol.RemoteError
		require.ErrorAs(t, err, &remote)
		require.Equal(t, "this username is already taken", remote.Reason)
	}
	c, err := client.Dial(ts.cmdAddr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Login(username, password))
	return c
}

func remoteReason(t *testing.T, err error) string {
	t.Helper()
	var remote *protocol.RemoteError
	require.ErrorAs(t, err, &remote)
	return remote.Reason
}

func TestRegistrationAndLogin(t *testing.T) {
	ts := startServer(t)

	payload, err := client.Register(ts.regAddr, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "registration completed", payload)

	_, err = client.Register(ts.regAddr, "alice", "other")
	assert.Equal(t, "this username is already taken", remoteReason(t, err))

	c, err := client.Dial(ts.cmdAddr)
	require.NoError(t, err)
	defer c.Close()

	err = c.Login("alice", "wrong")
	assert.Equal(t, "login failed: wrong username or password", remoteReason(t, err))

	require.NoError(t, c.Login("alice", "s3cret"))
	assert.NotEmpty(t, c.Token())

	payload, err = c.Logout()
	require.NoError(t, err)
	assert.Equal(t, "good-bye", payload)
}

func TestCommandsRequireLogin(t *testing.T) {
	ts := startServer(t)

	c, err := client.Dial(ts.cmdAddr)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Create("notes", 2)
	assert.Equal(t, "you are not logged in", remoteReason(t, err))
	_, err = c.List()
	assert.Equal(t, "you are not logged in", remoteReason(t, err))
}

func TestEditRoundTrip(t *testing.T) {
	ts := startServer(t)
	alice := loggedIn(t, ts, "alice", "s3cret")

	payload, err := alice.Create("notes", 2)
	require.NoError(t, err)
	assert.Equal(t, "document created", payload)

	_, err = alice.Create("notes", 3)
	assert.Equal(t, "a document with this name already exists", remoteReason(t, err))

	var current bytes.Buffer
	addr, err := alice.Edit("notes", 0, &current)
	require.NoError(t, err)
	assert.Zero(t, current.Len(), "a fresh section starts empty")
	assert.GreaterOrEqual(t, addr, chat.PoolBase)
	assert.LessOrEqual(t, addr, chat.PoolBound)

	require.NoError(t, alice.EditEnd(strings.NewReader("first draft")))

	current.Reset()
	editor, err := alice.ShowSection("notes", 0, &current)
	require.NoError(t, err)
	assert.Equal(t, "None", editor)
	assert.Equal(t, "first draft", current.String())
}

func TestOneSectionAtATime(t *testing.T) {
	ts := startServer(t)
	alice := loggedIn(t, ts, "alice", "s3cret")

	_, err := alice.Create("notes", 2)
	require.NoError(t, err)

	_, err = alice.Edit("notes", 0, &bytes.Buffer{})
	require.NoError(t, err)

	_, err = alice.Edit("notes", 1, &bytes.Buffer{})
	assert.Equal(t, "you can modify one section at a time", remoteReason(t, err))

	require.NoError(t, alice.EditEnd(strings.NewReader("")))
}

func TestEditEndWithoutEdit(t *testing.T) {
	ts := startServer(t)
	alice := loggedIn(t, ts, "alice", "s3cret")

	err := alice.EditEnd(strings.NewReader("orphan content"))
	assert.Equal(t, "you are not editing any section", remoteReason(t, err))
}

func TestRepeatedLoginFailuresLockOut(t *testing.T) {
	ts := startServer(t)
	_, err := client.Register(ts.regAddr, "alice", "s3cret")
	require.NoError(t, err)

	c, err := client.Dial(ts.cmdAddr)
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 4; i++ {
		err = c.Login("alice", "wrong")
		require.Equal(t, "login failed: wrong username or password", remoteReason(t, err))
	}
	err = c.Login("alice", "wrong")
	assert.Equal(t, "too many failed logins, try again later", remoteReason(t, err))

	// The block holds even for the right password until it expires.
	err = c.Login("alice", "s3cret")
	assert.Equal(t, "too many failed logins, try again later", remoteReason(t, err))
}

func TestConcurrentEditors(t *testing.T) {
	ts := startServer(t)
	alice := loggedIn(t, ts, "alice", "s3cret")
	bob := loggedIn(t, ts, "bob", "hunter2")

	_, err := alice.Create("notes", 2)
	require.NoError(t, err)
	_, err = alice.Share("bob", "notes")
	require.NoError(t, err)

	aliceAddr, err := alice.Edit("notes", 0, &bytes.Buffer{})
	require.NoError(t, err)

	_, err = bob.Edit("notes", 0, &bytes.Buffer{})
	assert.Equal(t, "someone is already editing this section", remoteReason(t, err))

	// A different section of the same document joins the same chat group.
	bobAddr, err := bob.Edit("notes", 1, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, aliceAddr, bobAddr)

	var buf bytes.Buffer
	held, err := alice.ShowDocument("notes", &buf)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, held)

	editor, err := alice.ShowSection("notes", 1, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "bob", editor)

	require.NoError(t, alice.EditEnd(strings.NewReader("a")))
	require.NoError(t, bob.EditEnd(strings.NewReader("b")))

	held, err = alice.ShowDocument("notes", &buf)
	require.NoError(t, err)
	assert.Empty(t, held)
}

func TestAccessControl(t *testing.T) {
	ts := startServer(t)
	alice := loggedIn(t, ts, "alice", "s3cret")
	bob := loggedIn(t, ts, "bob", "hunter2")

	_, err := alice.Create("private", 1)
	require.NoError(t, err)

	_, err = bob.Edit("private", 0, &bytes.Buffer{})
	assert.Equal(t, "you do not have permission on this document", remoteReason(t, err))
	_, err = bob.ShowDocument("private", &bytes.Buffer{})
	assert.Equal(t, "you do not have permission on this document", remoteReason(t, err))
	_, err = bob.Share("bob", "private")
	assert.Equal(t, "only the document's owner can share it", remoteReason(t, err))

	names, err := bob.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = alice.Share("bob", "private")
	require.NoError(t, err)

	names, err = bob.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"private"}, names)
}

func TestShareDeliversNotification(t *testing.T) {
	ts := startServer(t)
	alice := loggedIn(t, ts, "alice", "s3cret")
	bob := loggedIn(t, ts, "bob", "hunter2")

	_, err := alice.Create("plans", 1)
	require.NoError(t, err)
	_, err = alice.Share("bob", "plans")
	require.NoError(t, err)

	var got []string
	require.Eventually(t, func() bool {
		got = append(got, bob.Notifications()...)
		return len(got) > 0
	}, 5*time.Second, 20*time.Millisecond, "share notification never arrived")
	assert.Equal(t, []string{"plans"}, got)
}

func TestSecondLoginSupersedesFirst(t *testing.T) {
	ts := startServer(t)
	first := loggedIn(t, ts, "alice", "s3cret")

	second, err := client.Dial(ts.cmdAddr)
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Login("alice", "s3cret"))

	_, err = first.List()
	assert.Equal(t, "your session is no longer valid, log in again", remoteReason(t, err))

	names, err := second.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestDisconnectReleasesSection(t *testing.T) {
	ts := startServer(t)
	alice := loggedIn(t, ts, "alice", "s3cret")
	bob := loggedIn(t, ts, "bob", "hunter2")

	_, err := alice.Create("notes", 1)
	require.NoError(t, err)
	_, err = alice.Share("bob", "notes")
	require.NoError(t, err)

	_, err = alice.Edit("notes", 0, &bytes.Buffer{})
	require.NoError(t, err)

	// Drop the connection mid-edit; the server must free the section
	// without keeping any partial content.
	require.NoError(t, alice.Close())

	require.Eventually(t, func() bool {
		_, err := bob.Edit("notes", 0, &bytes.Buffer{})
		return err == nil
	}, 5*time.Second, 20*time.Millisecond, "section never freed after disconnect")
	require.NoError(t, bob.EditEnd(strings.NewReader("taken over")))
}
