// Package client implements the editor's side of the wire protocol: one
// command connection, the reverse notification listener and thin wrappers
// over every server operation.
package client

import (
	"errors"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/and161185/collabdoc/internal/notify"
	"github.com/and161185/collabdoc/internal/protocol"
)

// ErrNotLoggedIn is returned by operations that need an authenticated
// session before the first successful Login.
var ErrNotLoggedIn = errors.New("not logged in")

// Register opens a short-lived connection to the registration listener and
// creates an account. It returns the server's confirmation payload.
func Register(regAddr, username, password string) (string, error) {
	raw, err := net.Dial("tcp", regAddr)
	if err != nil {
		return "", err
	}
	defer raw.Close()
	return protocol.Request(protocol.NewConn(raw), protocol.CmdRegister, username, password)
}

// Client is one user's command connection plus, after Login, the listener
// the server pushes notifications back to.
type Client struct {
	raw  net.Conn
	conn *protocol.Conn

	token    string
	listener *notify.Listener
}

// Dial connects to the command listener.
func Dial(addr string) (*Client, error) {
	raw, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{raw: raw, conn: protocol.NewConn(raw)}, nil
}

// Login authenticates and opens the reverse notification channel: an
// ephemeral TCP port is bound first and its number travels inside the
// LOGIN request, so the server knows where to dial back.
func (c *Client) Login(username, password string) error {
	l, err := notify.Listen(":0")
	if err != nil {
		return err
	}
	token, err := protocol.Request(c.conn, protocol.CmdLogin, username, password, l.Port())
	if err != nil {
		_ = l.Close()
		return err
	}
	go l.Run()
	c.token = token
	c.listener = l
	return nil
}

// Token returns the session token issued at Login.
func (c *Client) Token() string { return c.token }

// Logout ends the session and tears the notification listener down.
func (c *Client) Logout() (string, error) {
	if c.token == "" {
		return "", ErrNotLoggedIn
	}
	payload, err := protocol.Request(c.conn, protocol.CmdLogout)
	if err != nil {
		return "", err
	}
	c.closeListener()
	c.token = ""
	return payload, nil
}

// Create allocates a new document with the given number of sections.
func (c *Client) Create(name string, sections int) (string, error) {
	return protocol.Request(c.conn, protocol.CmdCreate, name, sections)
}

// Edit claims a section for editing. The current content is streamed into
// dst and the document's multicast chat address is returned.
func (c *Client) Edit(name string, section int, dst io.Writer) (uint32, error) {
	payload, err := protocol.RequestWithStream(c.conn, dst, protocol.CmdEdit, name, section)
	if err != nil {
		return 0, err
	}
	addr, err := strconv.ParseUint(payload, 10, 32)
	if err != nil {
		return 0, errors.New("malformed chat address in reply: " + payload)
	}
	return uint32(addr), nil
}

// EditEnd uploads the new section content and releases the edit claim. The
// whole of src replaces the previous version.
func (c *Client) EditEnd(src io.Reader) error {
	if _, err := protocol.Request(c.conn, protocol.CmdEditEnd); err != nil {
		return err
	}
	return c.conn.SendStream(src)
}

// ShowSection streams one section's content into dst and returns the
// current editor's username, or "None" when the section is free.
func (c *Client) ShowSection(name string, section int, dst io.Writer) (string, error) {
	return protocol.RequestWithStream(c.conn, dst, protocol.CmdShowSection, name, section)
}

// ShowDocument streams the whole document into dst and returns the indices
// of sections currently under edit.
func (c *Client) ShowDocument(name string, dst io.Writer) ([]int, error) {
	payload, err := protocol.RequestWithStream(c.conn, dst, protocol.CmdShowDocument, name)
	if err != nil {
		return nil, err
	}
	if payload == "None" {
		return nil, nil
	}
	parts := strings.Split(payload, ",")
	held := make([]int, 0, len(parts))
	for _, p := range parts {
		idx, err := strconv.Atoi(p)
		if err != nil {
			return nil, errors.New("malformed section list in reply: " + payload)
		}
		held = append(held, idx)
	}
	return held, nil
}

// List returns the names of every document the user can access.
func (c *Client) List() ([]string, error) {
	payload, err := protocol.Request(c.conn, protocol.CmdList)
	if err != nil {
		return nil, err
	}
	if payload == "None" {
		return nil, nil
	}
	return strings.Split(payload, ","), nil
}

// Share grants another user edit access to one of the caller's documents.
func (c *Client) Share(username, document string) (string, error) {
	return protocol.Request(c.conn, protocol.CmdShare, username, document)
}

// Notifications drains the unread notification list fed by the server's
// pushes since the last call.
func (c *Client) Notifications() []string {
	if c.listener == nil {
		return nil
	}
	return c.listener.Inbox().TakeAll()
}

func (c *Client) closeListener() {
	if c.listener != nil {
		_ = c.listener.Close()
		c.listener = nil
	}
}

// Close drops the command connection and the notification listener. The
// server treats the vanishing connection as an abnormal disconnect and
// releases whatever the session held.
func (c *Client) Close() error {
	c.closeListener()
	return c.raw.Close()
}
