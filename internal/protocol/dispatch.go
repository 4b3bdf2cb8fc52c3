package protocol

import (
	"fmt"
	"io"
)

// RemoteError carries the payload of a FAILURE reply.
type RemoteError struct {
	Reason string
}

func (e *RemoteError) Error() string { return e.Reason }

// Request writes one command and blocks for its terminal reply, which must
// be SUCCESS or FAILURE. A FAILURE payload surfaces as *RemoteError; any
// other reply kind or framing fault is returned as a local error.
func Request(c *Conn, cmd Command, args ...any) (string, error) {
	if err := c.WriteMessage(cmd, args...); err != nil {
		return "", err
	}
	return readReply(c)
}

// RequestWithStream issues a request whose SUCCESS reply is followed by a
// chunked stream, copied into dst. Nothing is read from the stream after a
// FAILURE reply.
func RequestWithStream(c *Conn, dst io.Writer, cmd Command, args ...any) (string, error) {
	payload, err := Request(c, cmd, args...)
	if err != nil {
		return "", err
	}
	if err := c.ReceiveStream(dst); err != nil {
		return "", err
	}
	return payload, nil
}

func readReply(c *Conn) (string, error) {
	cmd, args, err := c.ReadMessage()
	if err != nil {
		return "", err
	}
	switch cmd {
	case CmdSuccess:
		return args[0].(string), nil
	case CmdFailure:
		return "", &RemoteError{Reason: args[0].(string)}
	default:
		return "", fmt.Errorf("expected SUCCESS or FAILURE reply, got %s", cmd)
	}
}

// HandlerFunc processes one decoded request and must produce exactly one
// terminal reply through the Reply sink. A handler that promises a stream
// sends it right after replying, on the same sink.
type HandlerFunc func(args []any, reply *Reply)

// Reply is the per-request reply sink bound to one connection. It tracks
// whether a terminal reply was sent and latches the first I/O fault so the
// serve loop can tear the connection down.
type Reply struct {
	conn *Conn
	sent bool
	err  error
}

// Success writes a SUCCESS reply carrying payload.
func (r *Reply) Success(payload string) {
	r.terminal(CmdSuccess, payload)
}

// Failure writes a FAILURE reply carrying reason.
func (r *Reply) Failure(reason string) {
	r.terminal(CmdFailure, reason)
}

func (r *Reply) terminal(cmd Command, payload string) {
	if r.sent {
		return
	}
	r.sent = true
	if err := r.conn.WriteMessage(cmd, payload); err != nil && r.err == nil {
		r.err = err
	}
}

// SendStream pipes src to the peer. Valid only after a terminal reply.
func (r *Reply) SendStream(src io.Reader) error {
	err := r.conn.SendStream(src)
	if err != nil && r.err == nil {
		r.err = err
	}
	return err
}

// ReceiveStream reads the peer's stream into dst. Valid only after a
// terminal reply.
func (r *Reply) ReceiveStream(dst io.Writer) error {
	err := r.conn.ReceiveStream(dst)
	if err != nil && r.err == nil {
		r.err = err
	}
	return err
}

// Serve reads one request, dispatches it through handlers and guarantees
// exactly one terminal reply: an unregistered command, a panicking handler
// or a handler that returns silently all produce an automatic FAILURE.
// The returned error is connection-fatal (framing or I/O); business
// failures never surface here.
func Serve(c *Conn, handlers map[Command]HandlerFunc) error {
	cmd, args, err := c.ReadMessage()
	if err != nil {
		return err
	}
	reply := &Reply{conn: c}
	h, ok := handlers[cmd]
	if !ok {
		reply.Failure(fmt.Sprintf("unsupported command %s", cmd))
		return reply.err
	}
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				reply.Failure(fmt.Sprintf("%s failed: %v", cmd, rec))
			}
		}()
		h(args, reply)
	}()
	if !reply.sent {
		reply.Failure(fmt.Sprintf("%s produced no reply", cmd))
	}
	return reply.err
}
