package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// streamChunkSize is the chunk granularity for file body transfers.
	streamChunkSize = 4096

	// maxStringLen bounds a single string argument. Larger payloads belong
	// in a stream, not in a message argument.
	maxStringLen = 1 << 20

	// streamEnd terminates a chunked stream.
	streamEnd = int32(-1)
)

// Conn frames messages and streams over a byte-oriented connection. It is
// not safe for concurrent use: the protocol is strictly one request in
// flight per connection.
type Conn struct {
	r *bufio.Reader
	w *bufio.Writer
}

// NewConn wraps a stream connection (typically a net.Conn) in the codec.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{r: bufio.NewReader(rw), w: bufio.NewWriter(rw)}
}

// WriteMessage validates args against the command signature and writes one
// framed message. A shape mismatch fails locally without touching the socket.
func (c *Conn) WriteMessage(cmd Command, args ...any) error {
	if err := checkArgs(cmd, args); err != nil {
		return err
	}
	if err := c.writeInt32(int32(cmd)); err != nil {
		return err
	}
	for _, arg := range args {
		switch v := arg.(type) {
		case int:
			if err := c.writeInt32(int32(v)); err != nil {
				return err
			}
		case int32:
			if err := c.writeInt32(v); err != nil {
				return err
			}
		case string:
			if err := c.writeInt32(int32(len(v))); err != nil {
				return err
			}
			if _, err := c.w.WriteString(v); err != nil {
				return err
			}
		}
	}
	return c.w.Flush()
}

// ReadMessage reads one framed message. Integer arguments decode as int,
// strings as string, in the registry's declared order.
func (c *Conn) ReadMessage() (Command, []any, error) {
	code, err := c.readInt32()
	if err != nil {
		return 0, nil, err
	}
	cmd, err := lookup(code)
	if err != nil {
		return 0, nil, err
	}
	sig := signatures[cmd]
	args := make([]any, 0, len(sig))
	for _, kind := range sig {
		switch kind {
		case ArgInt:
			v, err := c.readInt32()
			if err != nil {
				return 0, nil, err
			}
			args = append(args, int(v))
		case ArgString:
			s, err := c.readString()
			if err != nil {
				return 0, nil, err
			}
			args = append(args, s)
		}
	}
	return cmd, args, nil
}

// SendStream copies src onto the connection as (chunkLength, chunkBytes)
// pairs terminated by a -1 length, so the total size need not be known
// up front.
func (c *Conn) SendStream(src io.Reader) error {
	buf := make([]byte, streamChunkSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if werr := c.writeInt32(int32(n)); werr != nil {
				return werr
			}
			if _, werr := c.w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	if err := c.writeInt32(streamEnd); err != nil {
		return err
	}
	return c.w.Flush()
}

// ReceiveStream reads a chunked stream into dst until the terminator.
func (c *Conn) ReceiveStream(dst io.Writer) error {
	for {
		size, err := c.readInt32()
		if err != nil {
			return err
		}
		if size == streamEnd {
			return nil
		}
		if size < 0 {
			return fmt.Errorf("stream chunk with negative length %d", size)
		}
		if _, err := io.CopyN(dst, c.r, int64(size)); err != nil {
			return err
		}
	}
}

func (c *Conn) writeInt32(v int32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	_, err := c.w.Write(b[:])
	return err
}

func (c *Conn) readInt32() (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(c.r, b[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b[:])), nil
}

func (c *Conn) readString() (string, error) {
	length, err := c.readInt32()
	if err != nil {
		return "", err
	}
	if length < 0 || length > maxStringLen {
		return "", fmt.Errorf("string argument with invalid length %d", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
