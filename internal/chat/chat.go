package chat

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// Port is the UDP port every chat group uses; groups are distinguished by
// their multicast address alone.
const Port = 30000

// maxDatagram bounds an encoded chat message.
const maxDatagram = 2048

// Message is one chat line exchanged between concurrent editors of a
// document.
type Message struct {
	Sender string
	Text   string
	SentAt time.Time
}

// encode packs a message as (len,sender)(len,text)(int64 unix-ms).
func encode(m Message) ([]byte, error) {
	size := 4 + len(m.Sender) + 4 + len(m.Text) + 8
	if size > maxDatagram {
		return nil, fmt.Errorf("chat message of %d bytes exceeds datagram limit", size)
	}
	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(m.Sender)))
	buf = append(buf, m.Sender...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(m.Text)))
	buf = append(buf, m.Text...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(m.SentAt.UnixMilli()))
	return buf, nil
}

// decode unpacks a datagram produced by encode.
func decode(data []byte) (Message, error) {
	var m Message
	s, rest, err := takeString(data)
	if err != nil {
		return m, err
	}
	txt, rest, err := takeString(rest)
	if err != nil {
		return m, err
	}
	if len(rest) < 8 {
		return m, errors.New("chat datagram truncated")
	}
	m.Sender = s
	m.Text = txt
	m.SentAt = time.UnixMilli(int64(binary.BigEndian.Uint64(rest[:8])))
	return m, nil
}

func takeString(data []byte) (string, []byte, error) {
	if len(data) < 4 {
		return "", nil, errors.New("chat datagram truncated")
	}
	n := binary.BigEndian.Uint32(data[:4])
	if uint32(len(data)-4) < n {
		return "", nil, errors.New("chat datagram truncated")
	}
	return string(data[4 : 4+n]), data[4+n:], nil
}

// Sender publishes chat messages to a multicast group. The group is passed
// per send, so one sender serves any number of documents.
type Sender struct {
	conn *net.UDPConn
}

// NewSender opens the outbound UDP socket.
func NewSender() (*Sender, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, err
	}
	return &Sender{conn: conn}, nil
}

// Send publishes one message to the group address.
func (s *Sender) Send(m Message, group uint32) error {
	if m.SentAt.IsZero() {
		m.SentAt = time.Now()
	}
	data, err := encode(m)
	if err != nil {
		return err
	}
	_, err = s.conn.WriteToUDP(data, &net.UDPAddr{IP: GroupIP(group), Port: Port})
	return err
}

// Close releases the socket.
func (s *Sender) Close() error { return s.conn.Close() }

// Receiver joins one multicast group and queues incoming messages until the
// owner drains them.
type Receiver struct {
	conn *net.UDPConn

	mu    sync.Mutex
	queue []Message
}

// JoinGroup subscribes to the group address and starts receiving in the
// background. Close leaves the group and stops the loop.
func JoinGroup(group uint32) (*Receiver, error) {
	conn, err := net.ListenMulticastUDP("udp4", nil, &net.UDPAddr{IP: GroupIP(group), Port: Port})
	if err != nil {
		return nil, err
	}
	r := &Receiver{conn: conn}
	go r.loop()
	return r, nil
}

func (r *Receiver) loop() {
	buf := make([]byte, maxDatagram)
	for {
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		m, err := decode(buf[:n])
		if err != nil {
			continue
		}
		r.mu.Lock()
		r.queue = append(r.queue, m)
		r.mu.Unlock()
	}
}

// TakeMessages drains the received messages in arrival order.
func (r *Receiver) TakeMessages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.queue
	r.queue = nil
	return out
}

// Close leaves the group.
func (r *Receiver) Close() error { return r.conn.Close() }
