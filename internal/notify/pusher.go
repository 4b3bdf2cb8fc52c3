// Package notify implements the reverse notification channel: the server
// half periodically pushes queued notifications over a connection dialed
// back to the client, and the client half receives them into a local inbox.
package notify

import (
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/collabdoc/internal/protocol"
	"github.com/and161185/collabdoc/internal/store"
)

// Pusher is the server half, bound to one login session. Every interval it
// drains the user's queue and, if non-empty, delivers it as one
// NEW_NOTIFICATIONS message; the queue content is restored on a failed
// delivery. Close sends EXIT and stops the loop.
type Pusher struct {
	user     *store.User
	addr     string
	interval time.Duration
	log      *zap.Logger

	closing chan struct{}
	done    chan struct{}
}

// NewPusher constructs a pusher that will dial back to addr, the
// host:port the client advertised at LOGIN.
func NewPusher(user *store.User, addr string, interval time.Duration, log *zap.Logger) *Pusher {
	return &Pusher{
		user:     user,
		addr:     addr,
		interval: interval,
		log:      log,
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run dials the client and pushes until Close or an I/O fault. Faults end
// the loop silently; the channel is never auto-reconnected, a fresh one is
// created on the next login.
func (p *Pusher) Run() {
	defer close(p.done)

	raw, err := net.Dial("tcp", p.addr)
	if err != nil {
		p.log.Debug("notification channel dial failed",
			zap.String("user", p.user.Username),
			zap.String("addr", p.addr),
			zap.Error(err),
		)
		return
	}
	defer raw.Close()
	conn := protocol.NewConn(raw)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.closing:
			_, _ = protocol.Request(conn, protocol.CmdExit)
			return
		case <-ticker.C:
			if !p.push(conn) {
				return
			}
		}
	}
}

// push delivers one pending batch; it reports false when the channel is
// broken and the loop must end.
func (p *Pusher) push(conn *protocol.Conn) bool {
	notes := p.user.TakeNotifications()
	if len(notes) == 0 {
		return true
	}
	if _, err := protocol.Request(conn, protocol.CmdNewNotifications, strings.Join(notes, ",")); err != nil {
		// Unacknowledged notifications go back on the queue for the
		// next login's channel.
		p.user.RequeueNotifications(notes)
		p.log.Debug("notification push failed",
			zap.String("user", p.user.Username),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Close asks the loop to send EXIT and waits for it to stop.
func (p *Pusher) Close() {
	select {
	case <-p.closing:
	default:
		close(p.closing)
	}
	<-p.done
}
