package notify

import (
	"net"
	"strings"
	"sync"

	"github.com/and161185/collabdoc/internal/protocol"
)

// Inbox is the client-side unread notification list, drained on demand by
// the interactive layer.
type Inbox struct {
	mu    sync.Mutex
	items []string
}

// Add appends document names to the unread list.
func (i *Inbox) Add(names ...string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.items = append(i.items, names...)
}

// TakeAll drains the unread list.
func (i *Inbox) TakeAll() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := i.items
	i.items = nil
	return out
}

// Listener is the client half: it accepts the server's reverse connection
// and serves NEW_NOTIFICATIONS and EXIT until told to stop.
type Listener struct {
	ln    net.Listener
	inbox *Inbox
}

// Listen binds the advertised notification port. Port 0 picks an ephemeral
// one; the chosen port is reported by Port and goes into the LOGIN request.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln, inbox: &Inbox{}}, nil
}

// Port returns the bound TCP port.
func (l *Listener) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}

// Inbox returns the unread notification list fed by Run.
func (l *Listener) Inbox() *Inbox { return l.inbox }

// Run accepts reverse connections and serves them until EXIT or until the
// listener is closed. Any I/O fault silently ends the faulty connection's
// loop.
func (l *Listener) Run() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return
		}
		if exit := l.serveConn(conn); exit {
			return
		}
	}
}

// serveConn handles one reverse connection; it reports true once the peer
// sent EXIT.
func (l *Listener) serveConn(raw net.Conn) bool {
	defer raw.Close()
	conn := protocol.NewConn(raw)
	exiting := false
	handlers := map[protocol.Command]protocol.HandlerFunc{
		protocol.CmdNewNotifications: func(args []any, reply *protocol.Reply) {
			l.inbox.Add(strings.Split(args[0].(string), ",")...)
			reply.Success("notifications received")
		},
		protocol.CmdExit: func(args []any, reply *protocol.Reply) {
			exiting = true
			reply.Success("notification channel closing")
		},
	}
	for !exiting {
		if err := protocol.Serve(conn, handlers); err != nil {
			return false
		}
	}
	return true
}

// Close stops accepting and unblocks Run.
func (l *Listener) Close() error { return l.ln.Close() }
