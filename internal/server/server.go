// Package server runs the TCP front of the collaborative editor: the
// command listener with its per-connection state machine and the
// registration listener.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/collabdoc/internal/chat"
	"github.com/and161185/collabdoc/internal/errs"
	"github.com/and161185/collabdoc/internal/limiter"
	"github.com/and161185/collabdoc/internal/protocol"
	"github.com/and161185/collabdoc/internal/store"
)

// Server wires the shared state components into connection handlers. One
// goroutine serves each accepted connection; the handlers themselves hold
// no state other connections need.
type Server struct {
	log          *zap.Logger
	users        *store.Users
	sessions     *store.Sessions
	docs         *store.Documents
	alloc        *chat.Allocator
	lim          limiter.Limiter
	pushInterval time.Duration

	wg sync.WaitGroup
}

// Options carries the injected dependencies.
type Options struct {
	Users        *store.Users
	Sessions     *store.Sessions
	Documents    *store.Documents
	Allocator    *chat.Allocator
	Limiter      limiter.Limiter
	PushInterval time.Duration
	Logger       *zap.Logger
}

// New constructs a server with explicitly injected state components.
func New(opts Options) *Server {
	if opts.PushInterval <= 0 {
		opts.PushInterval = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{
		log:          opts.Logger,
		users:        opts.Users,
		sessions:     opts.Sessions,
		docs:         opts.Documents,
		alloc:        opts.Allocator,
		lim:          opts.Limiter,
		pushInterval: opts.PushInterval,
	}
}

// Serve accepts command connections until the listener closes.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.log.Info("new connection", zap.String("remote", conn.RemoteAddr().String()))
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			newConnHandler(s, conn).run()
		}()
	}
}

// ServeRegistration accepts registration connections until the listener
// closes. Registration shares the wire protocol but exposes only REGISTER,
// mirroring its status as a separate external boundary.
func (s *Server) ServeRegistration(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveRegistration(conn)
		}()
	}
}

func (s *Server) serveRegistration(raw net.Conn) {
	defer raw.Close()
	conn := protocol.NewConn(raw)
	handlers := map[protocol.Command]protocol.HandlerFunc{
		protocol.CmdRegister: func(args []any, reply *protocol.Reply) {
			username := args[0].(string)
			err := s.users.Register(username, args[1].(string))
			switch {
			case errors.Is(err, errs.ErrAlreadyExists):
				reply.Failure("this username is already taken")
			case err != nil:
				reply.Failure("registration failed: " + err.Error())
			default:
				s.log.Info("new user registered", zap.String("user", username))
				reply.Success("registration completed")
			}
		},
	}
	for {
		if err := protocol.Serve(conn, handlers); err != nil {
			return
		}
	}
}

// Shutdown waits for in-flight connection handlers to finish. Callers close
// the listeners first; an expired context abandons the stragglers.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
