package server

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/and161185/collabdoc/internal/errs"
	"github.com/and161185/collabdoc/internal/limiter"
	"github.com/and161185/collabdoc/internal/notify"
	"github.com/and161185/collabdoc/internal/protocol"
	"github.com/and161185/collabdoc/internal/store"
)

// connHandler is the per-connection state machine: anonymous until LOGIN,
// then authenticated, holding at most one section under edit. All shared
// state is reached through the injected components; everything here is
// owned by this connection's goroutine alone.
type connHandler struct {
	srv  *Server
	raw  net.Conn
	conn *protocol.Conn
	log  *zap.Logger

	token      string
	user       *store.User
	editingDoc *store.Document
	editingSec *store.Section
	pusher     *notify.Pusher

	handlers map[protocol.Command]protocol.HandlerFunc
}

func newConnHandler(srv *Server, raw net.Conn) *connHandler {
	h := &connHandler{
		srv:  srv,
		raw:  raw,
		conn: protocol.NewConn(raw),
		log:  srv.log.With(zap.String("remote", raw.RemoteAddr().String())),
	}
	h.handlers = map[protocol.Command]protocol.HandlerFunc{
		protocol.CmdLogin:        h.onLogin,
		protocol.CmdLogout:       h.onLogout,
		protocol.CmdCreate:       h.onCreate,
		protocol.CmdEdit:         h.onEdit,
		protocol.CmdEditEnd:      h.onEditEnd,
		protocol.CmdShowSection:  h.onShowSection,
		protocol.CmdShowDocument: h.onShowDocument,
		protocol.CmdList:         h.onList,
		protocol.CmdShare:        h.onShare,
	}
	return h
}

// run serves requests until a framing or I/O fault ends the connection,
// then releases whatever the session still holds. An abnormal disconnect
// while editing behaves like EDIT_END without persisting.
func (h *connHandler) run() {
	defer h.cleanup()
	for {
		if err := protocol.Serve(h.conn, h.handlers); err != nil {
			h.log.Debug("connection closed", zap.Error(err))
			return
		}
	}
}

func (h *connHandler) cleanup() {
	h.releaseEditing()
	h.stopPusher()
	if h.token != "" {
		h.srv.sessions.Logout(h.token)
	}
	_ = h.raw.Close()
}

// releaseEditing frees the held section, if any, and returns the
// document's chat address once no section of it is under edit.
func (h *connHandler) releaseEditing() {
	if h.editingSec == nil {
		return
	}
	h.editingSec.Release(h.user)
	if len(h.editingDoc.EditingSections()) == 0 {
		h.srv.alloc.Release(h.editingDoc.Name())
	}
	h.editingSec = nil
	h.editingDoc = nil
}

func (h *connHandler) stopPusher() {
	if h.pusher != nil {
		h.pusher.Close()
		h.pusher = nil
	}
}

// failureReason converts a domain error to the reason string carried by a
// FAILURE reply.
func failureReason(err error) string {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return "document does not exist"
	case errors.Is(err, errs.ErrPermissionDenied):
		return "you do not have permission on this document"
	case errors.Is(err, errs.ErrSectionBusy):
		return "someone is already editing this section"
	case errors.Is(err, errs.ErrEditingInProgress):
		return "you can modify one section at a time"
	case errors.Is(err, errs.ErrNotEditing):
		return "you are not editing any section"
	case errors.Is(err, errs.ErrRateLimited):
		return "too many failed logins, try again later"
	}
	return err.Error()
}

// accessibleDoc resolves a document the user may read and edit.
func (h *connHandler) accessibleDoc(user *store.User, name string) (*store.Document, error) {
	doc, err := h.srv.docs.ByName(name)
	if err != nil {
		return nil, err
	}
	if !doc.CanAccess(user.Username) {
		return nil, errs.ErrPermissionDenied
	}
	return doc, nil
}

// resolveUser re-resolves the session token on every command, so a token
// superseded by a later login loses its authority mid-session.
func (h *connHandler) resolveUser(reply *protocol.Reply) *store.User {
	if h.token == "" {
		reply.Failure("you are not logged in")
		return nil
	}
	user, err := h.srv.sessions.Resolve(h.token)
	if err != nil {
		reply.Failure("your session is no longer valid, log in again")
		return nil
	}
	return user
}

func (h *connHandler) remoteHost() string {
	host, _, err := net.SplitHostPort(h.raw.RemoteAddr().String())
	if err != nil {
		return h.raw.RemoteAddr().String()
	}
	return host
}

func (h *connHandler) onLogin(args []any, reply *protocol.Reply) {
	if h.token != "" {
		reply.Failure("you are already logged in")
		return
	}
	username := args[0].(string)
	password := args[1].(string)
	notifyPort := args[2].(int)

	ctx := context.Background()
	ipHash := limiter.HashIP(h.remoteHost())
	if ok, _, err := h.srv.lim.Allow(ctx, username, ipHash); err == nil && !ok {
		reply.Failure(failureReason(errs.ErrRateLimited))
		return
	}

	user, err := h.srv.users.Authenticate(username, password)
	if err != nil {
		if blocked, _, ferr := h.srv.lim.Failure(ctx, username, ipHash); ferr == nil && blocked {
			reply.Failure(failureReason(errs.ErrRateLimited))
			return
		}
		reply.Failure("login failed: wrong username or password")
		return
	}
	_ = h.srv.lim.Success(ctx, username, ipHash)

	token, err := h.srv.sessions.Login(user)
	if err != nil {
		reply.Failure("login failed: token generation failed")
		return
	}

	h.token = token
	h.user = user
	addr := net.JoinHostPort(h.remoteHost(), strconv.Itoa(notifyPort))
	h.pusher = notify.NewPusher(user, addr, h.srv.pushInterval, h.srv.log)
	go h.pusher.Run()

	h.log.Info("user logged in", zap.String("user", username))
	reply.Success(token)
}

func (h *connHandler) onLogout(args []any, reply *protocol.Reply) {
	if h.resolveUser(reply) == nil {
		return
	}
	h.releaseEditing()
	h.stopPusher()
	h.srv.sessions.Logout(h.token)
	h.log.Info("user logged out", zap.String("user", h.user.Username))
	h.token = ""
	h.user = nil
	reply.Success("good-bye")
}

func (h *connHandler) onCreate(args []any, reply *protocol.Reply) {
	user := h.resolveUser(reply)
	if user == nil {
		return
	}
	name := args[0].(string)
	sections := args[1].(int)

	if _, err := h.srv.docs.Create(name, sections, user.Username); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			reply.Failure("a document with this name already exists")
			return
		}
		reply.Failure("cannot create document: " + err.Error())
		return
	}
	reply.Success("document created")
}

func (h *connHandler) onEdit(args []any, reply *protocol.Reply) {
	user := h.resolveUser(reply)
	if user == nil {
		return
	}
	if h.editingSec != nil {
		reply.Failure(failureReason(errs.ErrEditingInProgress))
		return
	}
	doc, err := h.accessibleDoc(user, args[0].(string))
	if err != nil {
		reply.Failure(failureReason(err))
		return
	}
	sec, err := doc.Section(args[1].(int))
	if err != nil {
		reply.Failure("section not found")
		return
	}
	if !sec.TryAcquire(user) {
		reply.Failure(failureReason(errs.ErrSectionBusy))
		return
	}
	addr, err := h.srv.alloc.AddressFor(doc.Name())
	if err != nil {
		sec.Release(user)
		reply.Failure("no multicast address available")
		return
	}
	r, err := sec.Reader()
	if err != nil {
		sec.Release(user)
		if len(doc.EditingSections()) == 0 {
			h.srv.alloc.Release(doc.Name())
		}
		reply.Failure("section read error: " + err.Error())
		return
	}
	defer r.Close()

	// State switches before the stream goes out: if the transfer dies
	// mid-way, connection cleanup still releases the section.
	h.editingDoc = doc
	h.editingSec = sec
	reply.Success(strconv.FormatUint(uint64(addr), 10))
	_ = reply.SendStream(r)
}

func (h *connHandler) onEditEnd(args []any, reply *protocol.Reply) {
	user := h.resolveUser(reply)
	if user == nil {
		return
	}
	if h.editingSec == nil {
		reply.Failure(failureReason(errs.ErrNotEditing))
		return
	}
	w, err := h.editingSec.Writer()
	if err != nil {
		reply.Failure("section write error: " + err.Error())
		return
	}

	h.editingSec.Release(user)
	reply.Success("send the new version")
	streamErr := reply.ReceiveStream(w)
	if err := w.Close(); err != nil {
		// The SUCCESS reply already went out, so the fault can only be
		// logged.
		h.log.Error("section file close failed",
			zap.String("user", user.Username),
			zap.Error(err),
		)
	}
	if streamErr != nil {
		// Connection is broken; cleanup returns the chat address.
		return
	}
	if len(h.editingDoc.EditingSections()) == 0 {
		h.srv.alloc.Release(h.editingDoc.Name())
	}
	h.editingSec = nil
	h.editingDoc = nil
}

func (h *connHandler) onShowSection(args []any, reply *protocol.Reply) {
	user := h.resolveUser(reply)
	if user == nil {
		return
	}
	doc, err := h.accessibleDoc(user, args[0].(string))
	if err != nil {
		reply.Failure(failureReason(err))
		return
	}
	sec, err := doc.Section(args[1].(int))
	if err != nil {
		reply.Failure("section not found")
		return
	}
	r, err := sec.Reader()
	if err != nil {
		reply.Failure("section read error: " + err.Error())
		return
	}
	defer r.Close()

	editor := sec.Editor()
	if editor == "" {
		editor = "None"
	}
	reply.Success(editor)
	_ = reply.SendStream(r)
}

func (h *connHandler) onShowDocument(args []any, reply *protocol.Reply) {
	user := h.resolveUser(reply)
	if user == nil {
		return
	}
	doc, err := h.accessibleDoc(user, args[0].(string))
	if err != nil {
		reply.Failure(failureReason(err))
		return
	}
	r, err := doc.ContentReader()
	if err != nil {
		reply.Failure("document read error: " + err.Error())
		return
	}
	defer r.Close()

	held := doc.EditingSections()
	payload := "None"
	if len(held) > 0 {
		parts := make([]string, len(held))
		for i, idx := range held {
			parts[i] = strconv.Itoa(idx)
		}
		payload = strings.Join(parts, ",")
	}
	reply.Success(payload)
	_ = reply.SendStream(r)
}

func (h *connHandler) onList(args []any, reply *protocol.Reply) {
	user := h.resolveUser(reply)
	if user == nil {
		return
	}
	names := h.srv.docs.AccessibleNames(user.Username)
	if len(names) == 0 {
		reply.Success("None")
		return
	}
	reply.Success(strings.Join(names, ","))
}

func (h *connHandler) onShare(args []any, reply *protocol.Reply) {
	user := h.resolveUser(reply)
	if user == nil {
		return
	}
	target, err := h.srv.users.Lookup(args[0].(string))
	if err != nil {
		reply.Failure("target user does not exist")
		return
	}
	doc, err := h.srv.docs.ByName(args[1].(string))
	if err != nil {
		reply.Failure(failureReason(err))
		return
	}
	if doc.Owner() != user.Username {
		reply.Failure("only the document's owner can share it")
		return
	}
	doc.AddModifier(target.Username)
	target.PushNotification(doc.Name())
	reply.Success("user " + target.Username + " can now access document " + doc.Name())
}
