// Command collabdoc is the interactive CLI client for the collaborative
// document server.
package main

import (
	"bufio"
	"bytes"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/and161185/collabdoc/internal/chat"
	"github.com/and161185/collabdoc/internal/client"
	"github.com/and161185/collabdoc/internal/protocol"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, `collabdoc CLI
Usage:
  collabdoc -addr HOST:PORT -reg-addr HOST:PORT

Session commands:
  register <username>            create an account (password prompted)
  login <username>               authenticate (password prompted)
  logout                         end the session
  create <doc> <sections>        create a document
  share <username> <doc>         grant edit access
  list                           list accessible documents
  show <doc> [section]           print content and edit status
  edit <doc> <section>           claim a section; content saved locally
  stop-edit                      upload the local copy and release
  send <text>                    post to the document chat
  receive                        print unread chat messages
  news                           print unread notifications
  version
  exit
`)
	os.Exit(2)
}

// session holds the interactive state: the command connection plus, while a
// section is claimed, the local working copy and the chat group membership.
type session struct {
	cli      *client.Client
	username string

	editFile string
	group    uint32
	sender   *chat.Sender
	receiver *chat.Receiver
}

func main() {
	addr := flag.String("addr", "localhost:1111", "server command address")
	regAddr := flag.String("reg-addr", "localhost:1110", "server registration address")
	flag.Usage = usage
	flag.Parse()

	fmt.Printf("collabdoc %s (%s)\n", version, buildDate)

	cli, err := client.Dial(*addr)
	if err != nil {
		fail(err)
	}
	s := &session{cli: cli}
	defer s.teardown()

	in := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for in.Scan() {
		fields := strings.Fields(in.Text())
		if len(fields) > 0 {
			if exit := s.dispatch(fields[0], fields[1:], *regAddr); exit {
				return
			}
		}
		fmt.Print("> ")
	}
}

// dispatch runs one command; it reports true when the loop must end.
func (s *session) dispatch(cmd string, args []string, regAddr string) bool {
	var err error
	switch cmd {
	case "register":
		err = s.register(regAddr, args)
	case "login":
		err = s.login(args)
	case "logout":
		err = s.logout()
	case "create":
		err = s.create(args)
	case "share":
		err = s.share(args)
	case "list":
		err = s.list()
	case "show":
		err = s.show(args)
	case "edit":
		err = s.edit(args)
	case "stop-edit":
		err = s.stopEdit()
	case "send":
		err = s.send(args)
	case "receive":
		err = s.receive()
	case "news":
		err = s.news()
	case "version":
		fmt.Printf("collabdoc %s (%s)\n", version, buildDate)
	case "exit", "quit":
		return true
	default:
		fmt.Printf("unknown command %q, try: register login logout create share list show edit stop-edit send receive news exit\n", cmd)
	}
	if err != nil {
		var remote *protocol.RemoteError
		if errors.As(err, &remote) {
			fmt.Println("server:", remote.Reason)
		} else {
			fmt.Println("error:", err)
		}
	}
	return false
}

func (s *session) register(regAddr string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: register <username>")
	}
	password, err := promptPassword()
	if err != nil {
		return err
	}
	payload, err := client.Register(regAddr, args[0], password)
	if err != nil {
		return err
	}
	fmt.Println(payload)
	return nil
}

func (s *session) login(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: login <username>")
	}
	password, err := promptPassword()
	if err != nil {
		return err
	}
	if err := s.cli.Login(args[0], password); err != nil {
		return err
	}
	s.username = args[0]
	fmt.Println("logged in as", args[0])
	return nil
}

func (s *session) logout() error {
	s.leaveChat()
	payload, err := s.cli.Logout()
	if err != nil {
		return err
	}
	s.username = ""
	s.editFile = ""
	fmt.Println(payload)
	return nil
}

func (s *session) create(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: create <doc> <sections>")
	}
	sections, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("sections must be a number")
	}
	payload, err := s.cli.Create(args[0], sections)
	if err != nil {
		return err
	}
	fmt.Println(payload)
	return nil
}

func (s *session) share(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: share <username> <doc>")
	}
	payload, err := s.cli.Share(args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Println(payload)
	return nil
}

func (s *session) list() error {
	names, err := s.cli.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("no accessible documents")
		return nil
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func (s *session) show(args []string) error {
	var buf bytes.Buffer
	switch len(args) {
	case 1:
		held, err := s.cli.ShowDocument(args[0], &buf)
		if err != nil {
			return err
		}
		if len(held) > 0 {
			parts := make([]string, len(held))
			for i, idx := range held {
				parts[i] = strconv.Itoa(idx)
			}
			fmt.Println("sections under edit:", strings.Join(parts, ","))
		}
	case 2:
		sec, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("section must be a number")
		}
		editor, err := s.cli.ShowSection(args[0], sec, &buf)
		if err != nil {
			return err
		}
		if editor != "None" {
			fmt.Println("currently edited by:", editor)
		}
	default:
		return fmt.Errorf("usage: show <doc> [section]")
	}
	fmt.Print(buf.String())
	if buf.Len() > 0 && !strings.HasSuffix(buf.String(), "\n") {
		fmt.Println()
	}
	return nil
}

func (s *session) edit(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: edit <doc> <section>")
	}
	if s.editFile != "" {
		return fmt.Errorf("already editing %s, run stop-edit first", s.editFile)
	}
	sec, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("section must be a number")
	}

	path := filepath.Join(".", fmt.Sprintf("%s_%d.txt", args[0], sec))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	group, err := s.cli.Edit(args[0], sec, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return err
	}

	s.editFile = path
	s.joinChat(group)
	fmt.Printf("editing %s section %d, working copy at %s\n", args[0], sec, path)
	fmt.Printf("chat group %s joined\n", chat.GroupIP(group))
	return nil
}

func (s *session) stopEdit() error {
	if s.editFile == "" {
		return fmt.Errorf("nothing is being edited")
	}
	f, err := os.Open(s.editFile)
	if err != nil {
		return err
	}
	err = s.cli.EditEnd(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Println("section uploaded and released")
	s.editFile = ""
	s.leaveChat()
	return nil
}

func (s *session) send(args []string) error {
	if s.sender == nil {
		return fmt.Errorf("chat is available only while editing")
	}
	if len(args) == 0 {
		return fmt.Errorf("usage: send <text>")
	}
	return s.sender.Send(chat.Message{
		Sender: s.username,
		Text:   strings.Join(args, " "),
	}, s.group)
}

func (s *session) receive() error {
	if s.receiver == nil {
		return fmt.Errorf("chat is available only while editing")
	}
	msgs := s.receiver.TakeMessages()
	if len(msgs) == 0 {
		fmt.Println("no new messages")
		return nil
	}
	for _, m := range msgs {
		fmt.Printf("[%s] %s: %s\n", m.SentAt.Format(time.Kitchen), m.Sender, m.Text)
	}
	return nil
}

func (s *session) news() error {
	notes := s.cli.Notifications()
	if len(notes) == 0 {
		fmt.Println("no news")
		return nil
	}
	fmt.Println("shared with you:", strings.Join(notes, ", "))
	return nil
}

func (s *session) joinChat(group uint32) {
	sender, err := chat.NewSender()
	if err != nil {
		fmt.Println("chat unavailable:", err)
		return
	}
	receiver, err := chat.JoinGroup(group)
	if err != nil {
		_ = sender.Close()
		fmt.Println("chat unavailable:", err)
		return
	}
	s.group = group
	s.sender = sender
	s.receiver = receiver
}

func (s *session) leaveChat() {
	if s.sender != nil {
		_ = s.sender.Close()
		s.sender = nil
	}
	if s.receiver != nil {
		_ = s.receiver.Close()
		s.receiver = nil
	}
	s.group = 0
}

func (s *session) teardown() {
	s.leaveChat()
	_ = s.cli.Close()
}

func promptPassword() (string, error) {
	fmt.Print("password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
