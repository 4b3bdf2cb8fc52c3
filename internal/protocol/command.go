// Package protocol implements the length-prefixed request/response wire
// protocol shared by the command channel, the registration channel and the
// notification channel.
//
// Every message is an int32 command code followed by the command's arguments
// in registry order: integers as big-endian int32, strings as an int32 byte
// length followed by the raw bytes. File bodies travel as a separate chunked
// stream written right after a SUCCESS envelope.
package protocol

import (
	"errors"
	"fmt"
)

// Command identifies a message kind. Codes are the ordinal position in this
// declaration and go on the wire as-is, so the list is append-only.
type Command int32

const (
	CmdLogin Command = iota
	CmdLogout
	CmdCreate
	CmdEdit
	CmdEditEnd
	CmdShowSection
	CmdShowDocument
	CmdList
	CmdShare
	CmdSuccess
	CmdFailure
	CmdNewNotifications
	CmdExit
	CmdRegister
)

// ArgKind is the wire type of a single command argument.
type ArgKind int

const (
	ArgInt ArgKind = iota
	ArgString
)

// signatures maps each command to its fixed, ordered argument types.
// Adding a command means adding one row here; the codec does not change.
var signatures = map[Command][]ArgKind{
	CmdLogin:            {ArgString, ArgString, ArgInt}, // username, password, notify port
	CmdLogout:           {},
	CmdCreate:           {ArgString, ArgInt}, // name, section count
	CmdEdit:             {ArgString, ArgInt}, // name, section index
	CmdEditEnd:          {},
	CmdShowSection:      {ArgString, ArgInt},
	CmdShowDocument:     {ArgString},
	CmdList:             {},
	CmdShare:            {ArgString, ArgString}, // target user, document name
	CmdSuccess:          {ArgString},
	CmdFailure:          {ArgString},
	CmdNewNotifications: {ArgString}, // comma-joined document names
	CmdExit:             {},
	CmdRegister:         {ArgString, ArgString},
}

var commandNames = map[Command]string{
	CmdLogin:            "LOGIN",
	CmdLogout:           "LOGOUT",
	CmdCreate:           "CREATE",
	CmdEdit:             "EDIT",
	CmdEditEnd:          "EDIT_END",
	CmdShowSection:      "SHOW_SECTION",
	CmdShowDocument:     "SHOW_DOCUMENT",
	CmdList:             "LIST",
	CmdShare:            "SHARE",
	CmdSuccess:          "SUCCESS",
	CmdFailure:          "FAILURE",
	CmdNewNotifications: "NEW_NOTIFICATIONS",
	CmdExit:             "EXIT",
	CmdRegister:         "REGISTER",
}

// Protocol-level errors.
var (
	// ErrUnknownCommand reports a numeric code outside the registry. It is
	// connection-fatal: after it the stream position is undefined.
	ErrUnknownCommand = errors.New("unknown command code")

	// ErrArgShape reports a local argument count/type mismatch detected
	// before anything is written to the socket.
	ErrArgShape = errors.New("argument shape mismatch")
)

func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Command(%d)", int32(c))
}

// lookup resolves a wire code to a known command.
func lookup(code int32) (Command, error) {
	c := Command(code)
	if _, ok := signatures[c]; !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownCommand, code)
	}
	return c, nil
}

// checkArgs validates args against the command signature. Integers may be
// passed as int or int32; strings as string.
func checkArgs(cmd Command, args []any) error {
	sig, ok := signatures[cmd]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownCommand, int32(cmd))
	}
	if len(args) != len(sig) {
		return fmt.Errorf("%w: %s wants %d arguments, got %d", ErrArgShape, cmd, len(sig), len(args))
	}
	for i, kind := range sig {
		switch kind {
		case ArgInt:
			switch args[i].(type) {
			case int, int32:
			default:
				return fmt.Errorf("%w: %s argument %d must be an integer", ErrArgShape, cmd, i)
			}
		case ArgString:
			if _, ok := args[i].(string); !ok {
				return fmt.Errorf("%w: %s argument %d must be a string", ErrArgShape, cmd, i)
			}
		}
	}
	return nil
}
