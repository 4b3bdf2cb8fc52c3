package protocol

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestSuccess(t *testing.T) {
	client, server := pipe(t)

	go func() {
		_ = Serve(server, map[Command]HandlerFunc{
			CmdList: func(args []any, reply *Reply) {
				reply.Success("doc1,doc2")
			},
		})
	}()

	payload, err := Request(client, CmdList)
	require.NoError(t, err)
	assert.Equal(t, "doc1,doc2", payload)
}

func TestRequestFailure(t *testing.T) {
	client, server := pipe(t)

	go func() {
		_ = Serve(server, map[Command]HandlerFunc{
			CmdCreate: func(args []any, reply *Reply) {
				reply.Failure("a document with this name already exists")
			},
		})
	}()

	_, err := Request(client, CmdCreate, "doc1", 2)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "a document with this name already exists", remote.Reason)
}

func TestServeUnregisteredCommand(t *testing.T) {
	client, server := pipe(t)

	go func() {
		_ = Serve(server, map[Command]HandlerFunc{})
	}()

	_, err := Request(client, CmdList)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Reason, "unsupported command")
}

func TestServePanickingHandler(t *testing.T) {
	client, server := pipe(t)

	go func() {
		_ = Serve(server, map[Command]HandlerFunc{
			CmdList: func(args []any, reply *Reply) {
				panic("boom")
			},
		})
	}()

	_, err := Request(client, CmdList)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Reason, "boom")
}

func TestServeSilentHandlerGetsAutomaticFailure(t *testing.T) {
	client, server := pipe(t)

	go func() {
		_ = Serve(server, map[Command]HandlerFunc{
			CmdList: func(args []any, reply *Reply) {},
		})
	}()

	_, err := Request(client, CmdList)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Reason, "produced no reply")
}

func TestRequestWithStream(t *testing.T) {
	client, server := pipe(t)

	go func() {
		_ = Serve(server, map[Command]HandlerFunc{
			CmdShowSection: func(args []any, reply *Reply) {
				reply.Success("None")
				_ = reply.SendStream(strings.NewReader("section body"))
			},
		})
	}()

	var body bytes.Buffer
	payload, err := RequestWithStream(client, &body, CmdShowSection, "doc1", 0)
	require.NoError(t, err)
	assert.Equal(t, "None", payload)
	assert.Equal(t, "section body", body.String())
}

func TestRequestWithStreamSkipsStreamOnFailure(t *testing.T) {
	client, server := pipe(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Serve(server, map[Command]HandlerFunc{
			CmdShowSection: func(args []any, reply *Reply) {
				reply.Failure("section not found")
			},
		})
	}()

	var body bytes.Buffer
	_, err := RequestWithStream(client, &body, CmdShowSection, "doc1", 9)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Zero(t, body.Len())
	<-done
}

func TestServeOneReplyPerRequest(t *testing.T) {
	client, server := pipe(t)

	go func() {
		_ = Serve(server, map[Command]HandlerFunc{
			CmdList: func(args []any, reply *Reply) {
				reply.Success("first")
				reply.Failure("second reply must be dropped")
			},
		})
	}()

	payload, err := Request(client, CmdList)
	require.NoError(t, err)
	assert.Equal(t, "first", payload)
}
