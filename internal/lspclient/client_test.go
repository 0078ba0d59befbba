package lspclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cfnworks/cfnview/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer drives the server side of a Conn over in-memory pipes.
type fakeServer struct {
	t      *testing.T
	reader *bufio.Reader
	writer io.Writer
	mu     sync.Mutex
}

func newTestConn(t *testing.T) (*Conn, *fakeServer) {
	t.Helper()
	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()
	t.Cleanup(func() {
		_ = serverOut.Close()
		_ = clientOut.Close()
	})

	conn := NewConn(clientIn, clientOut, testutil.NewTestLogger(t))
	srv := &fakeServer{t: t, reader: bufio.NewReader(serverIn), writer: serverOut}
	return conn, srv
}

// read returns the next framed message from the client.
func (s *fakeServer) read() *JSONRPCMessage {
	s.t.Helper()
	var contentLength int
	for {
		line, err := s.reader.ReadString('\n')
		require.NoError(s.t, err)
		if line == "\r\n" || line == "\n" {
			break
		}
		if _, err := fmt.Sscanf(line, "Content-Length: %d", &contentLength); err == nil {
			continue
		}
	}
	require.Greater(s.t, contentLength, 0)

	body := make([]byte, contentLength)
	_, err := io.ReadFull(s.reader, body)
	require.NoError(s.t, err)

	var msg JSONRPCMessage
	require.NoError(s.t, json.Unmarshal(body, &msg))
	return &msg
}

// write frames and sends a message to the client.
func (s *fakeServer) write(msg *JSONRPCMessage) {
	s.t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	body, err := json.Marshal(msg)
	require.NoError(s.t, err)
	_, err = fmt.Fprintf(s.writer, "Content-Length: %d\r\n\r\n%s", len(body), body)
	require.NoError(s.t, err)
}

func (s *fakeServer) respond(id *json.RawMessage, result any) {
	s.t.Helper()
	b, err := json.Marshal(result)
	require.NoError(s.t, err)
	s.write(&JSONRPCMessage{JSONRPC: "2.0", ID: id, Result: b})
}

func (s *fakeServer) notify(method string, params any) {
	s.t.Helper()
	b, err := json.Marshal(params)
	require.NoError(s.t, err)
	s.write(&JSONRPCMessage{JSONRPC: "2.0", Method: method, Params: b})
}

func TestConn_Initialize(t *testing.T) {
	conn, srv := newTestConn(t)

	go func() {
		req := srv.read()
		assert.Equal(t, MethodInitialize, req.Method)

		var params InitializeParams
		assert.NoError(t, json.Unmarshal(req.Params, &params))
		assert.Equal(t, "file:///project", params.RootURI)

		srv.respond(req.ID, InitializeResult{})

		// The handshake finishes with the initialized notification
		note := srv.read()
		assert.Equal(t, MethodInitialized, note.Method)
		assert.Nil(t, note.ID)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := conn.Initialize(ctx, "file:///project")
	require.NoError(t, err)
	require.NotNil(t, result)

	select {
	case <-conn.Ready():
		// OK
	default:
		t.Error("Ready not closed after handshake")
	}
}

func TestConn_Call_ServerError(t *testing.T) {
	conn, srv := newTestConn(t)

	go func() {
		req := srv.read()
		srv.write(&JSONRPCMessage{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &JSONRPCError{Code: -32600, Message: "invalid request"},
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := conn.Call(ctx, "some/method", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid request")
}

func TestConn_Call_ContextCancelled(t *testing.T) {
	conn, srv := newTestConn(t)

	go func() {
		srv.read() // swallow the request, never respond
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := conn.Call(ctx, "some/method", nil, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConn_Notifications_ArrivalOrder(t *testing.T) {
	conn, srv := newTestConn(t)

	const count = 20
	got := make([]string, 0, count)
	done := make(chan struct{})
	conn.OnNotification(MethodPreviewIsAvailable, func(params json.RawMessage) {
		var p PreviewParams
		require.NoError(t, json.Unmarshal(params, &p))
		got = append(got, p.DocumentURI)
		if len(got) == count {
			close(done)
		}
	})

	for i := 0; i < count; i++ {
		srv.notify(MethodPreviewIsAvailable, PreviewParams{DocumentURI: "file:///doc-" + strconv.Itoa(i)})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("received %d of %d notifications", len(got), count)
	}

	// Handlers run on the single reader goroutine, so delivery preserves
	// arrival order.
	for i, uri := range got {
		assert.Equal(t, "file:///doc-"+strconv.Itoa(i), uri)
	}
}

func TestConn_UnhandledNotification(t *testing.T) {
	conn, srv := newTestConn(t)

	// An unknown notification must not wedge the connection
	srv.notify("unknown/method", struct{}{})

	received := make(chan struct{})
	conn.OnNotification(MethodFileClosed, func(json.RawMessage) {
		close(received)
	})
	srv.notify(MethodFileClosed, PreviewParams{DocumentURI: "file:///a"})

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("connection stopped dispatching after unknown notification")
	}
}

func TestConn_ServerRequest_MethodNotFound(t *testing.T) {
	_, srv := newTestConn(t)

	id := json.RawMessage(`42`)
	srv.write(&JSONRPCMessage{JSONRPC: "2.0", ID: &id, Method: "workspace/configuration"})

	resp := srv.read()
	require.NotNil(t, resp.ID)
	assert.Equal(t, "42", string(*resp.ID))
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32601, resp.Error.Code)
}

func TestConn_DocumentLifecycleNotifications(t *testing.T) {
	conn, srv := newTestConn(t)

	// The pipe transport is synchronous, so the server side must read from
	// its own goroutine or the client's writes would block forever.
	msgs := make(chan *JSONRPCMessage, 8)
	go func() {
		for i := 0; i < 5; i++ {
			msgs <- srv.read()
		}
	}()
	next := func() *JSONRPCMessage {
		t.Helper()
		select {
		case m := <-msgs:
			return m
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a client message")
			return nil
		}
	}

	require.NoError(t, conn.OpenDocument("file:///tmp/stack.yaml", "Resources: {}"))
	msg := next()
	assert.Equal(t, MethodDidOpen, msg.Method)
	var open DidOpenTextDocumentParams
	require.NoError(t, json.Unmarshal(msg.Params, &open))
	assert.Equal(t, "file:///tmp/stack.yaml", open.TextDocument.URI)
	assert.Equal(t, "yaml", open.TextDocument.LanguageID)
	assert.Equal(t, 1, open.TextDocument.Version)
	assert.Equal(t, "Resources: {}", open.TextDocument.Text)

	require.NoError(t, conn.ChangeDocument("file:///tmp/stack.yaml", 2, "Resources:\n  VPC: {}"))
	msg = next()
	assert.Equal(t, MethodDidChange, msg.Method)
	var change DidChangeTextDocumentParams
	require.NoError(t, json.Unmarshal(msg.Params, &change))
	assert.Equal(t, 2, change.TextDocument.Version)
	require.Len(t, change.ContentChanges, 1)
	assert.Nil(t, change.ContentChanges[0].Range)

	require.NoError(t, conn.RequestPreview("file:///tmp/stack.yaml"))
	msg = next()
	assert.Equal(t, MethodRequestPreview, msg.Method)
	var pv PreviewParams
	require.NoError(t, json.Unmarshal(msg.Params, &pv))
	assert.Equal(t, "file:///tmp/stack.yaml", pv.DocumentURI)

	require.NoError(t, conn.PreviewClosed("file:///tmp/stack.yaml"))
	msg = next()
	assert.Equal(t, MethodPreviewClosed, msg.Method)

	require.NoError(t, conn.CloseDocument("file:///tmp/stack.yaml"))
	msg = next()
	assert.Equal(t, MethodDidClose, msg.Method)
}

func TestConn_Done_OnTransportClose(t *testing.T) {
	clientIn, serverOut := io.Pipe()
	_, clientOut := io.Pipe()
	conn := NewConn(clientIn, clientOut, testutil.NewTestLogger(t))

	require.NoError(t, serverOut.Close())

	select {
	case <-conn.Done():
		assert.NoError(t, conn.Err())
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after transport EOF")
	}
}
