package lspclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// NotificationHandler is invoked for a server->client notification. Handlers
// run on the connection's single reader goroutine, so notifications are
// delivered in arrival order.
type NotificationHandler func(params json.RawMessage)

// Config holds the settings needed to reach the language server.
type Config struct {
	// Command is the server executable and its arguments, e.g.
	// ["cfn-lint", "--lsp"]. Used when DebugAddr is empty.
	Command []string

	// DebugAddr, when set, makes the client dial a TCP address instead of
	// spawning a process. Used to attach to a server started under a debugger.
	DebugAddr string

	Logger *slog.Logger
}

// Conn is a single process-wide connection to the language server. It owns
// the server process (when spawned), the JSON-RPC framing, and the dispatch
// of responses and notifications.
type Conn struct {
	reader  *bufio.Reader
	writer  io.Writer
	closer  io.Closer
	writeMu sync.Mutex

	cmd    *exec.Cmd
	logger *slog.Logger

	nextID    atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan *JSONRPCMessage

	handlersMu sync.RWMutex
	handlers   map[string]NotificationHandler

	ready     chan struct{}
	readyOnce sync.Once

	done     chan struct{}
	doneOnce sync.Once
	doneErr  error
}

// NewConn wraps an existing transport. The reader loop starts immediately.
// Most callers want Launch instead; NewConn exists so tests can drive the
// client over in-memory pipes.
func NewConn(r io.Reader, w io.Writer, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	c := &Conn{
		reader:   bufio.NewReader(r),
		writer:   w,
		logger:   logger,
		pending:  make(map[int64]chan *JSONRPCMessage),
		handlers: make(map[string]NotificationHandler),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	if cl, ok := w.(io.Closer); ok {
		c.closer = cl
	}
	go c.readLoop()
	return c
}

// Launch starts the language server process (or dials it in debug mode) and
// returns a connection ready for the initialize handshake. A start failure is
// fatal to lint/preview features for the session and is returned as an error;
// it must never crash the caller.
func Launch(ctx context.Context, cfg Config) (*Conn, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	if cfg.DebugAddr != "" {
		logger.Info("dialing language server", "addr", cfg.DebugAddr)
		var d net.Dialer
		nc, err := d.DialContext(ctx, "tcp", cfg.DebugAddr)
		if err != nil {
			return nil, fmt.Errorf("dialing language server at %s: %w", cfg.DebugAddr, err)
		}
		return NewConn(nc, nc, logger), nil
	}

	if len(cfg.Command) == 0 {
		return nil, errors.New("language server command not configured")
	}

	cmd := exec.CommandContext(ctx, cfg.Command[0], cfg.Command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating server stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating server stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating server stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting language server %q: %w", cfg.Command[0], err)
	}
	logger.Info("language server started", "command", strings.Join(cfg.Command, " "), "pid", cmd.Process.Pid)

	// Relay server stderr into our log so crashes are diagnosable.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Debug("server stderr", "line", scanner.Text())
		}
	}()

	c := NewConn(stdout, stdin, logger)
	c.cmd = cmd
	return c, nil
}

// Initialize performs the initialize/initialized handshake. Ready() is closed
// once the server has reported its capabilities.
func (c *Conn) Initialize(ctx context.Context, rootURI string) (*InitializeResult, error) {
	params := InitializeParams{
		ProcessID: os.Getpid(),
		RootURI:   rootURI,
	}
	params.Capabilities.TextDocument.PublishDiagnostics.RelatedInformation = true

	var result InitializeResult
	if err := c.Call(ctx, MethodInitialize, params, &result); err != nil {
		return nil, fmt.Errorf("initialize handshake: %w", err)
	}
	if err := c.Notify(MethodInitialized, struct{}{}); err != nil {
		return nil, fmt.Errorf("initialized notification: %w", err)
	}

	c.readyOnce.Do(func() { close(c.ready) })
	c.logger.Info("language server ready")
	return &result, nil
}

// Ready returns a channel that is closed once the handshake has completed.
func (c *Conn) Ready() <-chan struct{} { return c.ready }

// Done returns a channel that is closed when the connection has terminated.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the connection terminated. Nil until Done is closed, and
// nil after a clean shutdown.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.doneErr
	default:
		return nil
	}
}

// OnNotification registers a handler for a server->client notification
// method. Registering replaces any previous handler for the method.
func (c *Conn) OnNotification(method string, h NotificationHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[method] = h
}

// Call sends a request and decodes the response into result (which may be
// nil). It blocks until the server responds, the context is cancelled, or
// the connection dies.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	id := c.nextID.Add(1)
	ch := make(chan *JSONRPCMessage, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	rawID := json.RawMessage(strconv.FormatInt(id, 10))
	msg := &JSONRPCMessage{JSONRPC: "2.0", ID: &rawID, Method: method}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshaling %s params: %w", method, err)
		}
		msg.Params = b
	}
	if err := c.writeMessage(msg); err != nil {
		return err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return fmt.Errorf("%s: %w", method, resp.Error)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("decoding %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		if c.doneErr != nil {
			return fmt.Errorf("connection closed: %w", c.doneErr)
		}
		return errors.New("connection closed")
	}
}

// Notify sends a notification (no response expected).
func (c *Conn) Notify(method string, params any) error {
	msg := &JSONRPCMessage{JSONRPC: "2.0", Method: method}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshaling %s params: %w", method, err)
		}
		msg.Params = b
	}
	return c.writeMessage(msg)
}

// --- Document helpers ---

// OpenDocument tells the server a template file is open.
func (c *Conn) OpenDocument(uri, text string) error {
	return c.Notify(MethodDidOpen, DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        uri,
			LanguageID: LanguageIDForPath(URIToPath(uri)),
			Version:    1,
			Text:       text,
		},
	})
}

// ChangeDocument sends the full new content of an open document.
func (c *Conn) ChangeDocument(uri string, version int, text string) error {
	params := DidChangeTextDocumentParams{
		ContentChanges: []TextDocumentContentChangeEvent{{Text: text}},
	}
	params.TextDocument.URI = uri
	params.TextDocument.Version = version
	return c.Notify(MethodDidChange, params)
}

// CloseDocument tells the server a document was closed.
func (c *Conn) CloseDocument(uri string) error {
	return c.Notify(MethodDidClose, DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	})
}

// RequestPreview asks the server to compute the dependency graph for a
// document. The server answers asynchronously with previewIsAvailable.
func (c *Conn) RequestPreview(uri string) error {
	return c.Notify(MethodRequestPreview, PreviewParams{DocumentURI: uri})
}

// PreviewClosed tells the server the preview for a document was closed so it
// can release resources tied to it.
func (c *Conn) PreviewClosed(uri string) error {
	return c.Notify(MethodPreviewClosed, PreviewParams{DocumentURI: uri})
}

// LanguageIDForPath maps a template path to its LSP language identifier.
func LanguageIDForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".template":
		return "json"
	default:
		return "yaml"
	}
}

// Close performs a best-effort shutdown/exit exchange, closes the transport,
// and reaps the server process.
func (c *Conn) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Call(ctx, MethodShutdown, nil, nil); err != nil {
		c.logger.Debug("shutdown request failed", "error", err)
	}
	_ = c.Notify(MethodExit, nil)

	if c.closer != nil {
		_ = c.closer.Close()
	}
	if c.cmd != nil {
		if err := c.cmd.Wait(); err != nil {
			c.logger.Debug("language server exited", "error", err)
		}
	}
	c.finish(nil)
	return nil
}

// --- Internal plumbing ---

func (c *Conn) finish(err error) {
	c.doneOnce.Do(func() {
		c.doneErr = err
		close(c.done)
	})
}

// readLoop reads and dispatches messages until the transport fails. All
// notification handlers run here, serialized.
func (c *Conn) readLoop() {
	for {
		msg, err := c.readMessage()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				c.logger.Debug("server connection closed")
				c.finish(nil)
			} else {
				c.logger.Error("reading from server", "error", err)
				c.finish(err)
			}
			return
		}
		c.dispatch(msg)
	}
}

func (c *Conn) dispatch(msg *JSONRPCMessage) {
	switch {
	case msg.Method == "" && msg.ID != nil:
		// Response to one of our requests.
		var id int64
		if err := json.Unmarshal(*msg.ID, &id); err != nil {
			c.logger.Error("response with unparseable id", "id", string(*msg.ID))
			return
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[id]
		c.pendingMu.Unlock()
		if !ok {
			c.logger.Debug("response for unknown request", "id", id)
			return
		}
		ch <- msg

	case msg.ID != nil:
		// Server->client request. The linter server does not send any we
		// support, so answer method-not-found rather than leaving it hanging.
		c.sendResponse(msg.ID, nil, &JSONRPCError{
			Code:    -32601,
			Message: "Method not found: " + msg.Method,
		})

	default:
		c.handlersMu.RLock()
		h, ok := c.handlers[msg.Method]
		c.handlersMu.RUnlock()
		if !ok {
			c.logger.Debug("unhandled notification", "method", msg.Method)
			return
		}
		h(msg.Params)
	}
}

// readMessage reads a Content-Length framed JSON-RPC message.
func (c *Conn) readMessage() (*JSONRPCMessage, error) {
	var contentLength int
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			break // End of headers
		}

		if strings.HasPrefix(line, "Content-Length: ") {
			lengthStr := strings.TrimPrefix(line, "Content-Length: ")
			contentLength, err = strconv.Atoi(lengthStr)
			if err != nil {
				return nil, fmt.Errorf("invalid Content-Length: %w", err)
			}
		}
	}

	if contentLength == 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return nil, fmt.Errorf("reading message body: %w", err)
	}

	var msg JSONRPCMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("parsing message: %w", err)
	}
	return &msg, nil
}

func (c *Conn) sendResponse(id *json.RawMessage, result any, rpcErr *JSONRPCError) {
	msg := &JSONRPCMessage{JSONRPC: "2.0", ID: id}
	if rpcErr != nil {
		msg.Error = rpcErr
	} else {
		b, _ := json.Marshal(result)
		msg.Result = b
	}
	if err := c.writeMessage(msg); err != nil {
		c.logger.Error("writing response", "error", err)
	}
}

func (c *Conn) writeMessage(msg *JSONRPCMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))
	if _, err := c.writer.Write([]byte(header)); err != nil {
		return fmt.Errorf("writing message header: %w", err)
	}
	if _, err := c.writer.Write(body); err != nil {
		return fmt.Errorf("writing message body: %w", err)
	}
	return nil
}
