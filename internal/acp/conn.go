package acp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode-acp/internal/logging"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// RequestError is a JSON-RPC error returned to the client.
type RequestError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ErrInvalidParams builds an invalid-params error.
func ErrInvalidParams(msg string) *RequestError {
	return &RequestError{Code: codeInvalidParams, Message: msg}
}

// Handler serves the agent-side ACP methods.
type Handler interface {
	Initialize(ctx context.Context, params InitializeParams) (*InitializeResult, error)
	NewSession(ctx context.Context, params NewSessionParams) (*NewSessionResult, error)
	LoadSession(ctx context.Context, params LoadSessionParams) (*LoadSessionResult, error)
	Prompt(ctx context.Context, params PromptParams) (*PromptResult, error)
	Cancel(ctx context.Context, params CancelParams) error
	SetMode(ctx context.Context, params SetModeParams) error
	CreateTerminal(ctx context.Context, params CreateTerminalParams) (*CreateTerminalResult, error)
	TerminalOutput(ctx context.Context, params TerminalParams) (*TerminalOutputResult, error)
	WaitForExit(ctx context.Context, params TerminalParams) (*WaitForExitResult, error)
	KillTerminal(ctx context.Context, params TerminalParams) error
	ReleaseTerminal(ctx context.Context, params TerminalParams) error
}

// Client is the subset of the connection the bridge core needs: pushing
// notifications and the blocking permission round trip. *Conn implements it.
type Client interface {
	SessionUpdate(ctx context.Context, n SessionNotification) error
	RequestPermission(ctx context.Context, req PermissionRequest) (*PermissionOutcome, error)
}

// rpcMessage is the wire shape of any JSON-RPC 2.0 message.
type rpcMessage struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  json.RawMessage  `json:"params,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *RequestError    `json:"error,omitempty"`
}

// Conn is a JSON-RPC 2.0 connection speaking newline-delimited messages,
// typically over stdio. Incoming requests are dispatched to the Handler,
// each in its own goroutine so a long-running prompt does not block
// session/cancel.
type Conn struct {
	handler Handler
	log     zerolog.Logger

	writeMu sync.Mutex
	out     *json.Encoder
	in      io.Reader

	nextID    atomic.Int64
	pendingMu sync.Mutex
	pending   map[string]chan rpcMessage
}

// NewConn creates a connection over the given reader/writer pair.
func NewConn(r io.Reader, w io.Writer, handler Handler) *Conn {
	return &Conn{
		handler: handler,
		log:     logging.Component("acp"),
		out:     json.NewEncoder(w),
		in:      r,
		pending: make(map[string]chan rpcMessage),
	}
}

// Serve reads newline-delimited messages until the stream ends or ctx is
// cancelled. Each line is framed and decoded independently, so a malformed
// line is logged and skipped without poisoning the rest of the stream; only
// an unrecoverable read failure ends the loop.
func (c *Conn) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var msg rpcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			c.log.Warn().Err(err).Msg("skipping malformed message")
			continue
		}

		switch {
		case msg.Method != "" && msg.ID != nil:
			go c.handleRequest(ctx, msg)
		case msg.Method != "":
			go c.handleNotification(ctx, msg)
		case msg.ID != nil:
			c.handleResponse(msg)
		default:
			c.log.Warn().Msg("dropping message with neither method nor id")
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read: %w", err)
	}
	return nil
}

// Call issues a request to the client and blocks for its response.
func (c *Conn) Call(ctx context.Context, method string, params any, result any) error {
	id := c.nextID.Add(1)
	key := strconv.FormatInt(id, 10)

	ch := make(chan rpcMessage, 1)
	c.pendingMu.Lock()
	c.pending[key] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, key)
		c.pendingMu.Unlock()
	}()

	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	idRaw := json.RawMessage(key)
	if err := c.write(rpcMessage{JSONRPC: "2.0", ID: &idRaw, Method: method, Params: raw}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			return json.Unmarshal(resp.Result, result)
		}
		return nil
	}
}

// Notify sends a notification (no response expected).
func (c *Conn) Notify(method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	return c.write(rpcMessage{JSONRPC: "2.0", Method: method, Params: raw})
}

// SessionUpdate pushes a session/update notification.
func (c *Conn) SessionUpdate(_ context.Context, n SessionNotification) error {
	return c.Notify(MethodSessionUpdate, n)
}

// RequestPermission issues the blocking permission request.
func (c *Conn) RequestPermission(ctx context.Context, req PermissionRequest) (*PermissionOutcome, error) {
	var result PermissionResult
	if err := c.Call(ctx, MethodRequestPerm, req, &result); err != nil {
		return nil, err
	}
	return &result.Outcome, nil
}

func (c *Conn) write(msg rpcMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.out.Encode(msg)
}

func (c *Conn) handleResponse(msg rpcMessage) {
	key := string(*msg.ID)
	c.pendingMu.Lock()
	ch, ok := c.pending[key]
	c.pendingMu.Unlock()
	if !ok {
		c.log.Warn().Str("id", key).Msg("response for unknown request")
		return
	}
	ch <- msg
}

func (c *Conn) handleNotification(ctx context.Context, msg rpcMessage) {
	if msg.Method != MethodSessionCancel {
		c.log.Debug().Str("method", msg.Method).Msg("ignoring notification")
		return
	}
	var params CancelParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		c.log.Warn().Err(err).Msg("bad cancel params")
		return
	}
	if err := c.handler.Cancel(ctx, params); err != nil {
		c.log.Warn().Err(err).Str("sessionID", params.SessionID).Msg("cancel failed")
	}
}

func (c *Conn) handleRequest(ctx context.Context, msg rpcMessage) {
	result, err := c.dispatch(ctx, msg.Method, msg.Params)

	resp := rpcMessage{JSONRPC: "2.0", ID: msg.ID}
	if err != nil {
		var reqErr *RequestError
		if !errors.As(err, &reqErr) {
			reqErr = &RequestError{Code: codeInternalError, Message: err.Error()}
		}
		resp.Error = reqErr
	} else {
		raw, merr := json.Marshal(result)
		if merr != nil {
			resp.Error = &RequestError{Code: codeInternalError, Message: merr.Error()}
		} else {
			resp.Result = raw
		}
	}

	if werr := c.write(resp); werr != nil {
		c.log.Error().Err(werr).Str("method", msg.Method).Msg("failed to write response")
	}
}

// dispatch routes one request to the handler. Empty results marshal as {}.
func (c *Conn) dispatch(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case MethodInitialize:
		var p InitializeParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		return c.handler.Initialize(ctx, p)
	case MethodSessionNew:
		var p NewSessionParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		return c.handler.NewSession(ctx, p)
	case MethodSessionLoad:
		var p LoadSessionParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		return c.handler.LoadSession(ctx, p)
	case MethodSessionPrompt:
		var p PromptParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		return c.handler.Prompt(ctx, p)
	case MethodSessionCancel:
		var p CancelParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		return struct{}{}, c.handler.Cancel(ctx, p)
	case MethodSessionSetMode:
		var p SetModeParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		return struct{}{}, c.handler.SetMode(ctx, p)
	case MethodTerminalCreate:
		var p CreateTerminalParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		return c.handler.CreateTerminal(ctx, p)
	case MethodTerminalOutput:
		var p TerminalParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		return c.handler.TerminalOutput(ctx, p)
	case MethodTerminalWait:
		var p TerminalParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		return c.handler.WaitForExit(ctx, p)
	case MethodTerminalKill:
		var p TerminalParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		return struct{}{}, c.handler.KillTerminal(ctx, p)
	case MethodTerminalRelease:
		var p TerminalParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
		return struct{}{}, c.handler.ReleaseTerminal(ctx, p)
	default:
		return nil, &RequestError{Code: codeMethodNotFound, Message: "method not found: " + method}
	}
}
