// Package toolrpc exposes games as JSON-RPC 2.0 tools in the shape of the
// Model Context Protocol: an initialize handshake, ping, tools/list and
// tools/call dispatching start_game, answer_question, get_guess and end_game.
//
// The protocol loop is framing-agnostic. Serve drives any Stream; this
// package provides a WebSocket framing and the stdio package a
// newline-delimited one.
package toolrpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/twentyq/gateway"
	"github.com/ggoodman/twentyq/internal/jsonrpc"
	"github.com/ggoodman/twentyq/internal/logctx"
	"github.com/ggoodman/twentyq/mcp"
)

// DefaultMaxInFlight bounds concurrently executing requests per connection.
const DefaultMaxInFlight = 8

// ErrMessageTooLarge is returned by a Stream for an oversized inbound
// message that was discarded. The connection stays usable.
var ErrMessageTooLarge = errors.New("toolrpc: message too large")

// Stream carries whole JSON-RPC messages. WriteMessage is never called
// concurrently.
type Stream interface {
	ReadMessage() ([]byte, error)
	WriteMessage([]byte) error
}

// Server dispatches JSON-RPC requests to the game gateway. A single Server
// serves any number of connections.
type Server struct {
	gw           *gateway.Gateway
	info         mcp.ImplementationInfo
	instructions string
	log          *slog.Logger
	maxInFlight  int

	tools  []tool
	byName map[string]tool
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithServerInfo sets the implementation info returned from initialize.
func WithServerInfo(info mcp.ImplementationInfo) Option {
	return func(s *Server) {
		s.info = info
	}
}

// WithInstructions sets the instructions returned from initialize.
func WithInstructions(text string) Option {
	return func(s *Server) {
		s.instructions = text
	}
}

func WithMaxInFlight(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxInFlight = n
		}
	}
}

// New builds a Server over gw.
func New(gw *gateway.Gateway, opts ...Option) *Server {
	s := &Server{
		gw:           gw,
		info:         mcp.ImplementationInfo{Name: "twentyq", Version: "dev"},
		instructions: "Think of something. Call start_game, then answer each question with answer_question until a guess arrives. Finish with end_game.",
		log:          slog.Default(),
		maxInFlight:  DefaultMaxInFlight,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = slog.New(logctx.Handler{Handler: s.log.Handler()})

	s.tools = gameTools(gw)
	s.byName = make(map[string]tool, len(s.tools))
	for _, t := range s.tools {
		s.byName[t.desc.Name] = t
	}
	return s
}

// Tools returns the tool descriptors in listing order.
func (s *Server) Tools() []mcp.Tool {
	out := make([]mcp.Tool, len(s.tools))
	for i, t := range s.tools {
		out[i] = t.desc
	}
	return out
}

// Serve runs the protocol on st until the peer disconnects or ctx is
// canceled. A clean disconnect returns nil. Requests already dispatched run
// to completion before Serve returns.
func (s *Server) Serve(ctx context.Context, st Stream) error {
	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := &conn{
		srv:     s,
		st:      st,
		sem:     make(chan struct{}, s.maxInFlight),
		cancels: make(map[string]context.CancelFunc),
	}

	type inbound struct {
		data []byte
		err  error
	}
	msgs := make(chan inbound)
	go func() {
		for {
			data, err := st.ReadMessage()
			select {
			case msgs <- inbound{data: data, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil && !errors.Is(err, ErrMessageTooLarge) {
				return
			}
		}
	}()

	s.log.InfoContext(ctx, "toolrpc.conn.open")
	defer func() {
		c.inflight.Wait()
		s.log.InfoContext(ctx, "toolrpc.conn.close", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	}()

	for {
		var in inbound
		select {
		case <-ctx.Done():
			return nil
		case in = <-msgs:
		}

		if errors.Is(in.err, ErrMessageTooLarge) {
			s.log.InfoContext(ctx, "toolrpc.message.too_large")
			c.write(ctx, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, "message too large", nil))
			continue
		}
		if errors.Is(in.err, io.EOF) {
			return nil
		}
		if in.err != nil {
			return in.err
		}

		if !c.handleMessage(ctx, in.data) {
			return nil
		}
	}
}

type conn struct {
	srv *Server
	st  Stream

	wmu sync.Mutex

	initialized atomic.Bool
	inflight    sync.WaitGroup
	sem         chan struct{}

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// handleMessage processes one inbound frame. It returns false when the
// connection should stop reading.
func (c *conn) handleMessage(ctx context.Context, data []byte) bool {
	log := c.srv.log

	msg, id, rerr := jsonrpc.Decode(data)
	if rerr != nil {
		log.InfoContext(ctx, "toolrpc.message.invalid", slog.Int("code", int(rerr.Code)))
		c.write(ctx, jsonrpc.ErrorResponse(id, rerr))
		return true
	}

	switch msg.Type() {
	case "response":
		// The server issues no requests of its own.
		log.DebugContext(ctx, "toolrpc.response.ignored")
		return true
	case "notification":
		c.handleNotification(ctx, msg.AsRequest())
		return true
	}

	req := msg.AsRequest()
	rctx := logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String(), Type: "request"})

	switch req.Method {
	case string(mcp.InitializeMethod):
		c.write(rctx, c.handleInitialize(rctx, req))
		return true
	case string(mcp.PingMethod):
		c.write(rctx, c.result(rctx, req, mcp.EmptyResult{}))
		return true
	}

	if !c.initialized.Load() {
		log.InfoContext(rctx, "toolrpc.handle_request.uninitialized")
		c.write(rctx, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "initialize must precede other requests", nil))
		return true
	}

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return false
	}

	reqCtx, reqCancel := context.WithCancel(rctx)
	key := idKey(req.ID)
	c.mu.Lock()
	c.cancels[key] = reqCancel
	c.mu.Unlock()

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		defer func() { <-c.sem }()
		defer func() {
			c.mu.Lock()
			delete(c.cancels, key)
			c.mu.Unlock()
			reqCancel()
		}()
		c.write(reqCtx, c.handleRequest(reqCtx, req))
	}()
	return true
}

func (c *conn) handleNotification(ctx context.Context, n *jsonrpc.Request) {
	switch n.Method {
	case string(mcp.InitializedNotificationMethod):
		c.srv.log.DebugContext(ctx, "toolrpc.notification.initialized")
	case string(mcp.CancelledNotificationMethod):
		var p mcp.CancelledNotification
		if err := json.Unmarshal(n.Params, &p); err != nil || len(p.RequestID) == 0 {
			return
		}
		var id jsonrpc.RequestID
		if err := json.Unmarshal(p.RequestID, &id); err != nil {
			return
		}
		c.mu.Lock()
		cancel := c.cancels[idKey(&id)]
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	default:
		c.srv.log.DebugContext(ctx, "toolrpc.notification.ignored", slog.String("method", n.Method))
	}
}

func (c *conn) handleInitialize(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	log := c.srv.log

	if c.initialized.Load() {
		log.InfoContext(ctx, "toolrpc.initialize.repeated")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "connection already initialized", nil)
	}

	var params mcp.InitializeRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "toolrpc.initialize.invalid", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil)
	}

	version := params.ProtocolVersion
	if !mcp.IsSupportedProtocolVersion(version) {
		version = mcp.LatestProtocolVersion
	}

	res := mcp.InitializeResult{
		ProtocolVersion: version,
		ServerInfo:      c.srv.info,
		Instructions:    c.srv.instructions,
	}
	res.Capabilities.Tools = &struct {
		ListChanged bool `json:"listChanged"`
	}{}

	c.initialized.Store(true)
	log.InfoContext(ctx, "toolrpc.initialize.ok",
		slog.String("client", params.ClientInfo.Name),
		slog.String("protocol_version", version),
	)
	return c.result(ctx, req, res)
}

func (c *conn) handleRequest(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	switch req.Method {
	case string(mcp.ToolsListMethod):
		return c.handleToolsList(ctx, req)
	case string(mcp.ToolsCallMethod):
		return c.handleToolCall(ctx, req)
	}
	c.srv.log.InfoContext(ctx, "toolrpc.handle_request.unsupported")
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "method not found: "+req.Method, nil)
}

func (c *conn) handleToolsList(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	start := time.Now()
	if len(req.Params) > 0 {
		var params mcp.ListToolsRequest
		if err := json.Unmarshal(req.Params, &params); err != nil {
			c.srv.log.InfoContext(ctx, "toolrpc.handle_request.invalid", slog.String("err", err.Error()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil)
		}
	}
	tools := c.srv.Tools()
	c.srv.log.InfoContext(ctx, "toolrpc.handle_request.ok",
		slog.Int("tool_count", len(tools)),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
	)
	return c.result(ctx, req, mcp.ListToolsResult{Tools: tools})
}

func (c *conn) handleToolCall(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	start := time.Now()
	log := c.srv.log

	var params mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		log.InfoContext(ctx, "toolrpc.handle_request.invalid", slog.String("err", "missing tool name"))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params: tool name is required", nil)
	}
	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})

	t, ok := c.srv.byName[params.Name]
	if !ok {
		log.InfoContext(ctx, "toolrpc.handle_request.unsupported")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "unknown tool: "+params.Name, nil)
	}

	out, err := t.call(ctx, params.Arguments)
	if err != nil {
		log.InfoContext(ctx, "toolrpc.handle_request.rejected",
			slog.String("err", err.Error()),
			slog.Int64("dur_ms", time.Since(start).Milliseconds()),
		)
		return jsonrpc.ErrorResponse(req.ID, toRPCError(err))
	}

	text, err := json.Marshal(out)
	if err != nil {
		log.ErrorContext(ctx, "toolrpc.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
	}

	log.InfoContext(ctx, "toolrpc.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return c.result(ctx, req, mcp.CallToolResult{
		Content: []mcp.ContentBlock{{Type: "text", Text: string(text)}},
	})
}

// idKey keys in-flight requests by the id's raw bytes, so "1" and 1 stay
// distinct.
func idKey(id *jsonrpc.RequestID) string {
	b, _ := id.MarshalJSON()
	return string(b)
}

// fieldsData is the error data attached to invalid params replies.
type fieldsData struct {
	Fields any `json:"fields"`
}

func toRPCError(err error) *jsonrpc.Error {
	if errors.Is(err, errInvalidArguments) {
		return jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, err.Error(), nil)
	}
	switch gateway.Classify(err) {
	case gateway.KindNotFound:
		return jsonrpc.NewError(jsonrpc.ErrorCodeNotFound, "game not found", nil)
	case gateway.KindNoPendingQuestion:
		return jsonrpc.NewError(jsonrpc.ErrorCodeNoPendingQuestion, "no question is awaiting an answer", nil)
	case gateway.KindInvalid:
		return jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "invalid params", fieldsData{Fields: gateway.Fields(err)})
	case gateway.KindCanceled:
		return jsonrpc.NewError(jsonrpc.ErrorCodeInternalError, "cancelled", nil)
	default:
		return jsonrpc.NewError(jsonrpc.ErrorCodeInternalError, "internal error", nil)
	}
}

func (c *conn) result(ctx context.Context, req *jsonrpc.Request, v any) *jsonrpc.Response {
	res, err := jsonrpc.NewResultResponse(req.ID, v)
	if err != nil {
		c.srv.log.ErrorContext(ctx, "toolrpc.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
	}
	return res
}

func (c *conn) write(ctx context.Context, res *jsonrpc.Response) {
	b, err := json.Marshal(res)
	if err != nil {
		c.srv.log.ErrorContext(ctx, "toolrpc.response.encode_failed", slog.String("err", err.Error()))
		return
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.st.WriteMessage(b); err != nil {
		c.srv.log.DebugContext(ctx, "toolrpc.response.write_failed", slog.String("err", err.Error()))
	}
}
