// Package stream exposes games over a persistent WebSocket connection.
//
// Every frame is a JSON object {"type", "request_id", "payload"}. The session
// id travels inside each payload, so one connection may drive many games and
// a game may be driven from many connections. Closing a connection never ends
// a game; clients send an explicit "end".
//
// Inbound types and their replies:
//
//	start     -> question | guess
//	answer    -> question | guess, or guess followed by end once the game concludes
//	get_guess -> guess (payload.guess is null when there is none)
//	end       -> end
//
// Frames addressing the same game are handled in arrival order; frames for
// different games are handled concurrently.
//
// Failures are reported as an "error" frame echoing the request_id. The
// connection stays open except after repeated malformed frames.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/twentyq/game"
	"github.com/ggoodman/twentyq/gateway"
	"github.com/ggoodman/twentyq/internal/logctx"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

// Frame types.
const (
	TypeStart    = "start"
	TypeAnswer   = "answer"
	TypeGetGuess = "get_guess"
	TypeEnd      = "end"

	TypeQuestion = "question"
	TypeGuess    = "guess"
	TypeError    = "error"
)

// Error codes carried in error frames.
const (
	CodeNotFound          = "not_found"
	CodeNoPendingQuestion = "no_pending_question"
	CodeInvalidArgument   = "invalid_argument"
	CodeInvalidFrame      = "invalid_frame"
	CodeUnsupportedType   = "unsupported_type"
	CodeCanceled          = "canceled"
	CodeInternal          = "internal"
)

const (
	DefaultMaxFrameBytes   = 16 << 10
	DefaultMaxInFlight     = 8
	DefaultMaxDecodeErrors = 3
)

// Frame is the envelope of every message in both directions.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SessionPayload addresses an existing game.
type SessionPayload struct {
	SessionID string `json:"session_id"`
}

// AnswerPayload is the payload of an answer frame.
type AnswerPayload struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

// EndPayload is the payload of an end frame. Outcome and Answer are optional.
type EndPayload struct {
	SessionID string `json:"session_id"`
	Outcome   string `json:"outcome,omitempty"`
	Answer    string `json:"answer,omitempty"`
}

// ErrorEnvelope is the payload of an error frame.
type ErrorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  []game.FieldError `json:"fields,omitempty"`
}

// Handler upgrades requests to WebSocket connections and serves the game
// protocol on them.
type Handler struct {
	gw  *gateway.Gateway
	log *slog.Logger

	maxFrameBytes   int
	maxInFlight     int
	maxDecodeErrors int

	ws websocket.Server
}

// Option configures a Handler.
type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithMaxFrameBytes caps the size of an inbound frame. Larger frames are
// discarded and answered with an invalid_frame error.
func WithMaxFrameBytes(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxFrameBytes = n
		}
	}
}

// WithMaxInFlight bounds how many frames of one connection are queued or
// processing. Reading pauses while the bound is reached.
func WithMaxInFlight(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxInFlight = n
		}
	}
}

// WithMaxDecodeErrors sets how many consecutive malformed frames close the
// connection.
func WithMaxDecodeErrors(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxDecodeErrors = n
		}
	}
}

// New builds a Handler serving gw.
func New(gw *gateway.Gateway, opts ...Option) *Handler {
	h := &Handler{
		gw:              gw,
		log:             slog.Default(),
		maxFrameBytes:   DefaultMaxFrameBytes,
		maxInFlight:     DefaultMaxInFlight,
		maxDecodeErrors: DefaultMaxDecodeErrors,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = slog.New(logctx.Handler{Handler: h.log.Handler()})
	h.ws = websocket.Server{
		// Non-browser clients send no Origin; access is gated by the bearer
		// token middleware in front of this handler.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler:   h.serveConn,
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.ws.ServeHTTP(w, r)
}

func (h *Handler) serveConn(conn *websocket.Conn) {
	start := time.Now()
	conn.MaxPayloadBytes = h.maxFrameBytes

	ctx, cancel := context.WithCancel(conn.Request().Context())
	defer cancel()
	ctx = logctx.WithConnData(ctx, &logctx.ConnData{ConnID: uuid.NewString(), Transport: "websocket"})

	p := &peer{conn: conn}
	sem := make(chan struct{}, h.maxInFlight)
	games := &lanes{queued: make(map[string][]func())}
	var wg sync.WaitGroup
	var frames atomic.Int64

	h.log.InfoContext(ctx, "stream.conn.open")
	defer func() {
		// Work already dispatched finishes; its replies are dropped if the
		// peer is gone.
		wg.Wait()
		h.log.InfoContext(ctx, "stream.conn.close",
			slog.Int64("frames", frames.Load()),
			slog.Int64("dur_ms", time.Since(start).Milliseconds()),
		)
	}()

	decodeErrors := 0
	for {
		var raw []byte
		err := websocket.Message.Receive(conn, &raw)
		if errors.Is(err, websocket.ErrFrameTooLarge) {
			decodeErrors++
			h.log.InfoContext(ctx, "stream.frame.invalid", slog.String("err", err.Error()))
			_ = p.writeError("", CodeInvalidFrame, "frame too large", nil)
			if decodeErrors >= h.maxDecodeErrors {
				return
			}
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.log.DebugContext(ctx, "stream.conn.read_failed", slog.String("err", err.Error()))
			}
			return
		}
		frames.Add(1)

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Type == "" {
			decodeErrors++
			h.log.InfoContext(ctx, "stream.frame.invalid", slog.Int("decode_errors", decodeErrors))
			_ = p.writeError(frame.RequestID, CodeInvalidFrame, "frame must be a JSON object with a type", nil)
			if decodeErrors >= h.maxDecodeErrors {
				return
			}
			continue
		}
		decodeErrors = 0

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		wg.Add(1)
		work := func() {
			defer wg.Done()
			defer func() { <-sem }()
			h.dispatch(ctx, p, frame)
		}

		key := sessionOf(frame)
		if key == "" {
			go work()
			continue
		}
		if games.push(key, work) {
			go games.drain(key)
		}
	}
}

// sessionOf returns the game a frame addresses, or "" for frames that touch
// no existing game.
func sessionOf(f Frame) string {
	var in struct {
		SessionID any `json:"session_id"`
	}
	if json.Unmarshal(f.Payload, &in) != nil {
		return ""
	}
	id, _ := in.SessionID.(string)
	return id
}

// lanes runs the frames of one game one at a time, in arrival order. Frames
// for different games run concurrently.
type lanes struct {
	mu     sync.Mutex
	queued map[string][]func()
}

// push queues fn behind earlier work for key. It reports whether the caller
// must start a drain for key.
func (l *lanes) push(key string, fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	q, busy := l.queued[key]
	l.queued[key] = append(q, fn)
	return !busy
}

// drain runs queued work for key until none is left.
func (l *lanes) drain(key string) {
	for {
		l.mu.Lock()
		q := l.queued[key]
		if len(q) == 0 {
			delete(l.queued, key)
			l.mu.Unlock()
			return
		}
		fn := q[0]
		l.queued[key] = q[1:]
		l.mu.Unlock()
		fn()
	}
}

func (h *Handler) dispatch(ctx context.Context, p *peer, f Frame) {
	switch f.Type {
	case TypeStart:
		res, err := h.gw.Start(ctx)
		if err != nil {
			h.writeGatewayError(ctx, p, f.RequestID, err)
			return
		}
		h.writeTurn(ctx, p, f.RequestID, res)

	case TypeAnswer:
		var in AnswerPayload
		if !h.decodePayload(ctx, p, f, &in) {
			return
		}
		res, err := h.gw.Answer(ctx, in.SessionID, in.Answer)
		if err != nil {
			h.writeGatewayError(ctx, p, f.RequestID, err)
			return
		}
		h.writeTurn(ctx, p, f.RequestID, res)

	case TypeGetGuess:
		var in SessionPayload
		if !h.decodePayload(ctx, p, f, &in) {
			return
		}
		sess, err := h.gw.Guess(ctx, in.SessionID)
		if err != nil {
			h.writeGatewayError(ctx, p, f.RequestID, err)
			return
		}
		h.write(ctx, p, TypeGuess, f.RequestID, gateway.GuessOf(sess))

	case TypeEnd:
		var in EndPayload
		if !h.decodePayload(ctx, p, f, &in) {
			return
		}
		sess, err := h.gw.End(ctx, in.SessionID, in.Outcome, in.Answer)
		if err != nil {
			h.writeGatewayError(ctx, p, f.RequestID, err)
			return
		}
		h.write(ctx, p, TypeEnd, f.RequestID, gateway.EndOf(sess))

	default:
		h.log.InfoContext(ctx, "stream.frame.unsupported", slog.String("type", f.Type))
		_ = p.writeError(f.RequestID, CodeUnsupportedType, "unsupported frame type: "+f.Type, nil)
	}
}

// writeTurn emits the frames for the step in res. A concluded game gets its
// final guess followed by an end notification.
func (h *Handler) writeTurn(ctx context.Context, p *peer, requestID string, res gateway.Result) {
	switch res.Step.(type) {
	case game.Question:
		h.write(ctx, p, TypeQuestion, requestID, h.gw.Turn(res))
	case game.Guess:
		h.write(ctx, p, TypeGuess, requestID, gateway.GuessOf(res.Session))
	case game.Done:
		h.write(ctx, p, TypeGuess, requestID, gateway.GuessOf(res.Session))
		h.write(ctx, p, TypeEnd, requestID, gateway.EndOf(res.Session))
	}
}

func (h *Handler) decodePayload(ctx context.Context, p *peer, f Frame, dst any) bool {
	if len(f.Payload) == 0 {
		_ = p.writeError(f.RequestID, CodeInvalidFrame, f.Type+" requires a payload", nil)
		return false
	}
	if err := json.Unmarshal(f.Payload, dst); err != nil {
		if ferr := gateway.FieldTypeError(err); ferr != nil {
			h.writeGatewayError(ctx, p, f.RequestID, ferr)
			return false
		}
		h.log.InfoContext(ctx, "stream.payload.invalid", slog.String("type", f.Type), slog.String("err", err.Error()))
		_ = p.writeError(f.RequestID, CodeInvalidFrame, "invalid "+f.Type+" payload", nil)
		return false
	}
	return true
}

func (h *Handler) write(ctx context.Context, p *peer, typ, requestID string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.log.ErrorContext(ctx, "stream.frame.encode_failed", slog.String("type", typ), slog.String("err", err.Error()))
		return
	}
	if err := p.writeFrame(Frame{Type: typ, RequestID: requestID, Payload: payload}); err != nil {
		h.log.DebugContext(ctx, "stream.frame.write_failed", slog.String("type", typ), slog.String("err", err.Error()))
	}
}

func (h *Handler) writeGatewayError(ctx context.Context, p *peer, requestID string, err error) {
	var werr error
	switch gateway.Classify(err) {
	case gateway.KindNotFound:
		werr = p.writeError(requestID, CodeNotFound, "game not found", nil)
	case gateway.KindNoPendingQuestion:
		werr = p.writeError(requestID, CodeNoPendingQuestion, "no question is awaiting an answer", nil)
	case gateway.KindInvalid:
		werr = p.writeError(requestID, CodeInvalidArgument, "invalid input", gateway.Fields(err))
	case gateway.KindCanceled:
		werr = p.writeError(requestID, CodeCanceled, "request canceled", nil)
	default:
		h.log.ErrorContext(ctx, "stream.message.fail", slog.String("err", err.Error()))
		werr = p.writeError(requestID, CodeInternal, "internal error", nil)
	}
	if werr != nil {
		h.log.DebugContext(ctx, "stream.frame.write_failed", slog.String("type", TypeError), slog.String("err", werr.Error()))
	}
}

// peer serializes writes to one connection.
type peer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *peer) writeFrame(f Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return websocket.JSON.Send(p.conn, f)
}

func (p *peer) writeError(requestID, code, msg string, fields []game.FieldError) error {
	payload, err := json.Marshal(ErrorEnvelope{Error: ErrorDetail{Code: code, Message: msg, Fields: fields}})
	if err != nil {
		return err
	}
	return p.writeFrame(Frame{Type: TypeError, RequestID: requestID, Payload: payload})
}
