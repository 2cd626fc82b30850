package stdio

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/ggoodman/twentyq/internal/logctx"
	"github.com/ggoodman/twentyq/toolrpc"
	"github.com/google/uuid"
)

// DefaultMaxLineBytes caps a single inbound line.
const DefaultMaxLineBytes = 1 << 20

// ErrAlreadyServing is returned by a second call to Serve.
var ErrAlreadyServing = errors.New("stdio: Serve already called")

// Handler is a single-connection stdio transport that reads JSON-RPC messages
// from an io.Reader and writes responses to an io.Writer. By default, it uses
// os.Stdin and os.Stdout.
//
// The handler is transport-only; protocol semantics live in toolrpc.Server.
type Handler struct {
	srv *toolrpc.Server

	r io.Reader
	w io.Writer
	l *slog.Logger

	userProvider UserProvider
	maxLineBytes int

	started atomic.Bool
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(srv *toolrpc.Server, opts ...Option) *Handler {
	h := &Handler{
		srv:          srv,
		r:            os.Stdin,
		w:            os.Stdout,
		l:            slog.Default(),
		userProvider: OSUserProvider{},
		maxLineBytes: DefaultMaxLineBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.l = slog.New(logctx.Handler{Handler: h.l.Handler()})
	return h
}

// Serve runs the event loop until EOF on the reader or the context is
// canceled. It is safe to call at most once per Handler.
func (h *Handler) Serve(ctx context.Context) error {
	if !h.started.CompareAndSwap(false, true) {
		return ErrAlreadyServing
	}

	ctx = logctx.WithConnData(ctx, &logctx.ConnData{ConnID: uuid.NewString(), Transport: "stdio"})

	user, err := h.userProvider.CurrentUserID()
	if err != nil {
		h.l.WarnContext(ctx, "stdio.user.unknown", slog.String("err", err.Error()))
	}
	h.l.InfoContext(ctx, "stdio.serve.start", slog.String("user", user))

	sc := bufio.NewScanner(h.r)
	sc.Buffer(make([]byte, 0, min(64<<10, h.maxLineBytes)), h.maxLineBytes)

	if err := h.srv.Serve(ctx, &lineStream{sc: sc, w: h.w}); err != nil {
		h.l.ErrorContext(ctx, "stdio.serve.fail", slog.String("err", err.Error()))
		return err
	}
	h.l.InfoContext(ctx, "stdio.serve.done")
	return nil
}

// lineStream frames one JSON-RPC message per line.
type lineStream struct {
	sc *bufio.Scanner
	w  io.Writer
}

func (s *lineStream) ReadMessage() ([]byte, error) {
	for s.sc.Scan() {
		line := s.sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		return append([]byte(nil), line...), nil
	}
	if err := s.sc.Err(); err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return nil, io.EOF
}

func (s *lineStream) WriteMessage(b []byte) error {
	_, err := s.w.Write(append(b, '\n'))
	return err
}
