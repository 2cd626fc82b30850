package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/twentyq/game"
)

// DefaultTimeout bounds a single HTTP Oracle call.
const DefaultTimeout = 20 * time.Second

// maxResponseBytes caps how much of a reply is read.
const maxResponseBytes = 64 << 10

// HTTP is a Port that POSTs the Request as JSON to an external decision
// service and expects a Decision back.
type HTTP struct {
	url     string
	client  *http.Client
	timeout time.Duration
	log     *slog.Logger
}

// HTTPOption configures an HTTP port.
type HTTPOption func(*HTTP)

// WithHTTPClient overrides http.DefaultClient.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) {
		if c != nil {
			h.client = c
		}
	}
}

// WithTimeout bounds each call. Non-positive values keep DefaultTimeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTP) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithLogger sets the logger used for call diagnostics.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(h *HTTP) {
		if l != nil {
			h.log = l
		}
	}
}

// NewHTTP returns a port that calls url.
func NewHTTP(url string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		url:     url,
		client:  http.DefaultClient,
		timeout: DefaultTimeout,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NextStep implements Port.
func (h *HTTP) NextStep(ctx context.Context, req Request) (game.Step, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %w", ErrUnavailable, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	res, err := h.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timed out after %s", ErrUnavailable, h.timeout)
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxResponseBytes))
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, res.StatusCode)
	}

	var d Decision
	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseBytes)).Decode(&d); err != nil {
		return nil, fmt.Errorf("%w: decode reply: %w", ErrUnavailable, err)
	}

	step, err := d.Step()
	if err != nil {
		return nil, err
	}

	h.log.DebugContext(ctx, "oracle.http.ok",
		slog.Int("history_len", len(req.History)),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
	)
	return step, nil
}
