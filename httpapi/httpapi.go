// Package httpapi exposes games over a synchronous JSON/HTTP API. Each
// request maps onto exactly one gateway call.
package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/twentyq/game"
	"github.com/ggoodman/twentyq/gateway"
	"github.com/ggoodman/twentyq/internal/logctx"
	"github.com/google/uuid"
)

// maxBodyBytes caps request bodies; every payload here is tiny.
const maxBodyBytes = 16 << 10

var (
	jsonMediaType  = contenttype.NewMediaType("application/json")
	jsonMediaTypes = []contenttype.MediaType{jsonMediaType}
)

// Error codes carried in the error envelope.
const (
	CodeNotFound          = "not_found"
	CodeNoPendingQuestion = "no_pending_question"
	CodeInvalidArgument   = "invalid_argument"
	CodeInvalidJSON       = "invalid_json"
	CodeUnsupportedMedia  = "unsupported_media_type"
	CodeNotAcceptable     = "not_acceptable"
	CodeUnknownRoute      = "unknown_route"
	CodeMethodNotAllowed  = "method_not_allowed"
	CodeCanceled          = "canceled"
	CodeInternal          = "internal"
)

// Handler serves the game API.
type Handler struct {
	mux *http.ServeMux
	gw  *gateway.Gateway
	log *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. It is wrapped so request data in the context
// is attached to every record.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// New builds the API handler. Routes are mounted under /api.
func New(gw *gateway.Gateway, opts ...Option) *Handler {
	h := &Handler{gw: gw, log: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	h.log = slog.New(logctx.Handler{Handler: h.log.Handler()})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/games", h.handleStart)
	mux.HandleFunc("GET /api/games/{id}", h.handleGet)
	mux.HandleFunc("POST /api/games/{id}/answers", h.handleAnswer)
	mux.HandleFunc("GET /api/games/{id}/guess", h.handleGuess)
	mux.HandleFunc("POST /api/games/{id}/end", h.handleEnd)
	h.mux = mux
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	r = r.WithContext(ctx)

	if _, _, err := contenttype.GetAcceptableMediaType(r, jsonMediaTypes); err != nil {
		writeError(w, http.StatusNotAcceptable, CodeNotAcceptable, "responses are application/json", nil)
		h.log.InfoContext(ctx, "httpapi.request.not_acceptable")
		return
	}

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	if _, pattern := h.mux.Handler(r); pattern == "" {
		h.writeRouteError(rec, r)
	} else {
		h.mux.ServeHTTP(rec, r)
	}

	h.log.InfoContext(ctx, "httpapi.request.done",
		slog.Int("status", rec.status),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
	)
}

type answerRequest struct {
	Answer string `json:"answer"`
}

type endRequest struct {
	Outcome string `json:"outcome"`
	Answer  string `json:"answer"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	res, err := h.gw.Start(r.Context())
	if err != nil {
		h.writeGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.gw.Turn(res))
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var body answerRequest
	if !h.decode(w, r, &body, true) {
		return
	}
	res, err := h.gw.Answer(r.Context(), r.PathValue("id"), body.Answer)
	if err != nil {
		h.writeGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.gw.Turn(res))
}

func (h *Handler) handleGuess(w http.ResponseWriter, r *http.Request) {
	sess, err := h.gw.Guess(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gateway.GuessOf(sess))
}

func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	var body endRequest
	if !h.decode(w, r, &body, false) {
		return
	}
	sess, err := h.gw.End(r.Context(), r.PathValue("id"), body.Outcome, body.Answer)
	if err != nil {
		h.writeGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gateway.EndOf(sess))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := h.gw.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeGatewayError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.gw.View(sess))
}

// decode strictly parses a JSON body into dst. An empty body is accepted
// when required is false. It writes the error response and returns false on
// failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, required bool) bool {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeInvalidJSON, fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit), nil)
			return false
		}
		writeError(w, http.StatusBadRequest, CodeInvalidJSON, "could not read body", nil)
		return false
	}
	if len(raw) == 0 && !required {
		return true
	}

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeError(w, http.StatusUnsupportedMediaType, CodeUnsupportedMedia, "content-type must be application/json", nil)
		h.log.InfoContext(r.Context(), "httpapi.content_type.unsupported")
		return false
	}
	if len(raw) == 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidJSON, "request body is required", nil)
		return false
	}

	if err := decodeStrict(raw, dst); err != nil {
		if ferr := gateway.FieldTypeError(err); ferr != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidArgument, "invalid input", gateway.Fields(ferr))
			h.log.InfoContext(r.Context(), "httpapi.body.invalid", slog.String("err", ferr.Error()))
			return false
		}
		writeError(w, http.StatusBadRequest, CodeInvalidJSON, err.Error(), nil)
		h.log.InfoContext(r.Context(), "httpapi.body.invalid", slog.String("err", err.Error()))
		return false
	}
	return true
}

// routeMethods are the methods any route of the API answers to.
var routeMethods = []string{http.MethodGet, http.MethodPost}

// writeRouteError replaces ServeMux's plain-text 404 and 405 replies with the
// JSON error envelope.
func (h *Handler) writeRouteError(w http.ResponseWriter, r *http.Request) {
	var allowed []string
	for _, m := range routeMethods {
		probe := r.Clone(r.Context())
		probe.Method = m
		if _, pattern := h.mux.Handler(probe); pattern != "" {
			allowed = append(allowed, m)
		}
	}
	if len(allowed) == 0 {
		writeError(w, http.StatusNotFound, CodeUnknownRoute, "no such route: "+r.URL.Path, nil)
		return
	}
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, r.Method+" is not allowed here", nil)
}

func (h *Handler) writeGatewayError(w http.ResponseWriter, r *http.Request, err error) {
	switch gateway.Classify(err) {
	case gateway.KindNotFound:
		writeError(w, http.StatusNotFound, CodeNotFound, "game not found", nil)
	case gateway.KindNoPendingQuestion:
		writeError(w, http.StatusBadRequest, CodeNoPendingQuestion, "no question is awaiting an answer", nil)
	case gateway.KindInvalid:
		writeError(w, http.StatusBadRequest, CodeInvalidArgument, "invalid input", gateway.Fields(err))
	case gateway.KindCanceled:
		// The client is gone; the status is for logs only.
		writeError(w, 499, CodeCanceled, "request canceled", nil)
	default:
		h.log.ErrorContext(r.Context(), "httpapi.request.fail", slog.String("err", err.Error()))
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error", nil)
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  []game.FieldError `json:"fields,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, fields []game.FieldError) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg, Fields: fields}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeStrict(raw []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON body: trailing data")
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
