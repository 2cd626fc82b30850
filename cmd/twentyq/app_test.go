package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/twentyq/gateway"
	"github.com/ggoodman/twentyq/internal/config"
	"github.com/ggoodman/twentyq/stream"
	"golang.org/x/net/websocket"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig() config.Config {
	return config.Config{
		Addr:           "127.0.0.1:0",
		QuestionBudget: 3,
		OracleTimeout:  time.Second,
		Storage:        config.StorageMemory,
		MemoryMaxItems: 16,
		LogLevel:       "info",
		LogFormat:      config.LogFormatText,
	}
}

func newTestServer(t *testing.T, cfg config.Config) *httptest.Server {
	t.Helper()
	a, err := newApp(t.Context(), cfg, discard())
	if err != nil {
		t.Fatalf("newApp() = %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })

	authn, err := a.authenticator(t.Context())
	if err != nil {
		t.Fatalf("authenticator() = %v", err)
	}
	srv := httptest.NewServer(a.routes(authn))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("TWENTYQ_ADDR", ":1111")
	t.Setenv("TWENTYQ_LOG_LEVEL", "warn")
	t.Setenv("TWENTYQ_LOG_FORMAT", "json")

	serve, _, err := newRootCmd().Find([]string{"serve"})
	if err != nil {
		t.Fatalf("find serve: %v", err)
	}
	if err := serve.ParseFlags([]string{"--addr", ":2222", "--log-level", "debug"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := loadConfig(serve)
	if err != nil {
		t.Fatalf("loadConfig() = %v", err)
	}
	if cfg.Addr != ":2222" || cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestInvalidFlagIsRejected(t *testing.T) {
	stdio, _, err := newRootCmd().Find([]string{"stdio"})
	if err != nil {
		t.Fatalf("find stdio: %v", err)
	}
	if err := stdio.ParseFlags([]string{"--log-format", "xml"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := loadConfig(stdio); err == nil {
		t.Fatal("loadConfig() should reject an unknown log format")
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig()
	cfg.LogFormat = config.LogFormatJSON
	cfg.LogLevel = "warn"

	log, err := newLogger(&buf, cfg)
	if err != nil {
		t.Fatalf("newLogger() = %v", err)
	}
	log.Info("hidden")
	log.Warn("shown", slog.String("k", "v"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("json log line: %v", err)
	}
	if rec["msg"] != "shown" || rec["k"] != "v" {
		t.Fatalf("record = %v", rec)
	}
}

func TestOpenStorageBackends(t *testing.T) {
	cfg := testConfig()
	st, err := openStorage(t.Context(), cfg)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	_ = st.Close()

	cfg.Storage = config.StorageSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "twentyq.db")
	st, err = openStorage(t.Context(), cfg)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	if err := st.Set(t.Context(), "k", []byte("v")); err != nil {
		t.Fatalf("sqlite set: %v", err)
	}
	_ = st.Close()

	cfg.Storage = "etcd"
	if _, err := openStorage(t.Context(), cfg); err == nil {
		t.Fatal("unknown backend should fail")
	}
}

func TestRoutesShareSessions(t *testing.T) {
	srv := newTestServer(t, testConfig())

	res, err := http.Post(srv.URL+"/api/games", "application/json", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d", res.StatusCode)
	}
	var turn gateway.TurnView
	if err := json.NewDecoder(res.Body).Decode(&turn); err != nil {
		t.Fatalf("decode turn: %v", err)
	}

	// The game started over HTTP continues over the streaming socket.
	conn, err := websocket.Dial(wsURL(srv, "/ws"), "", srv.URL)
	if err != nil {
		t.Fatalf("dial /ws: %v", err)
	}
	defer conn.Close()

	payload, _ := json.Marshal(stream.AnswerPayload{SessionID: turn.SessionID, Answer: "yes"})
	if err := websocket.JSON.Send(conn, stream.Frame{Type: stream.TypeAnswer, Payload: payload}); err != nil {
		t.Fatalf("send: %v", err)
	}
	var reply stream.Frame
	if err := websocket.JSON.Receive(conn, &reply); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if reply.Type != stream.TypeQuestion {
		t.Fatalf("reply type = %q, want question", reply.Type)
	}
}

func TestSocketsRequireToken(t *testing.T) {
	cfg := testConfig()
	cfg.AuthToken = "s3cret"
	srv := newTestServer(t, cfg)

	for _, path := range []string{"/ws", "/mcp"} {
		t.Run(path, func(t *testing.T) {
			if _, err := websocket.Dial(wsURL(srv, path), "", srv.URL); err == nil {
				t.Fatal("dial without token should fail")
			}

			req, _ := http.NewRequest(http.MethodGet, srv.URL+path, nil)
			req.Header.Set("Authorization", "Bearer wrong")
			res, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			res.Body.Close()
			if res.StatusCode != http.StatusForbidden {
				t.Fatalf("status = %d, want 403", res.StatusCode)
			}

			wsCfg, err := websocket.NewConfig(wsURL(srv, path), srv.URL)
			if err != nil {
				t.Fatalf("config: %v", err)
			}
			wsCfg.Header.Set("Authorization", "Bearer s3cret")
			conn, err := websocket.DialConfig(wsCfg)
			if err != nil {
				t.Fatalf("dial with token: %v", err)
			}
			conn.Close()
		})
	}

	// The HTTP API is not gated.
	res, err := http.Post(srv.URL+"/api/games", "application/json", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d", res.StatusCode)
	}
}

func TestServeHTTPStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- serveHTTP(ctx, ln, http.NotFoundHandler(), discard())
	}()

	res, err := http.Get("http://" + ln.Addr().String() + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	res.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serveHTTP() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serveHTTP did not return")
	}
}
