package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ggoodman/twentyq/auth"
	"github.com/ggoodman/twentyq/game"
	"github.com/ggoodman/twentyq/gateway"
	"github.com/ggoodman/twentyq/httpapi"
	"github.com/ggoodman/twentyq/internal/config"
	"github.com/ggoodman/twentyq/internal/logctx"
	"github.com/ggoodman/twentyq/mcp"
	"github.com/ggoodman/twentyq/missed"
	"github.com/ggoodman/twentyq/oracle"
	"github.com/ggoodman/twentyq/sessions/memory"
	"github.com/ggoodman/twentyq/storage"
	memstorage "github.com/ggoodman/twentyq/storage/memory"
	redisstorage "github.com/ggoodman/twentyq/storage/redis"
	sqlitestorage "github.com/ggoodman/twentyq/storage/sqlite"
	"github.com/ggoodman/twentyq/stream"
	"github.com/ggoodman/twentyq/toolrpc"
	"github.com/google/uuid"
)

// version is reported in the tool protocol handshake.
var version = "dev"

// app holds the components shared by every transport.
type app struct {
	cfg   config.Config
	log   *slog.Logger
	store storage.Storage
	gw    *gateway.Gateway
	tools *toolrpc.Server
}

func newApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	port := oracle.Demo()
	if cfg.OracleURL != "" {
		port = oracle.NewHTTP(cfg.OracleURL, oracle.WithTimeout(cfg.OracleTimeout), oracle.WithLogger(log))
	}

	gw := gateway.New(memory.New(), port,
		gateway.WithMachine(game.NewMachine(game.WithQuestionBudget(cfg.QuestionBudget))),
		gateway.WithMissedStore(missed.NewRecorder(store, missed.WithLogger(log), missed.WithRetention(cfg.MissedTTL))),
		gateway.WithLogger(log),
	)

	tools := toolrpc.New(gw,
		toolrpc.WithLogger(log),
		toolrpc.WithServerInfo(mcp.ImplementationInfo{Name: "twentyq", Version: version}),
		toolrpc.WithInstructions("Play twenty questions: call start_game, then answer_question until a guess arrives, then end_game."),
	)

	log.InfoContext(ctx, "app.init.ok",
		slog.String("storage", cfg.Storage),
		slog.Bool("oracle_http", cfg.OracleURL != ""),
		slog.Int("question_budget", cfg.QuestionBudget),
	)
	return &app{cfg: cfg, log: log, store: store, gw: gw, tools: tools}, nil
}

func openStorage(ctx context.Context, cfg config.Config) (storage.Storage, error) {
	switch cfg.Storage {
	case config.StorageMemory:
		return memstorage.New(cfg.MemoryMaxItems)
	case config.StorageRedis:
		return redisstorage.Dial(ctx, cfg.RedisAddr, cfg.RedisDB)
	case config.StorageSQLite:
		return sqlitestorage.OpenWithCleanup(ctx, cfg.SQLitePath, sqlitestorage.DefaultCleanupInterval)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}

// authenticator returns nil when no token is configured, which disables the
// socket gate.
func (a *app) authenticator(ctx context.Context) (auth.Authenticator, error) {
	switch {
	case a.cfg.AuthTokenFile != "":
		return auth.NewFileToken(ctx, a.cfg.AuthTokenFile, auth.WithFileLogger(a.log))
	case a.cfg.AuthToken != "":
		return auth.StaticToken(a.cfg.AuthToken), nil
	default:
		return nil, nil
	}
}

// routes mounts every HTTP surface. The socket endpoints sit behind the
// bearer gate so rejected clients never reach the upgrade.
func (a *app) routes(authn auth.Authenticator) http.Handler {
	gate := auth.Middleware(authn, auth.WithRealm("twentyq"), auth.WithLogger(a.log))

	mux := http.NewServeMux()
	mux.Handle("/api/", httpapi.New(a.gw, httpapi.WithLogger(a.log)))
	mux.Handle("/ws", withRequestData(gate(stream.New(a.gw, stream.WithLogger(a.log)))))
	mux.Handle("/mcp", withRequestData(gate(a.tools.WebSocketHandler())))
	return mux
}

func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close storage: %w", err)
	}
	return nil
}

func withRequestData(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
			RequestID:  uuid.NewString(),
			Method:     r.Method,
			UserAgent:  r.UserAgent(),
			RemoteAddr: r.RemoteAddr,
			Path:       r.URL.Path,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
