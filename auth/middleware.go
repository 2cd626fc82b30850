package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

const (
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"
)

type middlewareConfig struct {
	realm string
	log   *slog.Logger
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareConfig)

// WithRealm sets the realm advertised in Bearer challenges.
func WithRealm(realm string) MiddlewareOption {
	return func(c *middlewareConfig) { c.realm = realm }
}

// WithLogger sets the logger for rejected requests.
func WithLogger(l *slog.Logger) MiddlewareOption {
	return func(c *middlewareConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// Middleware rejects requests whose bearer token authn does not accept. A
// nil authn disables the check.
func Middleware(authn Authenticator, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := &middlewareConfig{log: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		if authn == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			header := r.Header.Get(authorizationHeader)
			tok, err := ParseBearer(header)
			if err != nil {
				// RFC 6750 §3.1: no error code when credentials are simply absent.
				var params map[string]string
				if header != "" {
					params = map[string]string{"error": "invalid_request", "error_description": "malformed bearer authorization header"}
				}
				cfg.log.InfoContext(ctx, "auth.check.missing", slog.Bool("header_present", header != ""))
				w.Header().Set(wwwAuthenticateHeader, buildBearerChallenge(cfg.realm, params))
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if err := authn.CheckToken(ctx, tok); err != nil {
				if errors.Is(err, ErrForbidden) {
					cfg.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
					w.Header().Set(wwwAuthenticateHeader, buildBearerChallenge(cfg.realm, map[string]string{"error": "invalid_token", "error_description": "token not accepted"}))
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}
				cfg.log.ErrorContext(ctx, "auth.check.error", slog.String("err", err.Error()))
				http.Error(w, "authentication unavailable", http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// buildBearerChallenge renders a Bearer WWW-Authenticate value with realm
// first, then error and error_description.
func buildBearerChallenge(realm string, params map[string]string) string {
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace
	pieces := make([]string, 0, 3)
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}
	for _, k := range []string{"error", "error_description"} {
		if v, ok := params[k]; ok {
			pieces = append(pieces, fmt.Sprintf(`%s="%s"`, k, esc(v)))
		}
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}
