// Package auth gates persistent connections behind a single static bearer
// token.
//
// An Authenticator checks a token string; Middleware extracts the token from
// the Authorization header and rejects the request before it reaches the
// wrapped handler, so a WebSocket upgrade never happens for an unauthenticated
// client:
//
//	authn := auth.StaticToken(os.Getenv("TWENTYQ_AUTH_TOKEN"))
//	mux.Handle("/ws", auth.Middleware(authn)(streamHandler))
//
// A missing or malformed header yields 401 with a bare Bearer challenge; a
// token that does not match yields 403.
//
// FileToken reads the token from a file and reloads it when the file
// changes, which lets operators rotate the secret without a restart.
package auth
