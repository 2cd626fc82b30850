package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
)

// ErrUnauthorized indicates no usable credentials were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// ErrForbidden indicates credentials were supplied but are not accepted.
var ErrForbidden = errors.New("forbidden")

// Authenticator validates a bearer token. It returns nil when the token is
// accepted, ErrForbidden when it is not, and any other error when validation
// itself failed.
type Authenticator interface {
	CheckToken(ctx context.Context, tok string) error
}

// StaticToken accepts exactly one token.
type StaticToken string

// CheckToken implements Authenticator in constant time.
func (s StaticToken) CheckToken(ctx context.Context, tok string) error {
	return compare(string(s), tok)
}

func compare(want, got string) error {
	if want == "" {
		return errors.New("auth: no token configured")
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return ErrForbidden
	}
	return nil
}

// ParseBearer extracts the token from an Authorization header value. It
// returns ErrUnauthorized when the header is absent, uses another scheme or
// carries an empty token.
func ParseBearer(header string) (string, error) {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrUnauthorized
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", ErrUnauthorized
	}
	return tok, nil
}
