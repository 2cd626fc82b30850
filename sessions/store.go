package sessions

import (
	"context"
	"errors"

	"github.com/ggoodman/twentyq/game"
)

// ErrNotFound is returned by Update for an unknown session id.
var ErrNotFound = errors.New("session not found")

// UpdateFunc mutates a session under exclusive access. Returning an error
// does not roll back mutations already applied to s.
type UpdateFunc func(ctx context.Context, s *game.Session) error

// Store maps session ids to sessions. Implementations MUST be safe for
// concurrent use.
type Store interface {
	// Create allocates a new session and returns a snapshot of it.
	Create(ctx context.Context) (*game.Session, error)

	// Get returns a snapshot of the session. ok is false when the id is
	// unknown; that is not an error at this layer.
	Get(ctx context.Context, id string) (s *game.Session, ok bool)

	// Update runs fn with exclusive access to the session and returns a
	// snapshot taken after fn, together with fn's error. Waiting for access
	// honors ctx; once fn starts it runs to completion.
	Update(ctx context.Context, id string, fn UpdateFunc) (*game.Session, error)
}
