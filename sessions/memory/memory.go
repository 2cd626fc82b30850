// Package memory provides an in-process sessions.Store.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/twentyq/game"
	"github.com/ggoodman/twentyq/sessions"
	"github.com/google/uuid"
)

var _ sessions.Store = (*Store)(nil)

// Store is an arena of sessions keyed by id. Each entry has its own
// single-slot semaphore so writers to one id are serialized while writers to
// different ids proceed in parallel.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	newID func() string
	now   func() time.Time
}

type entry struct {
	// sem is a one-slot semaphore guarding sess.
	sem  chan struct{}
	sess *game.Session

	// snap is the snapshot published after the last Update; Get reads it
	// without taking sem.
	snap atomic.Pointer[game.Session]
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides uuid.NewString. Generated ids that collide with an
// existing session are discarded and regenerated.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithClock overrides time.Now for session start timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		newID:   uuid.NewString,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create implements sessions.Store.
func (s *Store) Create(ctx context.Context) (*game.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Sessions are never removed, so checking the map is enough to guarantee
	// an id is never handed out twice.
	id := s.newID()
	for id == "" || s.entries[id] != nil {
		id = s.newID()
	}

	e := &entry{sem: make(chan struct{}, 1), sess: game.NewSession(id, s.now())}
	snap := e.sess.Clone()
	e.snap.Store(snap)
	s.entries[id] = e

	return snap.Clone(), nil
}

// Get implements sessions.Store.
func (s *Store) Get(ctx context.Context, id string) (*game.Session, bool) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, false
	}
	return e.snap.Load().Clone(), true
}

// Update implements sessions.Store.
func (s *Store) Update(ctx context.Context, id string, fn sessions.UpdateFunc) (*game.Session, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, sessions.ErrNotFound
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-e.sem }()

	err := fn(ctx, e.sess)

	snap := e.sess.Clone()
	e.snap.Store(snap)

	return snap.Clone(), err
}

// Len returns the number of sessions held, concluded ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	return e, ok
}
