// Package storage provides a small namespaced key/value interface used for
// data that outlives a single game, such as the record of concepts the
// Oracle failed to guess.
package storage

import (
	"context"
	"errors"
	"time"
)

// Storage defines the key/value contract shared by all backends.
type Storage interface {
	// Get retrieves data for a specific key within the given namespace.
	// Returns a nil StorageItem if the key doesn't exist or has expired.
	// Returns an error only for legitimate storage system failures.
	Get(ctx context.Context, key string, opts ...Option) (*StorageItem, error)

	// Set stores data for a specific key within the given namespace.
	Set(ctx context.Context, key string, data []byte, opts ...Option) error

	// Keys lists the unexpired keys held in the given namespace, in no
	// particular order.
	Keys(ctx context.Context, opts ...Option) ([]string, error)

	// Delete removes data within the given namespace.
	// If no key is specified via WithKey, removes the entire namespace.
	Delete(ctx context.Context, opts ...Option) error

	// Close closes the storage backend and releases resources.
	Close() error
}

// StorageItem represents a stored piece of data with metadata
type StorageItem struct {
	Data      []byte     // The stored data
	CreatedAt time.Time  // When the item was created
	ExpiresAt *time.Time // When the item expires (nil = no expiration)
}

// IsExpired checks if the item has expired
func (si *StorageItem) IsExpired() bool {
	return si.ExpiresAt != nil && time.Now().After(*si.ExpiresAt)
}

// Option configures storage operations
type Option func(*Options)

// Options contains configuration for storage operations
type Options struct {
	Namespace Namespace      // Optional: specifies the storage namespace (nil = global)
	Key       *string        // Optional: specific key (for Delete operations)
	TTL       *time.Duration // Optional: time-to-live for the data
}

// Apply folds opts into a fresh Options value.
func Apply(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Namespace scopes keys. A nil Namespace is the global namespace.
type Namespace interface {
	namespace() // private method to ensure only our types implement this
}

// CollectionNamespace groups records of one kind, for example "missed".
type CollectionNamespace struct {
	Name string
}

func (CollectionNamespace) namespace() {}

// SessionNamespace holds data belonging to a single game session.
type SessionNamespace struct {
	Collection string
	SessionID  string
}

func (SessionNamespace) namespace() {}

// WithCollection specifies a collection-level namespace.
func WithCollection(name string) Option {
	return func(opts *Options) {
		opts.Namespace = CollectionNamespace{Name: name}
	}
}

// WithSession specifies a namespace scoped to one session inside a
// collection.
func WithSession(collection, sessionID string) Option {
	return func(opts *Options) {
		opts.Namespace = SessionNamespace{Collection: collection, SessionID: sessionID}
	}
}

// WithKey specifies a specific key for Delete operations
// If not provided, Delete removes the entire namespace
func WithKey(key string) Option {
	return func(opts *Options) {
		opts.Key = &key
	}
}

// WithTTL sets a time-to-live for the stored data
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.TTL = &ttl
	}
}

// Prefix renders the namespace as a colon-delimited key prefix. Backends that
// keep a flat keyspace share it so data written by one is laid out the same
// way as another.
func Prefix(ns Namespace) string {
	switch ns := ns.(type) {
	case CollectionNamespace:
		return "collection:" + ns.Name + ":"
	case SessionNamespace:
		return "session:" + ns.Collection + ":" + ns.SessionID + ":"
	default:
		return "global:"
	}
}

// Error types
var (
	// ErrInvalidOptions is returned when incompatible options are provided
	ErrInvalidOptions = errors.New("storage: invalid option combination")
)
