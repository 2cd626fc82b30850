// Package memory provides an in-memory implementation of the storage interface
// backed by github.com/hashicorp/golang-lru/v2. The least recently used item
// is evicted once the configured capacity is reached.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/twentyq/storage"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCleanupInterval is how often expired items are swept.
const DefaultCleanupInterval = 5 * time.Minute

// Storage implements the storage.Storage interface using in-memory storage
type Storage struct {
	mu    sync.RWMutex
	cache *lru.Cache[string, *storage.StorageItem]

	stop      chan struct{}
	closeOnce sync.Once
}

// New creates a new in-memory storage holding at most maxItems entries.
func New(maxItems int) (*Storage, error) {
	return NewWithCleanup(maxItems, DefaultCleanupInterval)
}

// NewWithCleanup is New with an explicit expiry sweep interval.
func NewWithCleanup(maxItems int, every time.Duration) (*Storage, error) {
	cache, err := lru.New[string, *storage.StorageItem](maxItems)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	if every <= 0 {
		every = DefaultCleanupInterval
	}

	s := &Storage{
		cache: cache,
		stop:  make(chan struct{}),
	}
	go s.sweep(every)

	return s, nil
}

// Get retrieves data for a specific key within the given namespace
func (s *Storage) Get(ctx context.Context, key string, opts ...storage.Option) (*storage.StorageItem, error) {
	options := storage.Apply(opts...)
	k := storage.Prefix(options.Namespace) + key

	s.mu.RLock()
	item, exists := s.cache.Get(k)
	s.mu.RUnlock()

	if !exists {
		return nil, nil
	}
	if item.IsExpired() {
		s.mu.Lock()
		s.cache.Remove(k)
		s.mu.Unlock()
		return nil, nil
	}

	out := *item
	out.Data = append([]byte(nil), item.Data...)
	return &out, nil
}

// Set stores data for a specific key within the given namespace
func (s *Storage) Set(ctx context.Context, key string, data []byte, opts ...storage.Option) error {
	options := storage.Apply(opts...)
	if options.TTL != nil && *options.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", storage.ErrInvalidOptions)
	}

	now := time.Now()
	item := &storage.StorageItem{
		Data:      append([]byte(nil), data...),
		CreatedAt: now,
	}
	if options.TTL != nil {
		expiresAt := now.Add(*options.TTL)
		item.ExpiresAt = &expiresAt
	}

	s.mu.Lock()
	s.cache.Add(storage.Prefix(options.Namespace)+key, item)
	s.mu.Unlock()

	return nil
}

// Keys lists unexpired keys in the given namespace.
func (s *Storage) Keys(ctx context.Context, opts ...storage.Option) ([]string, error) {
	prefix := storage.Prefix(storage.Apply(opts...).Namespace)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for _, k := range s.cache.Keys() {
		rest, ok := strings.CutPrefix(k, prefix)
		if !ok {
			continue
		}
		if item, ok := s.cache.Peek(k); ok && !item.IsExpired() {
			keys = append(keys, rest)
		}
	}
	return keys, nil
}

// Delete removes data within the given namespace
func (s *Storage) Delete(ctx context.Context, opts ...storage.Option) error {
	options := storage.Apply(opts...)
	prefix := storage.Prefix(options.Namespace)

	s.mu.Lock()
	defer s.mu.Unlock()

	if options.Key != nil {
		s.cache.Remove(prefix + *options.Key)
		return nil
	}

	// LRU has no prefix iteration; walk every key.
	for _, k := range s.cache.Keys() {
		if strings.HasPrefix(k, prefix) {
			s.cache.Remove(k)
		}
	}
	return nil
}

// Len reports the number of items currently held, expired ones included.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Len()
}

// Close stops the expiry sweep and drops every item.
func (s *Storage) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.mu.Lock()
		s.cache.Purge()
		s.mu.Unlock()
	})
	return nil
}

func (s *Storage) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		now := time.Now()
		for _, k := range s.cache.Keys() {
			if item, ok := s.cache.Peek(k); ok && item.ExpiresAt != nil && now.After(*item.ExpiresAt) {
				s.cache.Remove(k)
			}
		}
		s.mu.Unlock()
	}
}

var _ storage.Storage = (*Storage)(nil)
