// Package storagetest holds a behavioural suite that every storage.Storage
// backend is expected to pass.
package storagetest

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/ggoodman/twentyq/storage"
)

// Factory returns an empty Storage for one subtest. Cleanup is the factory's
// responsibility.
type Factory func(t *testing.T) storage.Storage

// Run executes the suite against storages produced by newStorage.
func Run(t *testing.T, newStorage Factory) {
	t.Helper()

	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, newStorage(t)) })
	t.Run("GetNonExistent", func(t *testing.T) { testGetNonExistent(t, newStorage(t)) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, newStorage(t)) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, newStorage(t)) })
	t.Run("InvalidTTL", func(t *testing.T) { testInvalidTTL(t, newStorage(t)) })
	t.Run("Namespaces", func(t *testing.T) { testNamespaces(t, newStorage(t)) })
	t.Run("Keys", func(t *testing.T) { testKeys(t, newStorage(t)) })
	t.Run("DeleteKey", func(t *testing.T) { testDeleteKey(t, newStorage(t)) })
	t.Run("DeleteNamespace", func(t *testing.T) { testDeleteNamespace(t, newStorage(t)) })
}

func testSetAndGet(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	data := []byte("test data")

	if err := s.Set(ctx, "test-key", data); err != nil {
		t.Fatalf("Failed to set data: %v", err)
	}

	item, err := s.Get(ctx, "test-key")
	if err != nil {
		t.Fatalf("Failed to get data: %v", err)
	}
	if item == nil {
		t.Fatal("Expected item to exist, got nil")
	}
	if string(item.Data) != string(data) {
		t.Errorf("Expected data %s, got %s", data, item.Data)
	}
	if item.CreatedAt.IsZero() {
		t.Error("CreatedAt should not be zero")
	}
	if item.ExpiresAt != nil {
		t.Error("ExpiresAt should be nil for data without TTL")
	}
}

func testGetNonExistent(t *testing.T, s storage.Storage) {
	item, err := s.Get(context.Background(), "non-existent-key")
	if err != nil {
		t.Fatalf("Failed to get non-existent key: %v", err)
	}
	if item != nil {
		t.Error("Expected nil for non-existent key, got item")
	}
}

func testOverwrite(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	_ = s.Set(ctx, "k", []byte("first"))
	if err := s.Set(ctx, "k", []byte("second")); err != nil {
		t.Fatalf("Failed to overwrite: %v", err)
	}
	item, err := s.Get(ctx, "k")
	if err != nil || item == nil || string(item.Data) != "second" {
		t.Fatalf("Get() = %v, %v; want second", item, err)
	}
}

func testTTL(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	ttl := 100 * time.Millisecond

	if err := s.Set(ctx, "ttl-key", []byte("ttl data"), storage.WithTTL(ttl)); err != nil {
		t.Fatalf("Failed to set data with TTL: %v", err)
	}

	item, err := s.Get(ctx, "ttl-key")
	if err != nil {
		t.Fatalf("Failed to get data: %v", err)
	}
	if item == nil {
		t.Fatal("Expected item to exist, got nil")
	}
	if item.ExpiresAt == nil {
		t.Fatal("ExpiresAt should not be nil for data with TTL")
	}

	time.Sleep(ttl + 50*time.Millisecond)

	item, err = s.Get(ctx, "ttl-key")
	if err != nil {
		t.Fatalf("Failed to get expired data: %v", err)
	}
	if item != nil {
		t.Error("Expected nil for expired data, got item")
	}
}

func testInvalidTTL(t *testing.T, s storage.Storage) {
	err := s.Set(context.Background(), "k", []byte("v"), storage.WithTTL(-time.Second))
	if !errors.Is(err, storage.ErrInvalidOptions) {
		t.Fatalf("Set() err = %v, want ErrInvalidOptions", err)
	}
}

func testNamespaces(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	key := "namespace-key"

	writes := []struct {
		data string
		opts []storage.Option
	}{
		{"global data", nil},
		{"collection data", []storage.Option{storage.WithCollection("missed")}},
		{"session data", []storage.Option{storage.WithSession("missed", "session1")}},
	}
	for _, w := range writes {
		if err := s.Set(ctx, key, []byte(w.data), w.opts...); err != nil {
			t.Fatalf("Failed to set %q: %v", w.data, err)
		}
	}
	for _, w := range writes {
		item, err := s.Get(ctx, key, w.opts...)
		if err != nil {
			t.Fatalf("Failed to get %q: %v", w.data, err)
		}
		if item == nil || string(item.Data) != w.data {
			t.Errorf("Expected %q, got %v", w.data, item)
		}
	}

	item, err := s.Get(ctx, key, storage.WithSession("missed", "session2"))
	if err != nil {
		t.Fatalf("Failed to get data for different session: %v", err)
	}
	if item != nil {
		t.Error("Expected nil for different session namespace, got item")
	}
}

func testKeys(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	ns := storage.WithCollection("missed")

	for _, k := range []string{"b", "a", "c"} {
		if err := s.Set(ctx, k, []byte(k), ns); err != nil {
			t.Fatalf("Failed to set %s: %v", k, err)
		}
	}
	_ = s.Set(ctx, "x", []byte("x"), storage.WithCollection("other"))
	_ = s.Set(ctx, "y", []byte("y"), storage.WithSession("missed", "s1"))

	keys, err := s.Keys(ctx, ns)
	if err != nil {
		t.Fatalf("Keys() failed: %v", err)
	}
	slices.Sort(keys)
	if !slices.Equal(keys, []string{"a", "b", "c"}) {
		t.Fatalf("Keys() = %v, want [a b c]", keys)
	}

	empty, err := s.Keys(ctx, storage.WithCollection("nothing-here"))
	if err != nil {
		t.Fatalf("Keys() on empty namespace failed: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("Keys() on empty namespace = %v", empty)
	}
}

func testDeleteKey(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	if err := s.Set(ctx, "delete-key", []byte("delete data")); err != nil {
		t.Fatalf("Failed to set data: %v", err)
	}
	if err := s.Delete(ctx, storage.WithKey("delete-key")); err != nil {
		t.Fatalf("Failed to delete key: %v", err)
	}

	item, err := s.Get(ctx, "delete-key")
	if err != nil {
		t.Fatalf("Failed to get data after deletion: %v", err)
	}
	if item != nil {
		t.Error("Expected nil after deletion, got item")
	}
}

func testDeleteNamespace(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	ns := storage.WithSession("missed", "delete-session")

	keys := []string{"key1", "key2", "key3"}
	for _, key := range keys {
		if err := s.Set(ctx, key, []byte("data for "+key), ns); err != nil {
			t.Fatalf("Failed to set data for key %s: %v", key, err)
		}
	}
	_ = s.Set(ctx, "survivor", []byte("x"), storage.WithCollection("missed"))

	if err := s.Delete(ctx, ns); err != nil {
		t.Fatalf("Failed to delete session namespace: %v", err)
	}

	for _, key := range keys {
		item, err := s.Get(ctx, key, ns)
		if err != nil {
			t.Fatalf("Failed to get data for key %s after deletion: %v", key, err)
		}
		if item != nil {
			t.Errorf("Expected nil after namespace deletion for key %s, got item", key)
		}
	}
	if item, _ := s.Get(ctx, "survivor", storage.WithCollection("missed")); item == nil {
		t.Error("Deleting a session namespace removed data outside it")
	}
}
