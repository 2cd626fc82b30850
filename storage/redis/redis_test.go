package redis

import (
	"context"
	"testing"

	"github.com/ggoodman/twentyq/storage"
	"github.com/ggoodman/twentyq/storage/storagetest"
	"github.com/redis/go-redis/v9"
)

func TestRedisStorage(t *testing.T) {
	// Skip test if Redis is not available
	client := redis.NewClient(&redis.Options{
		Addr: "127.0.0.1:6379",
		DB:   2, // Use separate DB for storage tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer client.FlushDB(ctx)

	s, err := New(Config{Client: client, KeyPrefix: "twentyq:test:"})
	if err != nil {
		t.Fatalf("Failed to create Redis storage: %v", err)
	}
	defer s.Close()

	storagetest.Run(t, func(t *testing.T) storage.Storage {
		if err := client.FlushDB(ctx).Err(); err != nil {
			t.Fatalf("FlushDB failed: %v", err)
		}
		return s
	})
}

func TestNewRequiresClient(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New() without a client should fail")
	}
}

func TestBuildKey(t *testing.T) {
	s, err := New(Config{Client: redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer s.Close()

	cases := []struct {
		ns   storage.Namespace
		want string
	}{
		{nil, "twentyq:storage:global:k"},
		{storage.CollectionNamespace{Name: "missed"}, "twentyq:storage:collection:missed:k"},
		{storage.SessionNamespace{Collection: "missed", SessionID: "s1"}, "twentyq:storage:session:missed:s1:k"},
	}
	for _, tc := range cases {
		if got := s.buildKey(tc.ns, "k"); got != tc.want {
			t.Errorf("buildKey(%#v) = %q, want %q", tc.ns, got, tc.want)
		}
	}
}
