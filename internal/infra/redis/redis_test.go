package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestNewRedis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	client, err := NewRedis(context.Background(), "redis://"+mr.Addr(), 4)
	if err != nil {
		t.Fatalf("NewRedis() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	if got := client.Options().PoolSize; got != 4 {
		t.Fatalf("PoolSize = %d, want 4", got)
	}
}

func TestNewRedisErrors(t *testing.T) {
	t.Parallel()

	if _, err := NewRedis(context.Background(), "not-a-url", 0); err == nil {
		t.Fatal("expected error for malformed url")
	}

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := NewRedis(context.Background(), "redis://"+addr, 0); err == nil {
		t.Fatal("expected error when redis is unreachable")
	}
}
