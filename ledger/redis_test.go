package ledger

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
)

// Runs only when a redis instance is provided, e.g. X402_REDIS_ADDR=localhost:6379
func TestRedisLedgerConformance(t *testing.T) {
	addr := os.Getenv("X402_REDIS_ADDR")
	if addr == "" {
		t.Skip("X402_REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	runConformance(t, func(t *testing.T) Ledger {
		l := NewRedisLedger(client, "x402:ledger:test")
		if err := l.Clear(context.Background()); err != nil {
			t.Fatalf("clear: %v", err)
		}
		return l
	})
}
