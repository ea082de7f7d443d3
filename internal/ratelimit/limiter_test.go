package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewLimiter(client), mr
}

func TestAllow_WithinLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "1.2.3.4", rule)
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		if !ok {
			t.Fatalf("attempt %d unexpectedly limited", i+1)
		}
	}

	ok, err := limiter.Allow(ctx, "1.2.3.4", rule)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if ok {
		t.Error("expected 4th attempt to be limited")
	}
}

func TestAllow_WindowResets(t *testing.T) {
	limiter, mr := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 1, Window: 10 * time.Second}

	if ok, _ := limiter.Allow(ctx, "1.2.3.4", rule); !ok {
		t.Fatal("first attempt limited")
	}
	if ok, _ := limiter.Allow(ctx, "1.2.3.4", rule); ok {
		t.Fatal("second attempt in window not limited")
	}

	mr.FastForward(11 * time.Second)

	if ok, _ := limiter.Allow(ctx, "1.2.3.4", rule); !ok {
		t.Error("expected fresh window to allow the attempt")
	}
}

func TestAllow_IdentifiersIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 1, Window: time.Minute}

	if ok, _ := limiter.Allow(ctx, "1.2.3.4", rule); !ok {
		t.Fatal("first identifier limited")
	}
	if ok, _ := limiter.Allow(ctx, "5.6.7.8", rule); !ok {
		t.Error("second identifier throttled by first identifier's counter")
	}
}

func TestRemaining(t *testing.T) {
	limiter, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 5, Window: time.Minute}

	n, err := limiter.Remaining(ctx, "1.2.3.4", rule)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if n != 5 {
		t.Errorf("expected full limit before any attempt, got %d", n)
	}

	limiter.Allow(ctx, "1.2.3.4", rule)
	limiter.Allow(ctx, "1.2.3.4", rule)

	n, err = limiter.Remaining(ctx, "1.2.3.4", rule)
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 remaining after 2 attempts, got %d", n)
	}
}
