package weather

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
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
	return NewCache(client), mr
}

func TestCurrent_Missing(t *testing.T) {
	cache, _ := newTestCache(t)

	_, ok, err := cache.Current(context.Background(), "oslo")
	if err != nil {
		t.Fatalf("Current() error: %v", err)
	}
	if ok {
		t.Error("expected miss for uncached city")
	}
}

func TestPutAndGet(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	payload := `{"temp_c":12.5,"wind_kph":18}`
	if err := cache.Put(ctx, CurrentPrefix, "Oslo", payload, time.Hour); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, ok, err := cache.Current(ctx, "oslo")
	if err != nil {
		t.Fatalf("Current() error: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got != payload {
		t.Errorf("expected payload %q, got %q", payload, got)
	}
}

func TestCityNormalization(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	if err := cache.Put(ctx, ForecastPrefix, "  BERGEN ", `{"days":[]}`, time.Hour); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	_, ok, err := cache.Forecast(ctx, "bergen")
	if err != nil {
		t.Fatalf("Forecast() error: %v", err)
	}
	if !ok {
		t.Error("expected normalized city names to share a key")
	}
}

func TestExpiry(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	if err := cache.Put(ctx, CurrentPrefix, "oslo", `{}`, time.Minute); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	_, ok, err := cache.Current(ctx, "oslo")
	if err != nil {
		t.Fatalf("Current() error: %v", err)
	}
	if ok {
		t.Error("expected payload to expire")
	}
}
