// Package weather serves pre-aggregated weather payloads cached in Redis.
// An external ingest pipeline writes the payloads; this package only reads
// them back for the protected API surface. Keys:
//
//	wx:current:<city>   — latest conditions JSON
//	wx:forecast:<city>  — forecast JSON
package weather

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// CurrentPrefix is the Redis key prefix for current-conditions payloads.
	CurrentPrefix = "wx:current:"

	// ForecastPrefix is the Redis key prefix for forecast payloads.
	ForecastPrefix = "wx:forecast:"
)

// Cache reads cached weather payloads from Redis.
type Cache struct {
	client *redis.Client
}

// NewCache creates a weather cache reader on top of an existing Redis client.
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// normalizeCity lowercases and trims the city name so "Oslo" and "oslo "
// hit the same key.
func normalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

// Current returns the cached current-conditions payload for a city.
// ok is false when no payload is cached.
func (c *Cache) Current(ctx context.Context, city string) (payload string, ok bool, err error) {
	return c.get(ctx, CurrentPrefix+normalizeCity(city))
}

// Forecast returns the cached forecast payload for a city.
// ok is false when no payload is cached.
func (c *Cache) Forecast(ctx context.Context, city string) (payload string, ok bool, err error) {
	return c.get(ctx, ForecastPrefix+normalizeCity(city))
}

func (c *Cache) get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("weather: get %s: %w", key, err)
	}
	return val, true, nil
}

// Put writes a payload under the given prefix with a TTL. Used by the
// ingest side and by tests.
func (c *Cache) Put(ctx context.Context, prefix, city, payload string, ttl time.Duration) error {
	key := prefix + normalizeCity(city)
	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("weather: put %s: %w", key, err)
	}
	return nil
}
