package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for all session hashes.
	KeyPrefix = "session:"

	// DefaultTTL is the time-to-live for session keys when no explicit
	// TTL is configured.
	DefaultTTL = 1 * time.Hour
)

// Session is one authenticated session record stored in Redis.
type Session struct {
	ID        string `redis:"id"`
	Username  string `redis:"username"`   // account this session belongs to
	Data      string `redis:"data"`       // opaque JSON state blob
	CreatedAt int64  `redis:"created_at"` // unix timestamp
}

// Store manages session records in Redis. Records expire automatically; a
// record that has expired is indistinguishable from one that never existed.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore creates a session store on top of an existing Redis client.
// A non-positive ttl falls back to DefaultTTL.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

// Connect dials Redis at addr, verifies the connection, and returns a store
// using the given TTL.
func Connect(addr string, ttl time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return NewStore(client, ttl), nil
}

// NewID mints a fresh opaque session identifier. Identifiers are never
// reused; every login gets a brand-new one.
func (s *Store) NewID() string {
	return uuid.NewString()
}

// Get retrieves a session record. Returns nil if the record does not exist
// or has expired.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	var sess Session
	if err := s.client.HGetAll(ctx, KeyPrefix+id).Scan(&sess); err != nil {
		return nil, fmt.Errorf("session: get %s: %w", id, err)
	}
	if sess.ID == "" {
		return nil, nil // not found
	}
	return &sess, nil
}

// Upsert writes a session record and resets its TTL.
func (s *Store) Upsert(ctx context.Context, id, username, data string) error {
	key := KeyPrefix + id

	record := map[string]interface{}{
		"id":         id,
		"username":   username,
		"data":       data,
		"created_at": time.Now().Unix(),
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, record)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: upsert %s: %w", id, err)
	}
	return nil
}

// SetData replaces the opaque state blob of an existing session without
// touching the TTL.
func (s *Store) SetData(ctx context.Context, id, data string) error {
	return s.client.HSet(ctx, KeyPrefix+id, "data", data).Err()
}

// Destroy removes a session record. Returns false if the record was already
// gone (expired or never created).
func (s *Store) Destroy(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Del(ctx, KeyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("session: destroy %s: %w", id, err)
	}
	return n > 0, nil
}

// Ping verifies the Redis connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// TTL returns the configured session lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Close closes the underlying Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
