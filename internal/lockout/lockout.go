// Package lockout provides temporary account lockout backed by Redis.
// Repeated failed logins against an account trip an escalating lock:
//
//	Key:   lockout:<username>
//	Value: <reason>
//	TTL:   lock duration
//
// A failure counter with its own TTL decides when the lock trips and how
// long it lasts.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// LockPrefix is the Redis key prefix for lock records.
	LockPrefix = "lockout:"

	// FailuresPrefix is the Redis key prefix for failed-login counters.
	FailuresPrefix = "failures:"

	// Escalating lock durations.
	Lock1Min  = 1 * time.Minute  // 1st lock
	Lock15Min = 15 * time.Minute // 2nd lock
	Lock1Hour = 1 * time.Hour    // 3rd+ lock

	// FailuresTTL is how long the failure counter lives in Redis. After
	// 15 minutes without a new failure the counter resets to zero.
	FailuresTTL = 15 * time.Minute

	// LockThreshold is the number of failures within FailuresTTL that
	// trips a lock.
	LockThreshold = 5
)

// Store manages lockout records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a lockout store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsLocked checks whether an account is currently locked.
// Returns (locked, remainingSeconds, error). Redis errors are returned so
// callers can decide how to handle them (the recommended policy is
// fail-open: a Redis outage must not lock everyone out).
func (s *Store) IsLocked(ctx context.Context, username string) (bool, int, error) {
	key := LockPrefix + username

	_, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		// The lock exists but the TTL is unreadable. Report locked with 0
		// remaining rather than swallowing the lock.
		return true, 0, nil
	}

	remaining := 0
	if ttl > 0 {
		remaining = int(ttl.Seconds())
	}
	return true, remaining, nil
}

// lockDuration returns the lock duration for a given failure count past
// the threshold.
func lockDuration(failures int64) time.Duration {
	switch {
	case failures <= LockThreshold:
		return Lock1Min
	case failures <= 2*LockThreshold:
		return Lock15Min
	default:
		return Lock1Hour
	}
}

// RecordFailure increments the account's failed-login counter and, when
// the threshold is reached, applies a lock whose duration escalates with
// the number of failures. Returns (locked, duration, error).
func (s *Store) RecordFailure(ctx context.Context, username string) (bool, time.Duration, error) {
	key := FailuresPrefix + username

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("lockout: failure incr: %w", err)
	}

	// Set TTL only on first increment so the window doesn't slide.
	if count == 1 {
		if err := s.client.Expire(ctx, key, FailuresTTL).Err(); err != nil {
			return false, 0, fmt.Errorf("lockout: failure expire: %w", err)
		}
	}

	if count >= LockThreshold {
		duration := lockDuration(count)
		if err := s.client.Set(ctx, LockPrefix+username, "failed_logins", duration).Err(); err != nil {
			return false, 0, fmt.Errorf("lockout: set lock: %w", err)
		}
		return true, duration, nil
	}

	return false, 0, nil
}

// Clear removes the account's failure counter and any active lock. Called
// after a successful login.
func (s *Store) Clear(ctx context.Context, username string) error {
	if err := s.client.Del(ctx, FailuresPrefix+username, LockPrefix+username).Err(); err != nil {
		return fmt.Errorf("lockout: clear: %w", err)
	}
	return nil
}
