package claim

import (
	"context"

	"github.com/skycast/weather-app/internal/account"
	"github.com/skycast/weather-app/internal/session"
)

// SessionStore is the slice of the Redis session store the claim service
// needs. *session.Store satisfies it; tests substitute an in-memory fake.
type SessionStore interface {
	NewID() string
	Get(ctx context.Context, id string) (*session.Session, error)
	Upsert(ctx context.Context, id, username, data string) error
	Destroy(ctx context.Context, id string) (bool, error)
}

// AccountDirectory is the slice of the account store the claim service
// needs. ConditionalClaim must be atomic: the "is the slot empty" predicate
// and the write may not be separable. *account.Store satisfies it.
type AccountDirectory interface {
	FindByUsername(ctx context.Context, username string) (*account.Account, error)
	ClearClaim(ctx context.Context, username string) error
	ConditionalClaim(ctx context.Context, username, sessionID string) (int64, error)
}

// Auditor receives auth lifecycle events. Implementations must not block
// the request path. A nil Auditor disables auditing.
type Auditor interface {
	Record(ctx context.Context, event, username, sessionID, reason string)
}
