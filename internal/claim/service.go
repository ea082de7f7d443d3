// Package claim enforces the single-active-session policy. Each account may
// be owned by at most one live session at a time; the owning session's
// identifier is stored in the account's claimed_session_id column. A new
// login evicts the previous session and claims the account with an atomic
// conditional update, so two logins racing for the same account can never
// both end up owning it.
package claim

import (
	"context"
	"fmt"
	"log"

	"github.com/skycast/weather-app/internal/metrics"
)

// Service orchestrates login, guard-check, and logout against the account
// directory and the session store.
type Service struct {
	accounts AccountDirectory
	sessions SessionStore
	auditor  Auditor // optional, nil disables auditing
}

// NewService constructs a claim service. auditor may be nil.
func NewService(accounts AccountDirectory, sessions SessionStore, auditor Auditor) *Service {
	return &Service{accounts: accounts, sessions: sessions, auditor: auditor}
}

// Login authenticates the credential, evicts any previous session for the
// account, and claims the account for a brand-new session. Returns the new
// session identifier.
//
// The eviction and the claim are two steps, not one transaction: between
// clearing the old claim and writing the new one, a concurrent login for
// the same account may take the slot. The conditional claim then affects
// zero rows and this login fails with ErrClaimLost; retrying resolves it.
func (s *Service) Login(ctx context.Context, username, credential string) (string, error) {
	acct, err := s.accounts.FindByUsername(ctx, username)
	if err != nil {
		return "", fmt.Errorf("claim: login lookup: %w", err)
	}
	if acct == nil || acct.Credential != credential {
		s.audit(ctx, "login_failed", username, "", "invalid_credentials")
		return "", ErrInvalidCredentials
	}

	// Always evict the previous session. The destroy is best-effort: the
	// record may legitimately have expired out of the store already.
	if acct.ClaimedSessionID != nil {
		old := *acct.ClaimedSessionID
		if _, err := s.sessions.Destroy(ctx, old); err != nil {
			log.Printf("[claim] evict destroy session=%s user=%s: %v", old, username, err)
		}
		if err := s.accounts.ClearClaim(ctx, username); err != nil {
			return "", fmt.Errorf("claim: evict clear: %w", err)
		}
		metrics.EvictionsTotal.Inc()
		s.audit(ctx, "session_evicted", username, old, "superseded")
	}

	// A brand-new identifier, never the one just destroyed.
	id := s.sessions.NewID()

	// Atomic conditional claim: succeeds only if the slot is still empty.
	n, err := s.accounts.ConditionalClaim(ctx, username, id)
	if err != nil {
		return "", fmt.Errorf("claim: conditional claim: %w", err)
	}
	if n == 0 {
		s.audit(ctx, "claim_lost", username, id, "concurrent_login")
		return "", ErrClaimLost
	}

	if err := s.sessions.Upsert(ctx, id, username, ""); err != nil {
		return "", fmt.Errorf("claim: create session: %w", err)
	}

	s.audit(ctx, "login_succeeded", username, id, "")
	return id, nil
}

// Check validates that the presented session is still the account's current
// claim. A nil return allows the request; any other return is one of the
// rejection sentinels or a wrapped store failure.
func (s *Service) Check(ctx context.Context, username, sessionID string) error {
	if username == "" || sessionID == "" {
		return ErrUnauthenticated
	}

	acct, err := s.accounts.FindByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("claim: check lookup: %w", err)
	}
	if acct == nil {
		return ErrUnauthenticated
	}
	if acct.ClaimedSessionID == nil {
		return ErrSessionInvalidated
	}
	if *acct.ClaimedSessionID != sessionID {
		return ErrSupersededElsewhere
	}

	// The claim matches; confirm the record is still live in the store.
	// Expiry is enforced lazily here, there is no background sweep.
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("claim: check session: %w", err)
	}
	if sess == nil {
		if err := s.accounts.ClearClaim(ctx, username); err != nil {
			return fmt.Errorf("claim: expire clear: %w", err)
		}
		return ErrSessionExpired
	}

	return nil
}

// Logout destroys the caller's session and releases the account's claim,
// but only when the claim still names the session being logged out. A
// superseded session logging out must not clobber the newer claim.
func (s *Service) Logout(ctx context.Context, username, sessionID string) error {
	if _, err := s.sessions.Destroy(ctx, sessionID); err != nil {
		return fmt.Errorf("claim: logout destroy: %w", err)
	}

	acct, err := s.accounts.FindByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("claim: logout lookup: %w", err)
	}
	if acct != nil && acct.ClaimedSessionID != nil && *acct.ClaimedSessionID == sessionID {
		if err := s.accounts.ClearClaim(ctx, username); err != nil {
			return fmt.Errorf("claim: logout clear: %w", err)
		}
	}

	s.audit(ctx, "logout", username, sessionID, "")
	return nil
}

func (s *Service) audit(ctx context.Context, event, username, sessionID, reason string) {
	if s.auditor == nil {
		return
	}
	s.auditor.Record(ctx, event, username, sessionID, reason)
}
