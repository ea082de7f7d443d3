// Package account provides PostgreSQL-backed storage for user accounts.
// Each account holds the login credential and, at most, one currently
// claimed session identifier. The claimed_session_id column is the single
// source of truth for which session owns the account; the conditional
// update in ConditionalClaim is the atomic compare-and-swap the
// single-session policy relies on.
package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// Account is one row of the accounts table.
type Account struct {
	Username         string
	Credential       string
	ClaimedSessionID *string // nil when no session currently owns the account
}

// Store manages accounts in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates an account store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL using the given URL and verifies the
// connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("account: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("account: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// FindByUsername returns the account for the given username, or nil if no
// such account exists.
func (s *Store) FindByUsername(ctx context.Context, username string) (*Account, error) {
	const query = `
		SELECT username, credential, claimed_session_id
		FROM accounts
		WHERE username = $1`

	var acct Account
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&acct.Username,
		&acct.Credential,
		&acct.ClaimedSessionID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("account: find %s: %w", username, err)
	}
	return &acct, nil
}

// ClearClaim unconditionally sets the account's claimed session to NULL.
// Clearing an account that has no claim is not an error.
func (s *Store) ClearClaim(ctx context.Context, username string) error {
	const query = `
		UPDATE accounts
		SET claimed_session_id = NULL
		WHERE username = $1`

	if _, err := s.db.ExecContext(ctx, query, username); err != nil {
		return fmt.Errorf("account: clear claim %s: %w", username, err)
	}
	return nil
}

// ConditionalClaim sets the account's claimed session to sessionID only if
// no session currently holds the claim. The predicate and the write execute
// as a single UPDATE statement, so two concurrent logins racing for the
// same account can never both see zero rows claimed and both win.
//
// Returns the number of rows affected: 1 on a successful claim, 0 when the
// slot was already taken (or the account does not exist).
func (s *Store) ConditionalClaim(ctx context.Context, username, sessionID string) (int64, error) {
	const query = `
		UPDATE accounts
		SET claimed_session_id = $2
		WHERE username = $1
		  AND claimed_session_id IS NULL`

	res, err := s.db.ExecContext(ctx, query, username, sessionID)
	if err != nil {
		return 0, fmt.Errorf("account: conditional claim %s: %w", username, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("account: conditional claim %s: rows affected: %w", username, err)
	}
	return n, nil
}

// Create inserts a new account with no claimed session. Accounts are
// provisioned out-of-band (seed CLI, tests); the claim machinery never
// creates or deletes rows.
func (s *Store) Create(ctx context.Context, username, credential string) error {
	const query = `
		INSERT INTO accounts (username, credential)
		VALUES ($1, $2)`

	if _, err := s.db.ExecContext(ctx, query, username, credential); err != nil {
		return fmt.Errorf("account: create %s: %w", username, err)
	}
	return nil
}

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database handle for migrations and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}
