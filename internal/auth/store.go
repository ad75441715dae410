package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth core. All
// mutations are atomic against the backing store; the service layer never
// does read-then-write for state it must not race on.
type Store interface {
	Identities(ctx context.Context) IdentityStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
}

// IdentityStore manages identity records.
type IdentityStore interface {
	// Create inserts the identity. A uniqueness constraint on the
	// normalized email turns a concurrent duplicate into
	// ErrDuplicateIdentifier for exactly one of the writers.
	Create(ctx context.Context, identity *Identity) error
	Find(ctx context.Context, id string) (*Identity, error)
	// FindByIdentifier looks up by normalized username/email.
	FindByIdentifier(ctx context.Context, identifier string) (*Identity, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool) error
	AssignRole(ctx context.Context, identityID, roleName string) error
}

// RefreshTokenStore manages refresh token lifecycle.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	// Claim atomically marks the token revoked and returns its record.
	// Of two concurrent claims on the same id, at most one succeeds; the
	// loser observes ErrRefreshTokenRevoked (or Expired/NotFound).
	Claim(ctx context.Context, id string, now time.Time) (*RefreshToken, error)
	// Revoke marks a token revoked. Idempotent.
	Revoke(ctx context.Context, id string, at time.Time) error
	RevokeAllForIdentity(ctx context.Context, identityID string, at time.Time) error
}
