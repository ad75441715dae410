package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"keygate.org/internal/obs"
)

const (
	defaultAccessTTL  = 1 * time.Hour
	defaultRefreshTTL = 30 * 24 * time.Hour
)

// Service is the authentication core: it authenticates credentials, mints
// and validates access tokens, and manages refresh token rotation. Token
// validation is a pure function of the token and the signing key; all
// shared state lives in the injected Store.
type Service struct {
	store Store
	now   func() time.Time

	signingKey []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	clockSkew  time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithIssuer sets the iss claim minted into and required from tokens.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		issuer = strings.TrimSpace(issuer)
		if issuer == "" {
			return errors.New("auth: issuer must not be empty")
		}
		s.issuer = issuer
		return nil
	}
}

// WithAudience sets the aud claim minted into and required from tokens.
func WithAudience(audience string) ServiceOption {
	return func(s *Service) error {
		audience = strings.TrimSpace(audience)
		if audience == "" {
			return errors.New("auth: audience must not be empty")
		}
		s.audience = audience
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClockSkew sets the leeway tolerated on token time claims.
func WithClockSkew(skew time.Duration) ServiceOption {
	return func(s *Service) error {
		if skew < 0 {
			return errors.New("auth: clock skew must not be negative")
		}
		s.clockSkew = skew
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the auth core. A signing key shorter than 256 bits
// is a configuration error and fails construction, never a request.
func NewService(store Store, signingKey []byte, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if len(signingKey) < 32 {
		return nil, fmt.Errorf("auth: signing key must be at least 32 bytes, got %d", len(signingKey))
	}
	svc := &Service{
		store:      store,
		now:        time.Now,
		signingKey: signingKey,
		issuer:     "keygate",
		audience:   "keygate-clients",
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Register creates a new identity. The identifier is normalized before the
// uniqueness check; concurrent registration of the same identifier yields
// exactly one success and one ErrDuplicateIdentifier.
func (s *Service) Register(ctx context.Context, identifier, password string, roles []string, claims map[string]string) (*Identity, error) {
	identifier = NormalizeIdentifier(identifier)
	if identifier == "" || !strings.Contains(identifier, "@") {
		return nil, fmt.Errorf("%w: valid email identifier is required", ErrInvalidInput)
	}
	if strings.TrimSpace(password) == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	identity := &Identity{
		Email:        identifier,
		PasswordHash: hash,
		Roles:        dedupeRoles(roles),
		Claims:       claims,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Identities(ctx).Create(ctx, identity); err != nil {
		return nil, err
	}
	return identity, nil
}

// Login authenticates credentials and issues a token pair. Unknown
// identifier and wrong password are indistinguishable to the caller, and
// the unknown-identifier path still performs a hash verification so both
// failures cost comparable time.
func (s *Service) Login(ctx context.Context, identifier, password string) (TokenPair, *Identity, error) {
	identifier = NormalizeIdentifier(identifier)
	if identifier == "" || password == "" {
		obs.LoginFailureTotal.Inc()
		return TokenPair{}, nil, ErrInvalidCredentials
	}

	identities := s.store.Identities(ctx)
	identity, err := identities.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = VerifyPassword(dummyHash, password)
			obs.LoginFailureTotal.Inc()
			return TokenPair{}, nil, ErrInvalidCredentials
		}
		return TokenPair{}, nil, err
	}
	if err := VerifyPassword(identity.PasswordHash, password); err != nil {
		obs.LoginFailureTotal.Inc()
		return TokenPair{}, nil, ErrInvalidCredentials
	}
	if !identity.Active {
		log.Warn().Str("identity_id", identity.ID).Msg("login rejected: identity deactivated")
		obs.LoginFailureTotal.Inc()
		return TokenPair{}, nil, ErrInvalidCredentials
	}

	pair, err := s.mintTokens(ctx, identity)
	if err != nil {
		return TokenPair{}, nil, err
	}

	now := s.now().UTC()
	if err := identities.UpdateLastLogin(ctx, identity.ID, now); err != nil {
		log.Warn().Err(err).Str("identity_id", identity.ID).Msg("failed to update last_login_at")
	}
	identity.LastLoginAt = &now

	obs.LoginSuccessTotal.Inc()
	return pair, identity, nil
}

// Refresh redeems a refresh token and rotates it: the old record is revoked
// by a single conditional update before the replacement pair is issued, so
// two concurrent redemptions of the same token produce at most one pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, *Identity, error) {
	id, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		obs.RefreshRejectedTotal.WithLabelValues("malformed").Inc()
		return TokenPair{}, nil, ErrRefreshTokenNotFound
	}

	record, err := s.store.RefreshTokens(ctx).Claim(ctx, id, s.now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, ErrRefreshTokenRevoked):
			obs.RefreshRejectedTotal.WithLabelValues("revoked").Inc()
		case errors.Is(err, ErrRefreshTokenExpired):
			obs.RefreshRejectedTotal.WithLabelValues("expired").Inc()
		case errors.Is(err, ErrRefreshTokenNotFound):
			obs.RefreshRejectedTotal.WithLabelValues("unknown").Inc()
		}
		return TokenPair{}, nil, err
	}
	if subtle.ConstantTimeCompare([]byte(record.TokenHash), []byte(hashRefreshSecret(secret))) != 1 {
		// Wrong secret for a known id. The claim above already revoked
		// the record, which is the outcome we want for a guessed id.
		log.Warn().Str("refresh_id", id).Msg("refresh token secret mismatch")
		obs.RefreshRejectedTotal.WithLabelValues("mismatch").Inc()
		return TokenPair{}, nil, ErrRefreshTokenNotFound
	}

	identity, err := s.store.Identities(ctx).Find(ctx, record.IdentityID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrRefreshTokenNotFound
		}
		return TokenPair{}, nil, err
	}
	if !identity.Active {
		return TokenPair{}, nil, ErrRefreshTokenRevoked
	}

	pair, err := s.mintTokens(ctx, identity)
	if err != nil {
		return TokenPair{}, nil, err
	}
	obs.RefreshRotationsTotal.Inc()
	return pair, identity, nil
}

// Authenticate validates a bearer access token. Stateless: no store access.
func (s *Service) Authenticate(tokenString string) (ClaimSet, error) {
	return s.ValidateAccessToken(tokenString)
}

// Logout revokes a single refresh token. Idempotent: revoking an already
// revoked or unknown token is not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	id, _, err := splitRefreshToken(refreshToken)
	if err != nil {
		return nil
	}
	return s.store.RefreshTokens(ctx).Revoke(ctx, id, s.now().UTC())
}

// LogoutAll revokes every live refresh token for the identity. Used on
// password change and logout-everywhere.
func (s *Service) LogoutAll(ctx context.Context, identityID string) error {
	return s.store.RefreshTokens(ctx).RevokeAllForIdentity(ctx, identityID, s.now().UTC())
}

// AssignRole grants a role to an identity. Granting an already held role
// is a no-op.
func (s *Service) AssignRole(ctx context.Context, identityID, roleName string) error {
	roleName = strings.ToLower(strings.TrimSpace(roleName))
	if roleName == "" {
		return fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if _, err := s.store.Identities(ctx).Find(ctx, identityID); err != nil {
		return err
	}
	return s.store.Identities(ctx).AssignRole(ctx, identityID, roleName)
}

// Deactivate soft-disables the identity and revokes its refresh tokens.
func (s *Service) Deactivate(ctx context.Context, identityID string) error {
	if err := s.store.Identities(ctx).SetActive(ctx, identityID, false); err != nil {
		return err
	}
	return s.LogoutAll(ctx, identityID)
}

// mintTokens issues an access token and records the paired refresh token.
// The refresh record is persisted before the pair is returned: a store
// failure aborts the whole operation with nothing handed out.
func (s *Service) mintTokens(ctx context.Context, identity *Identity) (TokenPair, error) {
	accessToken, accessExp, err := s.IssueAccessToken(identity)
	if err != nil {
		return TokenPair{}, err
	}
	refreshString, record, err := s.generateRefreshToken(identity.ID, s.now().UTC())
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.store.RefreshTokens(ctx).Create(ctx, record); err != nil {
		return TokenPair{}, err
	}
	obs.AccessTokensIssuedTotal.Inc()
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshString,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}
