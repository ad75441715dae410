package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"keygate.org/internal/ids"
)

// Claim names minted by the issuer. Custom identity claims may not shadow
// them.
var reservedClaims = map[string]struct{}{
	"iss": {}, "sub": {}, "aud": {}, "exp": {}, "nbf": {}, "iat": {}, "jti": {}, "roles": {},
}

// IssueAccessToken mints a signed HS256 access token for the identity. The
// claim set carries the subject, roles and every custom claim that does not
// collide with a registered claim name.
func (s *Service) IssueAccessToken(identity *Identity) (string, time.Time, error) {
	now := s.now().UTC()
	exp := now.Add(s.accessTTL)

	claims := jwt.MapClaims{
		"iss": s.issuer,
		"sub": identity.ID,
		"aud": s.audience,
		"iat": jwt.NewNumericDate(now),
		"nbf": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(exp),
		"jti": uuid.NewString(),
	}
	if roles := dedupeRoles(identity.Roles); len(roles) > 0 {
		claims["roles"] = roles
	}
	for name, value := range identity.Claims {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, reserved := reservedClaims[name]; reserved {
			continue
		}
		claims[name] = value
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

// generateRefreshToken creates an opaque refresh credential. The wire form
// is "<record-id>.<secret>"; only the SHA-256 of the secret is persisted.
func (s *Service) generateRefreshToken(identityID string, now time.Time) (string, *RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, fmt.Errorf("generate refresh secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	rec := &RefreshToken{
		ID:         ids.New(),
		IdentityID: identityID,
		TokenHash:  hashRefreshSecret(secret),
		ExpiresAt:  now.Add(s.refreshTTL),
		CreatedAt:  now,
	}
	return rec.ID + "." + secret, rec, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func hashRefreshSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
