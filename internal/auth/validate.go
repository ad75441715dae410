package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ValidateAccessToken verifies structure, signature, issuer, audience and
// time claims of a compact token and extracts its claim set. Failures are
// reported as one of the typed token errors. Only HS256 is accepted.
func (s *Service) ValidateAccessToken(tokenString string) (ClaimSet, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return ClaimSet{}, ErrTokenMalformed
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithLeeway(s.clockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)

	claims := jwt.MapClaims{}
	parsed, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.signingKey, nil
	})
	if err != nil {
		return ClaimSet{}, mapTokenError(err)
	}
	if !parsed.Valid {
		return ClaimSet{}, ErrTokenSignatureInvalid
	}
	return extractClaimSet(claims)
}

// mapTokenError translates golang-jwt failures into the typed taxonomy.
// Checks mirror validation order: structure, signature, issuer, audience,
// expiry, not-before.
func mapTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrTokenSignatureInvalid
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrTokenIssuerMismatch
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrTokenAudienceMismatch
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrTokenNotYetValid
	default:
		return ErrTokenMalformed
	}
}

func extractClaimSet(claims jwt.MapClaims) (ClaimSet, error) {
	sub, _ := claims["sub"].(string)
	if strings.TrimSpace(sub) == "" {
		return ClaimSet{}, ErrTokenMalformed
	}
	cs := ClaimSet{Subject: sub}

	if iss, ok := claims["iss"].(string); ok {
		cs.Issuer = iss
	}
	switch aud := claims["aud"].(type) {
	case string:
		cs.Audience = aud
	case []any:
		if len(aud) > 0 {
			if first, ok := aud[0].(string); ok {
				cs.Audience = first
			}
		}
	}
	if jti, ok := claims["jti"].(string); ok {
		cs.TokenID = jti
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		cs.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		cs.ExpiresAt = exp.Time
	}
	if rawRoles, ok := claims["roles"].([]any); ok {
		for _, r := range rawRoles {
			if role, ok := r.(string); ok {
				cs.Roles = append(cs.Roles, role)
			}
		}
	}

	for name, value := range claims {
		if _, reserved := reservedClaims[name]; reserved {
			continue
		}
		str, ok := value.(string)
		if !ok {
			continue
		}
		if cs.Custom == nil {
			cs.Custom = make(map[string]string)
		}
		cs.Custom[name] = str
	}
	return cs, nil
}

// ExpiresIn reports the remaining lifetime of the claim set at the given
// instant, clamped at zero.
func (c ClaimSet) ExpiresIn(now time.Time) time.Duration {
	if c.ExpiresAt.IsZero() || !c.ExpiresAt.After(now) {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}
