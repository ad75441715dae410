package auth

import "errors"

// Expected outcomes returned to callers as typed results. Only
// infrastructure failures (store unreachable, signing key missing at
// startup) surface as plain errors.
var (
	ErrNotFound            = errors.New("auth: not found")
	ErrInvalidInput        = errors.New("auth: invalid input")
	ErrInvalidCredentials  = errors.New("auth: invalid credentials")
	ErrDuplicateIdentifier = errors.New("auth: identifier already registered")
	ErrIdentityInactive    = errors.New("auth: identity is deactivated")
	ErrUnknownRole         = errors.New("auth: unknown role")

	ErrTokenMalformed        = errors.New("auth: malformed token")
	ErrTokenSignatureInvalid = errors.New("auth: token signature invalid")
	ErrTokenExpired          = errors.New("auth: token expired")
	ErrTokenNotYetValid      = errors.New("auth: token not yet valid")
	ErrTokenIssuerMismatch   = errors.New("auth: token issuer mismatch")
	ErrTokenAudienceMismatch = errors.New("auth: token audience mismatch")

	ErrRefreshTokenNotFound = errors.New("auth: refresh token unknown")
	ErrRefreshTokenExpired  = errors.New("auth: refresh token expired")
	ErrRefreshTokenRevoked  = errors.New("auth: refresh token revoked")
)
