package auth

import (
	"strings"
	"time"
)

// Identity is a registered account. PasswordHash is opaque and never leaves
// this package.
type Identity struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	PasswordHash string            `json:"-"`
	Roles        []string          `json:"roles,omitempty"`
	Claims       map[string]string `json:"claims,omitempty"`
	Active       bool              `json:"active"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	LastLoginAt  *time.Time        `json:"last_login_at,omitempty"`
}

// Role groups identities for role-based authorization.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RefreshToken is the persisted record of an opaque refresh credential.
// Only the SHA-256 of the secret half is stored.
type RefreshToken struct {
	ID         string
	IdentityID string
	TokenHash  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	Revoked    bool
	RevokedAt  *time.Time
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// ClaimSet is the validated content of an access token.
type ClaimSet struct {
	Subject   string
	Issuer    string
	Audience  string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Roles     []string
	Custom    map[string]string
}

// HasRole reports whether the claim set carries the role (case-insensitive).
func (c ClaimSet) HasRole(role string) bool {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		return false
	}
	for _, r := range c.Roles {
		if strings.ToLower(r) == role {
			return true
		}
	}
	return false
}

// Claim returns a custom claim value if present.
func (c ClaimSet) Claim(name string) (string, bool) {
	v, ok := c.Custom[name]
	return v, ok
}

// NormalizeIdentifier canonicalizes a username/email for lookup and
// uniqueness checks.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func dedupeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var normalized []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}
