package auth

import (
	"context"
	"sync"
	"time"

	"keygate.org/internal/ids"
)

// memStore is an in-memory Store used by service tests. Claim applies the
// same conditional single-winner semantics the SQL store enforces.
type memStore struct {
	mu         sync.Mutex
	identities map[string]*Identity
	byEmail    map[string]string
	tokens     map[string]*RefreshToken
}

func newMemStore() *memStore {
	return &memStore{
		identities: make(map[string]*Identity),
		byEmail:    make(map[string]string),
		tokens:     make(map[string]*RefreshToken),
	}
}

func (s *memStore) Identities(context.Context) IdentityStore {
	return &memIdentities{s}
}

func (s *memStore) RefreshTokens(context.Context) RefreshTokenStore {
	return &memTokens{s}
}

func (s *memStore) token(id string) *RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return nil
	}
	cp := *tok
	return &cp
}

type memIdentities struct{ s *memStore }

func (m *memIdentities) Create(ctx context.Context, identity *Identity) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	email := NormalizeIdentifier(identity.Email)
	if _, exists := m.s.byEmail[email]; exists {
		return ErrDuplicateIdentifier
	}
	if identity.ID == "" {
		identity.ID = ids.New()
	}
	cp := *identity
	m.s.identities[identity.ID] = &cp
	m.s.byEmail[email] = identity.ID
	return nil
}

func (m *memIdentities) Find(ctx context.Context, id string) (*Identity, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	identity, ok := m.s.identities[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *identity
	return &cp, nil
}

func (m *memIdentities) FindByIdentifier(ctx context.Context, identifier string) (*Identity, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	id, ok := m.s.byEmail[NormalizeIdentifier(identifier)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.s.identities[id]
	return &cp, nil
}

func (m *memIdentities) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	identity, ok := m.s.identities[id]
	if !ok {
		return ErrNotFound
	}
	identity.LastLoginAt = &at
	return nil
}

func (m *memIdentities) SetActive(ctx context.Context, id string, active bool) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	identity, ok := m.s.identities[id]
	if !ok {
		return ErrNotFound
	}
	identity.Active = active
	return nil
}

func (m *memIdentities) AssignRole(ctx context.Context, identityID, roleName string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	identity, ok := m.s.identities[identityID]
	if !ok {
		return ErrNotFound
	}
	identity.Roles = append(identity.Roles, roleName)
	return nil
}

type memTokens struct{ s *memStore }

func (m *memTokens) Create(ctx context.Context, tok *RefreshToken) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cp := *tok
	m.s.tokens[tok.ID] = &cp
	return nil
}

func (m *memTokens) Claim(ctx context.Context, id string, now time.Time) (*RefreshToken, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	tok, ok := m.s.tokens[id]
	if !ok {
		return nil, ErrRefreshTokenNotFound
	}
	if tok.Revoked {
		return nil, ErrRefreshTokenRevoked
	}
	if !tok.ExpiresAt.After(now) {
		return nil, ErrRefreshTokenExpired
	}
	tok.Revoked = true
	tok.RevokedAt = &now
	cp := *tok
	return &cp, nil
}

func (m *memTokens) Revoke(ctx context.Context, id string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if tok, ok := m.s.tokens[id]; ok && !tok.Revoked {
		tok.Revoked = true
		tok.RevokedAt = &at
	}
	return nil
}

func (m *memTokens) RevokeAllForIdentity(ctx context.Context, identityID string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, tok := range m.s.tokens {
		if tok.IdentityID == identityID && !tok.Revoked {
			tok.Revoked = true
			tok.RevokedAt = &at
		}
	}
	return nil
}
