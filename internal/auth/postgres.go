package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"keygate.org/internal/ids"
)

const pgUniqueViolation = "23505"

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Identities(context.Context) IdentityStore { return &identityStore{db: s.db} }
func (s *PGStore) RefreshTokens(context.Context) RefreshTokenStore {
	return &refreshTokenStore{db: s.db}
}

// Identity store -----------------------------------------------------------

type identityStore struct{ db *sql.DB }

func (s *identityStore) Create(ctx context.Context, identity *Identity) error {
	if identity.ID == "" {
		identity.ID = ids.New()
	}
	claims, _ := json.Marshal(identity.Claims)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`insert into users(id, email, password_hash, custom_claims, is_active)
		 values($1,$2,$3,$4,$5)`,
		identity.ID, NormalizeIdentifier(identity.Email), identity.PasswordHash, claims, identity.Active,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateIdentifier
		}
		return err
	}
	for _, role := range dedupeRoles(identity.Roles) {
		_, err := tx.ExecContext(ctx,
			`insert into user_roles(user_id, role_id)
			 select $1, id from roles where name=$2
			 on conflict do nothing`,
			identity.ID, role,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *identityStore) Find(ctx context.Context, id string) (*Identity, error) {
	return s.findOne(ctx, `where id=$1`, id)
}

func (s *identityStore) FindByIdentifier(ctx context.Context, identifier string) (*Identity, error) {
	return s.findOne(ctx, `where email=$1`, NormalizeIdentifier(identifier))
}

func (s *identityStore) findOne(ctx context.Context, where string, arg any) (*Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, email, password_hash, custom_claims, is_active, created_at, updated_at, last_login_at
		 from users `+where, arg)

	var (
		identity  Identity
		claims    []byte
		lastLogin sql.NullTime
	)
	if err := row.Scan(&identity.ID, &identity.Email, &identity.PasswordHash, &claims,
		&identity.Active, &identity.CreatedAt, &identity.UpdatedAt, &lastLogin); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(claims, &identity.Claims)
	if lastLogin.Valid {
		identity.LastLoginAt = &lastLogin.Time
	}

	rows, err := s.db.QueryContext(ctx,
		`select r.name from roles r
		 join user_roles ur on ur.role_id = r.id
		 where ur.user_id = $1 order by r.name`, identity.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		identity.Roles = append(identity.Roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &identity, nil
}

func (s *identityStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update users set last_login_at=$2, updated_at=$2 where id=$1`, id, at)
	return err
}

func (s *identityStore) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`update users set is_active=$2, updated_at=now() where id=$1`, id, active)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignRole grants a seeded role. A role name absent from the roles table
// is reported as ErrUnknownRole rather than silently affecting zero rows.
func (s *identityStore) AssignRole(ctx context.Context, identityID, roleName string) error {
	var roleID string
	err := s.db.QueryRowContext(ctx,
		`select id from roles where name=$1`, roleName).Scan(&roleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUnknownRole
		}
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into user_roles(user_id, role_id)
		 values($1,$2)
		 on conflict do nothing`,
		identityID, roleID,
	)
	return err
}

// Refresh token store ------------------------------------------------------

type refreshTokenStore struct{ db *sql.DB }

func (s *refreshTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, identity_id, token_hash, expires_at, created_at, revoked)
		 values($1,$2,$3,$4,$5,false)`,
		tok.ID, tok.IdentityID, tok.TokenHash, tok.ExpiresAt, tok.CreatedAt,
	)
	return err
}

// Claim is the single-use gate for redemption: one conditional update, so
// two concurrent redemptions of the same token cannot both win.
func (s *refreshTokenStore) Claim(ctx context.Context, id string, now time.Time) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`update refresh_tokens set revoked=true, revoked_at=$2
		 where id=$1 and not revoked and expires_at > $2
		 returning identity_id, token_hash, expires_at, created_at`,
		id, now,
	)
	tok := &RefreshToken{ID: id, Revoked: true, RevokedAt: &now}
	err := row.Scan(&tok.IdentityID, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt)
	if err == nil {
		return tok, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// The update matched nothing: report why.
	var (
		revoked   bool
		expiresAt time.Time
	)
	diag := s.db.QueryRowContext(ctx,
		`select revoked, expires_at from refresh_tokens where id=$1`, id)
	if err := diag.Scan(&revoked, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRefreshTokenNotFound
		}
		return nil, err
	}
	if revoked {
		return nil, ErrRefreshTokenRevoked
	}
	return nil, ErrRefreshTokenExpired
}

func (s *refreshTokenStore) Revoke(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true, revoked_at=$2
		 where id=$1 and not revoked`, id, at)
	return err
}

func (s *refreshTokenStore) RevokeAllForIdentity(ctx context.Context, identityID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true, revoked_at=$2
		 where identity_id=$1 and not revoked`, identityID, at)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
