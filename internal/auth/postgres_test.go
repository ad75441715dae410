package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	return NewPGStore(db), mock, func() { db.Close() }
}

func TestPGCreateIdentity(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectExec("insert into users").
		WithArgs(sqlmock.AnyArg(), "user@example.com", sqlmock.AnyArg(), sqlmock.AnyArg(), true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into user_roles").
		WithArgs(sqlmock.AnyArg(), "user").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	identity := &Identity{Email: "User@Example.com", PasswordHash: "x", Roles: []string{"user"}, Active: true}
	if err := store.Identities(context.Background()).Create(context.Background(), identity); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if identity.ID == "" {
		t.Fatal("expected generated id")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGCreateIdentityDuplicate(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectExec("insert into users").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_lower_idx"})
	mock.ExpectRollback()

	identity := &Identity{Email: "user@example.com", PasswordHash: "x", Active: true}
	err := store.Identities(context.Background()).Create(context.Background(), identity)
	if !errors.Is(err, ErrDuplicateIdentifier) {
		t.Fatalf("expected ErrDuplicateIdentifier, got %v", err)
	}
}

func TestPGFindByIdentifier(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	now := time.Now().UTC()
	mock.ExpectQuery("select id, email, password_hash").
		WithArgs("user@example.com").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "password_hash", "custom_claims", "is_active", "created_at", "updated_at", "last_login_at",
		}).AddRow("01HZX", "user@example.com", "hash", []byte(`{"department":"engineering"}`), true, now, now, nil))
	mock.ExpectQuery("select r.name from roles").
		WithArgs("01HZX").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("admin").AddRow("user"))

	identity, err := store.Identities(context.Background()).FindByIdentifier(context.Background(), "User@Example.com")
	if err != nil {
		t.Fatalf("FindByIdentifier: %v", err)
	}
	if identity.ID != "01HZX" || identity.Claims["department"] != "engineering" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if len(identity.Roles) != 2 || identity.Roles[0] != "admin" {
		t.Fatalf("unexpected roles: %v", identity.Roles)
	}
	if identity.LastLoginAt != nil {
		t.Fatal("expected nil last login")
	}
}

func TestPGFindUnknownIdentifier(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	mock.ExpectQuery("select id, email, password_hash").
		WithArgs("nobody@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Identities(context.Background()).FindByIdentifier(context.Background(), "nobody@example.com")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGSetActiveUnknownIdentity(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	mock.ExpectExec("update users set is_active").
		WithArgs("missing", false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Identities(context.Background()).SetActive(context.Background(), "missing", false)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGAssignRole(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	mock.ExpectQuery("select id from roles").
		WithArgs("auditor").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("role_auditor"))
	mock.ExpectExec("insert into user_roles").
		WithArgs("01HZX", "role_auditor").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Identities(context.Background()).AssignRole(context.Background(), "01HZX", "auditor"); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGAssignRoleUnknownRole(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	mock.ExpectQuery("select id from roles").
		WithArgs("wizard").
		WillReturnError(sql.ErrNoRows)

	err := store.Identities(context.Background()).AssignRole(context.Background(), "01HZX", "wizard")
	if !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}

func TestPGClaimRefreshToken(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	now := time.Now().UTC()
	expires := now.Add(time.Hour)
	mock.ExpectQuery("update refresh_tokens set revoked=true").
		WithArgs("tok1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"identity_id", "token_hash", "expires_at", "created_at"}).
			AddRow("01HZX", "deadbeef", expires, now.Add(-time.Hour)))

	tok, err := store.RefreshTokens(context.Background()).Claim(context.Background(), "tok1", now)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if tok.IdentityID != "01HZX" || tok.TokenHash != "deadbeef" || !tok.Revoked {
		t.Fatalf("unexpected token: %+v", tok)
	}
}

func TestPGClaimReportsWhyItMissed(t *testing.T) {
	cases := map[string]struct {
		diag func(sqlmock.Sqlmock)
		want error
	}{
		"unknown": {
			diag: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("select revoked, expires_at from refresh_tokens").
					WithArgs("tok1").WillReturnError(sql.ErrNoRows)
			},
			want: ErrRefreshTokenNotFound,
		},
		"revoked": {
			diag: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("select revoked, expires_at from refresh_tokens").
					WithArgs("tok1").
					WillReturnRows(sqlmock.NewRows([]string{"revoked", "expires_at"}).
						AddRow(true, time.Now().Add(time.Hour)))
			},
			want: ErrRefreshTokenRevoked,
		},
		"expired": {
			diag: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("select revoked, expires_at from refresh_tokens").
					WithArgs("tok1").
					WillReturnRows(sqlmock.NewRows([]string{"revoked", "expires_at"}).
						AddRow(false, time.Now().Add(-time.Hour)))
			},
			want: ErrRefreshTokenExpired,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			store, mock, closeDB := newMockStore(t)
			defer closeDB()

			mock.ExpectQuery("update refresh_tokens set revoked=true").
				WithArgs("tok1", sqlmock.AnyArg()).
				WillReturnRows(sqlmock.NewRows([]string{"identity_id", "token_hash", "expires_at", "created_at"}))
			tc.diag(mock)

			_, err := store.RefreshTokens(context.Background()).Claim(context.Background(), "tok1", time.Now().UTC())
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestPGRevokeIsIdempotent(t *testing.T) {
	store, mock, closeDB := newMockStore(t)
	defer closeDB()

	mock.ExpectExec("update refresh_tokens set revoked=true").
		WithArgs("tok1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.RefreshTokens(context.Background()).Revoke(context.Background(), "tok1", time.Now().UTC()); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
}
