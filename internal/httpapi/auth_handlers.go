package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"keygate.org/internal/audit"
	"keygate.org/internal/auth"
)

type registerRequest struct {
	Email    string            `json:"email"`
	Password string            `json:"password"`
	Claims   map[string]string `json:"claims,omitempty"`
}

// selfRegisterRoles is the only role set a public registration can produce.
// Anything beyond it is an administrative action on an authenticated path.
var selfRegisterRoles = []string{"user"}

type identityResponse struct {
	ID        string            `json:"id"`
	Email     string            `json:"email"`
	Roles     []string          `json:"roles,omitempty"`
	Claims    map[string]string `json:"claims,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
	All          bool   `json:"all,omitempty"`
}

type tokenPairResponse struct {
	TokenType        string    `json:"token_type"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func pairResponse(pair auth.TokenPair) tokenPairResponse {
	return tokenPairResponse{
		TokenType:        "Bearer",
		AccessToken:      pair.AccessToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	identity, err := a.auth.Register(r.Context(), req.Email, req.Password, selfRegisterRoles, req.Claims)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDuplicateIdentifier):
			writeError(w, r, http.StatusConflict, "identifier already registered")
		case errors.Is(err, auth.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, err.Error())
		default:
			writeError(w, r, http.StatusInternalServerError, "registration failed")
		}
		return
	}

	_ = audit.LogEvent(r.Context(), "identity.registered", map[string]any{
		"identity_id": identity.ID,
		"email":       identity.Email,
		"roles":       identity.Roles,
	})

	writeJSON(w, http.StatusCreated, identityResponse{
		ID:        identity.ID,
		Email:     identity.Email,
		Roles:     identity.Roles,
		Claims:    identity.Claims,
		CreatedAt: identity.CreatedAt,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, identity, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			// Один и тот же ответ для неизвестного email и неверного пароля.
			_ = audit.LogEvent(r.Context(), "auth.login.denied", map[string]any{
				"email": strings.ToLower(strings.TrimSpace(req.Email)),
			})
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "login failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"identity_id": identity.ID,
		"expires_at":  pair.AccessExpiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, pairResponse(pair))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	pair, identity, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrRefreshTokenNotFound),
			errors.Is(err, auth.ErrRefreshTokenRevoked),
			errors.Is(err, auth.ErrRefreshTokenExpired):
			_ = audit.LogEvent(r.Context(), "auth.refresh.denied", map[string]any{
				"reason": err.Error(),
			})
			writeError(w, r, http.StatusUnauthorized, "invalid refresh token")
		default:
			writeError(w, r, http.StatusInternalServerError, "refresh failed")
		}
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.refresh", map[string]any{
		"identity_id": identity.ID,
	})

	writeJSON(w, http.StatusOK, pairResponse(pair))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req logoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if req.All {
		// Revoking every session needs a proven subject, so all=true
		// requires a bearer token even though the path is public.
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.auth.Authenticate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, authFailureMessage(err))
			return
		}
		if err := a.auth.LogoutAll(r.Context(), claims.Subject); err != nil {
			writeError(w, r, http.StatusInternalServerError, "logout failed")
			return
		}
		_ = audit.LogEvent(r.Context(), "auth.logout.all", map[string]any{
			"identity_id": claims.Subject,
		})
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// Idempotent: logout of an unknown or already revoked token still
	// succeeds so clients can retry freely.
	if err := a.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		writeError(w, r, http.StatusInternalServerError, "logout failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	w.WriteHeader(http.StatusNoContent)
}
