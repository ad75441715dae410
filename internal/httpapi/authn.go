package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"keygate.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/register",
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/auth/logout",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

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

		ctx := auth.ContextWithClaims(r.Context(), claims)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole gates admin surfaces on a role carried in the validated
// claims. The caller already passed withAuth, so missing claims mean a
// programming error in the public-path list and deny.
func (a *API) requireRole(r *http.Request, role string) error {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return errors.New("authentication required")
	}
	if !claims.HasRole(role) {
		return errors.New("role " + role + " required")
	}
	return nil
}

// authFailureMessage keeps 401 bodies coarse. Expiry is worth telling the
// client about so it knows to refresh; everything else is just invalid.
func authFailureMessage(err error) string {
	if errors.Is(err, auth.ErrTokenExpired) {
		return "token expired"
	}
	return "invalid token"
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
