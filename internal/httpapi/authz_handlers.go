package httpapi

import (
	"net/http"
	"strings"
	"time"

	"keygate.org/internal/audit"
	"keygate.org/internal/auth"
)

type authorizeResponse struct {
	Policy  string `json:"policy"`
	Allowed bool   `json:"allowed"`
	Subject string `json:"subject"`
}

// handleAuthorize evaluates a named policy against the caller's validated
// claims. Denials return a generic 403; the concrete reason goes to the
// audit log only.
func (a *API) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	policy := strings.TrimSpace(r.URL.Query().Get("policy"))
	if policy == "" {
		writeError(w, r, http.StatusBadRequest, "policy query parameter is required")
		return
	}

	decision := a.policies.Authorize(policy, claims, time.Now().UTC())
	if !decision.Allowed {
		_ = audit.LogEvent(r.Context(), "authz.denied", map[string]any{
			"policy": policy,
			"reason": decision.Reason,
		})
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	_ = audit.LogEvent(r.Context(), "authz.allowed", map[string]any{
		"policy": policy,
	})
	writeJSON(w, http.StatusOK, authorizeResponse{
		Policy:  policy,
		Allowed: true,
		Subject: claims.Subject,
	})
}
