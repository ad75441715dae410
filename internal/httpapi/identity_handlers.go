package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"keygate.org/internal/audit"
	"keygate.org/internal/auth"
)

type assignRoleRequest struct {
	Role string `json:"role"`
}

// handleIdentity routes /v1/identities/{id}/{action}. Admin only.
func (a *API) handleIdentity(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/identities/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id, action := parts[0], parts[1]

	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := a.requireRole(r, "admin"); err != nil {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	switch action {
	case "deactivate":
		a.deactivateIdentity(w, r, id)
	case "roles":
		a.assignRole(w, r, id)
	case "logout":
		a.logoutIdentity(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (a *API) deactivateIdentity(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.auth.Deactivate(r.Context(), id); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "identity not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "deactivation failed")
		return
	}
	_ = audit.LogEvent(r.Context(), "identity.deactivated", map[string]any{
		"identity_id": id,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) assignRole(w http.ResponseWriter, r *http.Request, id string) {
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		writeError(w, r, http.StatusBadRequest, "role is required")
		return
	}

	if err := a.auth.AssignRole(r.Context(), id, role); err != nil {
		switch {
		case errors.Is(err, auth.ErrNotFound):
			writeError(w, r, http.StatusNotFound, "identity not found")
		case errors.Is(err, auth.ErrUnknownRole):
			writeError(w, r, http.StatusBadRequest, "unknown role")
		default:
			writeError(w, r, http.StatusInternalServerError, "role assignment failed")
		}
		return
	}
	_ = audit.LogEvent(r.Context(), "identity.role.assigned", map[string]any{
		"identity_id": id,
		"role":        role,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) logoutIdentity(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.auth.LogoutAll(r.Context(), id); err != nil {
		writeError(w, r, http.StatusInternalServerError, "logout failed")
		return
	}
	_ = audit.LogEvent(r.Context(), "identity.logout.forced", map[string]any{
		"identity_id": id,
	})
	w.WriteHeader(http.StatusNoContent)
}
