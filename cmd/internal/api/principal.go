package api

import (
	"net/http"
	"strings"
)

// Role of an authenticated principal, as asserted by the external auth layer.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
	RoleAdmin    Role = "admin"
)

// Principal is the identity the upstream auth collaborator attaches to every
// request after verifying the session credential. The broker trusts these
// headers and never validates credentials itself.
type Principal struct {
	UserID string
	Role   Role
}

const (
	headerUserID = "X-User-Id"
	headerRole   = "X-User-Role"
)

func principalFrom(r *http.Request) (Principal, bool) {
	userID := strings.TrimSpace(r.Header.Get(headerUserID))
	if userID == "" {
		return Principal{}, false
	}

	switch Role(strings.ToLower(strings.TrimSpace(r.Header.Get(headerRole)))) {
	case RoleCustomer:
		return Principal{UserID: userID, Role: RoleCustomer}, true
	case RoleAgent:
		return Principal{UserID: userID, Role: RoleAgent}, true
	case RoleAdmin:
		return Principal{UserID: userID, Role: RoleAdmin}, true
	}
	return Principal{}, false
}

// IsAgent reports whether the principal may work the support queue.
func (p Principal) IsAgent() bool {
	return p.Role == RoleAgent || p.Role == RoleAdmin
}

func (h *Handler) requirePrincipal(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	p, ok := principalFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid principal")
		return Principal{}, false
	}
	return p, true
}

func (h *Handler) requireAgent(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	p, ok := h.requirePrincipal(w, r)
	if !ok {
		return Principal{}, false
	}
	if !p.IsAgent() {
		writeError(w, http.StatusForbidden, "forbidden", "agent role required")
		return Principal{}, false
	}
	return p, true
}
