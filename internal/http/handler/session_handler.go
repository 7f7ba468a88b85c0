package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/medico24/medico24-auth/internal/config"
	"github.com/medico24/medico24-auth/internal/http/middleware"
	"github.com/medico24/medico24-auth/internal/http/response"
	"github.com/medico24/medico24-auth/internal/security"
	"github.com/medico24/medico24-auth/internal/service"
)

// SessionHandler serves the "active devices" view. Session ids are refresh
// family ids; revoking one revokes the whole family in the ledger.
type SessionHandler struct {
	auth *service.AuthService
	cfg  *config.Config
}

func NewSessionHandler(auth *service.AuthService, cfg *config.Config) *SessionHandler {
	return &SessionHandler{auth: auth, cfg: cfg}
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, r)
		return
	}
	sessions, err := h.auth.ListSessions(r.Context(), ac.IdentityID)
	if err != nil {
		response.Internal(w, r)
		return
	}
	response.OK(w, r, map[string]any{
		"sessions":           sessions,
		"current_session_id": ac.SessionID,
	})
}

func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, r)
		return
	}
	sessionID := chi.URLParam(r, "session_id")
	if sessionID == "" {
		response.BadRequest(w, r, "session_id is required")
		return
	}
	if err := h.auth.RevokeSession(r.Context(), ac.IdentityID, sessionID); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			response.NotFound(w, r, "session not found")
			return
		}
		response.Internal(w, r)
		return
	}
	// Revoking the session this request rides on invalidates its own cookies.
	if sessionID == ac.SessionID {
		security.ClearAuthCookies(w, h.cfg.CookieSecure)
	}
	response.OK(w, r, map[string]any{"revoked": sessionID})
}

func (h *SessionHandler) RevokeOthers(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, r)
		return
	}
	revoked, err := h.auth.RevokeOtherSessions(r.Context(), ac.IdentityID, ac.FamilyID)
	if err != nil {
		response.Internal(w, r)
		return
	}
	response.OK(w, r, map[string]any{"revoked_count": revoked})
}
