package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/medico24/medico24-auth/internal/config"
	"github.com/medico24/medico24-auth/internal/domain"
	"github.com/medico24/medico24-auth/internal/http/middleware"
	"github.com/medico24/medico24-auth/internal/http/response"
	"github.com/medico24/medico24-auth/internal/security"
	"github.com/medico24/medico24-auth/internal/service"
)

type AuthHandler struct {
	auth *service.AuthService
	cfg  *config.Config
}

func NewAuthHandler(auth *service.AuthService, cfg *config.Config) *AuthHandler {
	return &AuthHandler{auth: auth, cfg: cfg}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	// RefreshToken is echoed for native clients without a cookie jar; browser
	// clients should rely on the path-scoped cookie instead.
	RefreshToken string           `json:"refresh_token"`
	TokenType    string           `json:"token_type"`
	ExpiresIn    int64            `json:"expires_in"`
	SessionID    string           `json:"session_id"`
	Identity     *domain.Identity `json:"identity,omitempty"`
}

func requestMeta(r *http.Request) service.RequestMeta {
	return service.RequestMeta{
		UserAgent: r.UserAgent(),
		IP:        middleware.ClientIP(r),
	}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		response.BadRequest(w, r, "email and password are required")
		return
	}

	pair, identity, err := h.auth.PasswordLogin(r.Context(), req.Email, req.Password, requestMeta(r))
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			response.Unauthorized(w, r)
			return
		}
		response.Internal(w, r)
		return
	}
	h.writeTokenPair(w, r, pair, identity)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	secret := h.refreshSecret(r)
	if secret == "" {
		response.Unauthorized(w, r)
		return
	}

	pair, err := h.auth.Refresh(r.Context(), secret, requestMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRefreshTokenReuseDetected):
			security.ClearAuthCookies(w, h.cfg.CookieSecure)
			response.Error(w, r, http.StatusUnauthorized, response.CodeSecurityRevocation, "session revoked")
		case errors.Is(err, service.ErrUnknownRefreshToken):
			security.ClearAuthCookies(w, h.cfg.CookieSecure)
			response.Unauthorized(w, r)
		default:
			response.Internal(w, r)
		}
		return
	}
	h.writeTokenPair(w, r, pair, nil)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if secret := h.refreshSecret(r); secret != "" {
		if err := h.auth.Logout(r.Context(), secret, requestMeta(r)); err != nil {
			response.Internal(w, r)
			return
		}
	}
	security.ClearAuthCookies(w, h.cfg.CookieSecure)
	response.NoContent(w)
}

// refreshSecret prefers the path-scoped cookie; native clients without a
// cookie jar send the token in the body instead.
func (h *AuthHandler) refreshSecret(r *http.Request) string {
	if v := security.GetCookie(r, security.CookieRefreshToken); v != "" {
		return v
	}
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	return body.RefreshToken
}

func (h *AuthHandler) writeTokenPair(w http.ResponseWriter, r *http.Request, pair *service.TokenPair, identity *domain.Identity) {
	security.SetAuthCookies(w,
		pair.AccessToken, pair.RefreshSecret, pair.CSRFToken,
		h.cfg.AccessTokenTTL, h.cfg.RefreshTokenTTL, h.cfg.CookieSecure,
	)
	response.OK(w, r, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshSecret,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.cfg.AccessTokenTTL.Seconds()),
		SessionID:    pair.SessionID,
		Identity:     identity,
	})
}

func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.AuthGoogleEnabled {
		response.Error(w, r, http.StatusNotFound, response.CodeNotEnabled, "google login is not enabled")
		return
	}
	state, err := security.NewStateToken()
	if err != nil {
		response.Internal(w, r)
		return
	}
	signed := security.SignState(state, h.cfg.OAuthStateKey)
	security.SetOAuthStateCookie(w, signed, 10*time.Minute, h.cfg.CookieSecure)
	http.Redirect(w, r, h.auth.GoogleLoginURL(state), http.StatusFound)
}

func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.AuthGoogleEnabled {
		response.Error(w, r, http.StatusNotFound, response.CodeNotEnabled, "google login is not enabled")
		return
	}
	// The state cookie is single-use; drop it whatever the outcome. Headers
	// must be set before the first write, so this cannot be deferred.
	security.ClearOAuthStateCookie(w, h.cfg.CookieSecure)

	if errCode := r.URL.Query().Get("error"); errCode != "" {
		response.Error(w, r, http.StatusUnauthorized, response.CodeOAuthFailed, "authorization was denied")
		return
	}
	state := r.URL.Query().Get("state")
	signed := security.GetCookie(r, security.CookieOAuthState)
	if state == "" || signed == "" || !security.VerifyState(signed, state, h.cfg.OAuthStateKey) {
		response.Error(w, r, http.StatusUnauthorized, response.CodeOAuthFailed, "state verification failed")
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		response.BadRequest(w, r, "missing authorization code")
		return
	}

	pair, identity, err := h.auth.LoginWithGoogleCode(r.Context(), code, requestMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmailConflict):
			response.Error(w, r, http.StatusConflict, response.CodeConflict, "account exists, sign in with password to link")
		case errors.Is(err, service.ErrIdentityDeactivated):
			response.Unauthorized(w, r)
		default:
			response.Error(w, r, http.StatusUnauthorized, response.CodeOAuthFailed, "google sign-in failed")
		}
		return
	}
	h.writeTokenPair(w, r, pair, identity)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, r)
		return
	}
	identity, err := h.auth.Identity(r.Context(), ac.IdentityID)
	if err != nil {
		response.Unauthorized(w, r)
		return
	}
	response.OK(w, r, identity)
}
