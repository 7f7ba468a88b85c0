package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/medico24/medico24-auth/internal/http/response"
	"github.com/medico24/medico24-auth/internal/observability"
	"github.com/medico24/medico24-auth/internal/security"
)

type contextKey string

const claimsContextKey contextKey = "auth.claims"

// AuthContext is what downstream handlers read about the caller.
type AuthContext struct {
	IdentityID uint
	FamilyID   string
	SessionID  string
}

func ClaimsFromContext(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(claimsContextKey).(*AuthContext)
	return ac, ok
}

// RequireAuth verifies the access token from the cookie or the Authorization
// header and injects the caller's claims. Verification is stateless; the only
// gates are the signature and the expiry. Every failure is the same 401 so
// the response does not reveal which check tripped.
func RequireAuth(jwtMgr *security.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, source := extractAccessToken(r)
			if raw == "" {
				observability.RecordAccessTokenValidation(r.Context(), "missing", source)
				response.Unauthorized(w, r)
				return
			}

			claims, err := jwtMgr.ParseAccessToken(raw)
			if err != nil {
				outcome := "malformed"
				if errors.Is(err, security.ErrTokenExpired) {
					outcome = "expired"
				}
				observability.RecordAccessTokenValidation(r.Context(), outcome, source)
				observability.AuditEvent(r.Context(), "auth.token_validation", "failure", outcome)
				response.Unauthorized(w, r)
				return
			}

			identityID, err := strconv.ParseUint(claims.Subject, 10, 64)
			if err != nil {
				observability.RecordAccessTokenValidation(r.Context(), "malformed", source)
				response.Unauthorized(w, r)
				return
			}

			observability.RecordAccessTokenValidation(r.Context(), "success", source)
			ac := &AuthContext{
				IdentityID: uint(identityID),
				FamilyID:   claims.FamilyID,
				SessionID:  claims.SessionID,
			}
			ctx := context.WithValue(r.Context(), claimsContextKey, ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractAccessToken(r *http.Request) (token, source string) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(after), "bearer"
		}
		return "", "bearer"
	}
	if v := security.GetCookie(r, security.CookieAccessToken); v != "" {
		return v, "cookie"
	}
	return "", "none"
}
