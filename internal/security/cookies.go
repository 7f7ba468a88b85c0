package security

import (
	"net/http"
	"time"
)

const (
	CookieAccessToken  = "access_token"
	CookieRefreshToken = "refresh_token"
	CookieCSRFToken    = "csrf_token"
	CookieOAuthState   = "oauth_state"

	RefreshCookiePath    = "/api/v1/auth"
	OAuthStateCookiePath = "/api/v1/auth/google"
)

func GetCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// SetAuthCookies writes the token pair plus the readable CSRF cookie. The
// refresh cookie is path-scoped to the auth routes so it never rides along
// on API calls.
func SetAuthCookies(w http.ResponseWriter, access, refresh, csrf string, accessTTL, refreshTTL time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieAccessToken,
		Value:    access,
		Path:     "/",
		MaxAge:   int(accessTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CookieRefreshToken,
		Value:    refresh,
		Path:     RefreshCookiePath,
		MaxAge:   int(refreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CookieCSRFToken,
		Value:    csrf,
		Path:     "/",
		MaxAge:   int(refreshTTL.Seconds()),
		HttpOnly: false,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearAuthCookies(w http.ResponseWriter, secure bool) {
	for _, c := range []struct {
		name string
		path string
	}{
		{CookieAccessToken, "/"},
		{CookieRefreshToken, RefreshCookiePath},
		{CookieCSRFToken, "/"},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     c.path,
			MaxAge:   -1,
			HttpOnly: c.name != CookieCSRFToken,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func SetOAuthStateCookie(w http.ResponseWriter, signed string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieOAuthState,
		Value:    signed,
		Path:     OAuthStateCookiePath,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearOAuthStateCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieOAuthState,
		Value:    "",
		Path:     OAuthStateCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
