package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/medico24/medico24-auth/internal/security"
)

func newTestJWTManager() *security.JWTManager {
	return security.NewJWTManager("test-issuer", "test-audience", "test-secret-key-that-is-32-bytes!")
}

func authProbeHandler(t *testing.T, got **AuthContext) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := ClaimsFromContext(r.Context())
		if !ok {
			t.Fatal("expected claims in context")
		}
		*got = ac
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuthAcceptsBearerToken(t *testing.T) {
	m := newTestJWTManager()
	raw, err := m.SignAccessToken(42, "fam-1", "sess-1", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	var got *AuthContext
	h := RequireAuth(m)(authProbeHandler(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rec.Code)
	}
	if got.IdentityID != 42 || got.FamilyID != "fam-1" || got.SessionID != "sess-1" {
		t.Fatalf("unexpected auth context %+v", got)
	}
}

func TestRequireAuthAcceptsCookie(t *testing.T) {
	m := newTestJWTManager()
	raw, err := m.SignAccessToken(7, "fam-7", "sess-7", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	var got *AuthContext
	h := RequireAuth(m)(authProbeHandler(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.AddCookie(&http.Cookie{Name: security.CookieAccessToken, Value: raw})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rec.Code)
	}
	if got.IdentityID != 7 {
		t.Fatalf("identity=%d want 7", got.IdentityID)
	}
}

func TestRequireAuthRejectionsAreGeneric(t *testing.T) {
	m := newTestJWTManager()
	expired, err := m.SignAccessToken(1, "f", "s", time.Millisecond)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	foreign, err := security.NewJWTManager("test-issuer", "test-audience", "another-secret-key-that-is-32-b!").
		SignAccessToken(1, "f", "s", time.Minute)
	if err != nil {
		t.Fatalf("sign foreign: %v", err)
	}

	cases := map[string]func(*http.Request){
		"missing":   func(*http.Request) {},
		"garbage":   func(r *http.Request) { r.Header.Set("Authorization", "Bearer garbage") },
		"expired":   func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+expired) },
		"bad_sig":   func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+foreign) },
		"bad_sch":   func(r *http.Request) { r.Header.Set("Authorization", "Basic dXNlcjpwdw==") },
		"empty_ck":  func(r *http.Request) { r.AddCookie(&http.Cookie{Name: security.CookieAccessToken, Value: ""}) },
		"wrong_ck":  func(r *http.Request) { r.AddCookie(&http.Cookie{Name: security.CookieAccessToken, Value: "nope"}) },
	}

	h := RequireAuth(m)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	var bodies []string
	for name, mutate := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
		mutate(req)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status=%d want 401", name, rec.Code)
		}

		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		if envelope.Error.Code != "UNAUTHORIZED" {
			t.Fatalf("%s: code=%q want UNAUTHORIZED", name, envelope.Error.Code)
		}
		bodies = append(bodies, envelope.Error.Code+"|"+envelope.Error.Message)
	}

	// Every rejection reads identically, so the response leaks nothing about
	// which check failed.
	for i := 1; i < len(bodies); i++ {
		if bodies[i] != bodies[0] {
			t.Fatalf("rejection bodies differ: %q vs %q", bodies[0], bodies[i])
		}
	}
}

func TestCSRFRequiresMatchingHeader(t *testing.T) {
	h := CSRF(okHandler())

	// Cookie-less clients pass untouched.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("no-cookie status=%d want 200", rec.Code)
	}

	// Cookie without header is rejected.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: security.CookieCSRFToken, Value: "tok"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("missing-header status=%d want 403", rec.Code)
	}

	// Matching header passes.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: security.CookieCSRFToken, Value: "tok"})
	req.Header.Set("X-CSRF-Token", "tok")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("matching status=%d want 200", rec.Code)
	}

	// Safe methods are exempt.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.AddCookie(&http.Cookie{Name: security.CookieCSRFToken, Value: "tok"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("safe-method status=%d want 200", rec.Code)
	}
}

func TestCORSOnlyEchoesAllowedOrigins(t *testing.T) {
	h := CORS([]string{"http://localhost:3000"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatal("allowed origin must be echoed")
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("credentials must be allowed for the allowed origin")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unknown origin must not be echoed")
	}
}

func TestBodyLimitRejectsOversizedPayload(t *testing.T) {
	h := BodyLimit(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var v map[string]any
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"k":"v"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized body status=%d want 400", rec.Code)
	}

	small := BodyLimit(1024)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var v map[string]any
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"k":"v"}`))
	rec = httptest.NewRecorder()
	small.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("within-limit body status=%d want 200", rec.Code)
	}
}
