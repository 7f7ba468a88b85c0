package security

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestManager() *JWTManager {
	return NewJWTManager("test-issuer", "test-audience", "test-secret-key-that-is-32-bytes!")
}

func TestSignAndParseAccessToken(t *testing.T) {
	m := newTestManager()
	raw, err := m.SignAccessToken(42, "fam-1", "sess-1", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := m.ParseAccessToken(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "42" {
		t.Fatalf("subject=%q want %q", claims.Subject, "42")
	}
	if claims.FamilyID != "fam-1" {
		t.Fatalf("family=%q want fam-1", claims.FamilyID)
	}
	if claims.SessionID != "sess-1" {
		t.Fatalf("session=%q want sess-1", claims.SessionID)
	}
	if claims.TokenType != "access" {
		t.Fatalf("token_type=%q want access", claims.TokenType)
	}
	if claims.ID == "" {
		t.Fatal("expected a jti")
	}
}

func TestSignAccessTokenRejectsNonPositiveTTL(t *testing.T) {
	m := newTestManager()
	if _, err := m.SignAccessToken(1, "f", "s", 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
	if _, err := m.SignAccessToken(1, "f", "s", -time.Second); err == nil {
		t.Fatal("expected error for negative ttl")
	}
}

func TestParseExpiredToken(t *testing.T) {
	m := newTestManager()
	raw, err := m.SignAccessToken(1, "f", "s", time.Millisecond)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	_, err = m.ParseAccessToken(raw)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestParseMalformedToken(t *testing.T) {
	m := newTestManager()
	for _, raw := range []string{"", "garbage", "a.b.c"} {
		if _, err := m.ParseAccessToken(raw); !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("ParseAccessToken(%q): expected ErrTokenMalformed, got %v", raw, err)
		}
	}
}

func TestParseTamperedToken(t *testing.T) {
	m := newTestManager()
	raw, err := m.SignAccessToken(1, "f", "s", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	parts := strings.Split(raw, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := m.ParseAccessToken(tampered); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed for tampered signature, got %v", err)
	}
}

func TestParseRejectsForeignIssuerAndAudience(t *testing.T) {
	other := NewJWTManager("other-issuer", "test-audience", "test-secret-key-that-is-32-bytes!")
	raw, err := other.SignAccessToken(1, "f", "s", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := newTestManager().ParseAccessToken(raw); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed for wrong issuer, got %v", err)
	}

	otherAud := NewJWTManager("test-issuer", "other-audience", "test-secret-key-that-is-32-bytes!")
	raw, err = otherAud.SignAccessToken(1, "f", "s", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := newTestManager().ParseAccessToken(raw); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed for wrong audience, got %v", err)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	other := NewJWTManager("test-issuer", "test-audience", "another-secret-key-that-is-32-b!")
	raw, err := other.SignAccessToken(1, "f", "s", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := newTestManager().ParseAccessToken(raw); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed for wrong secret, got %v", err)
	}
}
