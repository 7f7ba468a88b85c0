package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// NewStateToken returns the random value carried through the OAuth redirect.
func NewStateToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// SignState produces the cookie form "state.sig" so the callback can verify
// the state originated here without server-side storage.
func SignState(state, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(state))
	return state + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyState checks a signed cookie value against the state echoed by the
// provider.
func VerifyState(signed, state, key string) bool {
	i := strings.LastIndexByte(signed, '.')
	if i <= 0 || signed[:i] != state {
		return false
	}
	want := SignState(state, key)
	return hmac.Equal([]byte(signed), []byte(want))
}
