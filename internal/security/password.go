package security

import "golang.org/x/crypto/bcrypt"

// dummy hash compared against when the identity does not exist, so the
// missing-account path costs the same as a wrong password.
const dummyPasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

func HashPassword(plain string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func VerifyPassword(hash, plain string) bool {
	if hash == "" {
		hash = dummyPasswordHash
		_ = bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
