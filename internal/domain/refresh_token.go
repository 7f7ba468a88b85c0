package domain

import "time"

const (
	RefreshTokenStatusActive  = "active"
	RefreshTokenStatusRotated = "rotated"
	RefreshTokenStatusRevoked = "revoked"
)

// RefreshToken is one link in a rotation family. The raw secret is never
// stored; SecretHash is an HMAC of it. At most one row per family may be
// active at any time.
type RefreshToken struct {
	ID            string     `gorm:"primaryKey;size:64" json:"id"`
	IdentityID    uint       `gorm:"index;not null" json:"identity_id"`
	SecretHash    string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	FamilyID      string     `gorm:"size:64;index;not null" json:"family_id"`
	ParentID      *string    `gorm:"size:64;index" json:"parent_id,omitempty"`
	Status        string     `gorm:"size:16;index;not null;default:active" json:"status"`
	UserAgent     string     `gorm:"size:512" json:"user_agent"`
	IP            string     `gorm:"size:64" json:"ip"`
	IssuedAt      time.Time  `gorm:"not null" json:"issued_at"`
	ExpiresAt     time.Time  `gorm:"index;not null" json:"expires_at"`
	RevokedAt     *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	RevokedReason *string    `gorm:"size:64" json:"revoked_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (t *RefreshToken) Active() bool {
	return t.Status == RefreshTokenStatusActive
}

func (t *RefreshToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}
