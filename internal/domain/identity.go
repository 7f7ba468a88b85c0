package domain

import "time"

const (
	IdentityStatusActive      = "active"
	IdentityStatusDeactivated = "deactivated"
)

// Identity is a local account. PasswordHash is empty for OAuth-only
// identities. Identities are never hard-deleted, only deactivated.
type Identity struct {
	ID           uint                `gorm:"primaryKey" json:"id"`
	Email        string              `gorm:"size:320;uniqueIndex;not null" json:"email"`
	Name         string              `gorm:"size:256" json:"name"`
	PictureURL   string              `gorm:"size:512" json:"picture_url,omitempty"`
	PasswordHash string              `gorm:"size:128" json:"-"`
	Status       string              `gorm:"size:32;not null;default:active" json:"status"`
	Providers    []FederatedIdentity `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

func (i *Identity) Deactivated() bool { return i.Status == IdentityStatusDeactivated }

// FederatedIdentity binds a third-party subject to a local identity.
// (provider, subject) is unique: one Google account maps to exactly one
// local account.
type FederatedIdentity struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	IdentityID uint      `gorm:"index;not null;uniqueIndex:idx_provider_identity,priority:2" json:"identity_id"`
	Provider   string    `gorm:"size:32;not null;uniqueIndex:idx_provider_subject,priority:1;uniqueIndex:idx_provider_identity,priority:1" json:"provider"`
	Subject    string    `gorm:"size:255;not null;uniqueIndex:idx_provider_subject,priority:2" json:"subject"`
	Email      string    `gorm:"size:320" json:"email"`
	CreatedAt  time.Time `json:"created_at"`
}

const ProviderGoogle = "google"
