package domain

import "time"

// Session is the ephemeral cache entry mirroring one refresh-token family.
// It lives in the fast store with a TTL and may be dropped at any time; the
// refresh-token ledger remains the source of truth for authorization.
type Session struct {
	ID         string    `json:"id"`
	IdentityID uint      `json:"identity_id"`
	FamilyID   string    `json:"family_id"`
	UserAgent  string    `json:"user_agent"`
	IP         string    `json:"ip"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}
