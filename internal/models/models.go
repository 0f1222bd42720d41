package models

import "time"

type User struct {
	ID           int64
	Username     string
	Email        string
	PassHash     string
	FirstName    string
	LastName     string
	IsActive     bool
	TokenVersion int32
	LastLogin    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RefreshToken is one row of the refresh-token ledger. Rows are only ever
// inserted or flagged revoked, never deleted, so the ledger doubles as an
// audit trail of issued sessions.
type RefreshToken struct {
	ID            int64
	UserID        int64
	Token         string
	TokenVersion  int32
	IssuedAt      time.Time
	ExpiresAt     time.Time
	Revoked       bool
	RevokedReason string
	IPAddress     string
	UserAgent     string
}

// IsExpired reports whether the token is past its expiry.
func (rt *RefreshToken) IsExpired() bool {
	return !rt.ExpiresAt.After(time.Now())
}

type SecurityEvent struct {
	Event      string    `json:"event"`
	UserID     int64     `json:"user_id"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
