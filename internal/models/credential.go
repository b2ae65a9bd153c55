package models

import "time"

// UnlockType names the path through which a credential was earned.
type UnlockType string

const (
	UnlockCode     UnlockType = "code"
	UnlockAd       UnlockType = "ad"
	UnlockDonation UnlockType = "donation"
)

// Valid reports whether t is one of the known unlock paths.
func (t UnlockType) Valid() bool {
	return t == UnlockCode || t == UnlockAd || t == UnlockDonation
}

// IssuedCredential is the bookkeeping record kept for an issued credential.
// It is never consulted to decide whether a credential is valid.
type IssuedCredential struct {
	JTI       string     `json:"jti"`
	Type      UnlockType `json:"type"`
	Slug      string     `json:"slug"`
	IssuedAt  time.Time  `json:"issuedAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
	LastUsed  *time.Time `json:"lastUsed,omitempty"`
	Uses      int64      `json:"uses"`
	Revoked   bool       `json:"revoked"`
}
