package models

import "time"

// Platform groups integrations by the kind of service they reach
type Platform string

const (
	PlatformEmail     Platform = "email"
	PlatformCalendar  Platform = "calendar"
	PlatformTransport Platform = "transport"
	PlatformFood      Platform = "food"
	PlatformMessaging Platform = "messaging"
)

// Platforms lists every platform a user can connect
var Platforms = []Platform{PlatformEmail, PlatformCalendar, PlatformTransport, PlatformFood, PlatformMessaging}

// ParsePlatform validates a platform name typed by a user
func ParsePlatform(s string) (Platform, bool) {
	for _, p := range Platforms {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// CredentialStatus is the lifecycle state of an integration credential
type CredentialStatus string

const (
	CredentialUnset       CredentialStatus = "unset"
	CredentialPendingAuth CredentialStatus = "pending-auth"
	CredentialActive      CredentialStatus = "active"
	CredentialExpired     CredentialStatus = "expired"
	CredentialRevoked     CredentialStatus = "revoked"
)

// IntegrationCredential holds a user's sealed token for one platform.
// Sealed is the base64 secretbox envelope, never the raw token.
type IntegrationCredential struct {
	UserID    string           `json:"user_id" db:"user_id"`
	Platform  Platform         `json:"platform" db:"platform"`
	Sealed    string           `json:"-" db:"sealed_token"`
	Status    CredentialStatus `json:"status" db:"status"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty" db:"expires_at"`
	UpdatedAt time.Time        `json:"updated_at" db:"updated_at"`
}

// Usable reports whether the credential can be used at the given time
func (c *IntegrationCredential) Usable(now time.Time) bool {
	if c == nil || c.Status != CredentialActive {
		return false
	}
	return c.ExpiresAt == nil || c.ExpiresAt.After(now)
}
