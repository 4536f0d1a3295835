package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SubscriptionStatus is the billing state of a user as recorded from payment webhooks
type SubscriptionStatus string

const (
	SubscriptionInactive  SubscriptionStatus = "inactive"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Valid reports whether s is a known subscription status
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionInactive, SubscriptionActive, SubscriptionCancelled:
		return true
	}
	return false
}

// User is a person talking to the assistant, identified by phone number or handle.
// Users are never hard-deleted; deactivation only changes the subscription status.
type User struct {
	ID                 string             `json:"id" db:"id"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status" db:"subscription_status"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
	Preferences        map[string]string  `json:"preferences,omitempty" db:"-"`
}

// StringMap is a string map stored as JSON text
type StringMap map[string]string

// Value implements driver.Valuer for StringMap
func (m StringMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for StringMap
func (m *StringMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringMap", value)
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}

	return json.Unmarshal(raw, m)
}
