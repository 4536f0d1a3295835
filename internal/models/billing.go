package models

import "time"

// SubscriptionEventType is the normalized kind of a payment-provider event
type SubscriptionEventType string

const (
	EventActivated     SubscriptionEventType = "activated"
	EventPaymentFailed SubscriptionEventType = "payment-failed"
	EventCancelled     SubscriptionEventType = "cancelled"
)

// Status returns the subscription status an event moves the user to, if any
func (t SubscriptionEventType) Status() (SubscriptionStatus, bool) {
	switch t {
	case EventActivated:
		return SubscriptionActive, true
	case EventCancelled:
		return SubscriptionCancelled, true
	}
	return "", false
}

// SubscriptionEvent is an append-only record of a payment webhook delivery.
// ProviderEventID is unique so replayed deliveries are detected.
type SubscriptionEvent struct {
	ProviderEventID string                `json:"provider_event_id" db:"provider_event_id"`
	UserID          string                `json:"user_id" db:"user_id"`
	Type            SubscriptionEventType `json:"type" db:"type"`
	RawType         string                `json:"raw_type" db:"raw_type"`
	CreatedAt       time.Time             `json:"created_at" db:"created_at"`
}

// RecordResult tells whether a subscription event was newly stored
type RecordResult string

const (
	RecordAccepted  RecordResult = "accepted"
	RecordDuplicate RecordResult = "duplicate"
)
