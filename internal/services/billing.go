package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/A-Ravioli/donna/internal/audit"
	"github.com/A-Ravioli/donna/internal/config"
	"github.com/A-Ravioli/donna/internal/models"
	"github.com/A-Ravioli/donna/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
)

// EventVerifier authenticates a signed payment webhook
type EventVerifier interface {
	Verify(payload []byte, signature string) (stripe.Event, error)
}

// BillingOutcome describes what happened to one payment webhook delivery
type BillingOutcome struct {
	EventID string                       `json:"event_id"`
	Type    models.SubscriptionEventType `json:"type,omitempty"`
	UserID  string                       `json:"user_id,omitempty"`
	Result  models.RecordResult          `json:"result,omitempty"`
	Ignored bool                         `json:"ignored,omitempty"`
}

// BillingService records subscription lifecycle events from Stripe
type BillingService struct {
	store    repository.ConversationStore
	verifier EventVerifier
	notifier Notifier
	audit    audit.Logger
	cfg      config.StripeConfig
	logger   *logrus.Logger
}

// NewBillingService creates the billing service. notifier and auditLog may be nil.
func NewBillingService(store repository.ConversationStore, verifier EventVerifier, notifier Notifier, auditLog audit.Logger, cfg config.StripeConfig, logger *logrus.Logger) *BillingService {
	return &BillingService{
		store:    store,
		verifier: verifier,
		notifier: notifier,
		audit:    auditLog,
		cfg:      cfg,
		logger:   logger,
	}
}

// HandleWebhook verifies the signature and records the event. A bad signature is
// ErrValidation and nothing is stored. Replays are acknowledged as duplicates.
func (s *BillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*BillingOutcome, error) {
	event, err := s.verifier.Verify(payload, signature)
	if err != nil {
		return nil, err
	}
	return s.HandleEvent(ctx, event)
}

// HandleEvent maps a verified Stripe event onto the subscription lifecycle
func (s *BillingService) HandleEvent(ctx context.Context, event stripe.Event) (*BillingOutcome, error) {
	if event.ID == "" {
		return nil, fmt.Errorf("%w: event id is required", models.ErrValidation)
	}

	outcome := &BillingOutcome{EventID: event.ID}
	logger := s.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": string(event.Type),
	})

	eventType, ok := subscriptionEventType(string(event.Type))
	if !ok {
		outcome.Ignored = true
		logger.Debug("Ignoring unhandled Stripe event type")
		return outcome, nil
	}
	outcome.Type = eventType
	outcome.UserID = attributeUser(event)

	created := time.Now().UTC()
	if event.Created > 0 {
		created = time.Unix(event.Created, 0).UTC()
	}

	result, err := s.store.RecordSubscriptionEvent(ctx, models.SubscriptionEvent{
		ProviderEventID: event.ID,
		UserID:          outcome.UserID,
		Type:            eventType,
		RawType:         string(event.Type),
		CreatedAt:       created,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to record subscription event")
		return nil, err
	}
	outcome.Result = result

	if result == models.RecordDuplicate {
		logger.Info("Duplicate Stripe event acknowledged")
		return outcome, nil
	}

	logger.WithFields(logrus.Fields{
		"user_id": outcome.UserID,
		"type":    string(eventType),
	}).Info("Subscription event recorded")

	if outcome.UserID == "" {
		logger.Warn("Stripe event has no attributable user")
		return outcome, nil
	}

	s.record(ctx, outcome)
	s.notify(ctx, outcome)
	return outcome, nil
}

func (s *BillingService) record(ctx context.Context, outcome *BillingOutcome) {
	if s.audit == nil {
		return
	}
	event := audit.NewEvent(audit.EventSubscriptionChanged, outcome.EventID)
	event.UserID = outcome.UserID
	event.Resource = "subscription"
	event.Result = string(outcome.Type)
	if err := s.audit.Log(ctx, event); err != nil {
		s.logger.WithError(err).Warn("Failed to write audit event")
	}
}

func (s *BillingService) notify(ctx context.Context, outcome *BillingOutcome) {
	if s.notifier == nil || !s.cfg.Notify {
		return
	}

	var text string
	switch outcome.Type {
	case models.EventActivated:
		text = "Your subscription is active. Text me anytime!"
	case models.EventCancelled:
		text = "Your subscription has been cancelled. I'll be here if you come back."
	default:
		return
	}

	if err := s.notifier.Send(ctx, outcome.UserID, text); err != nil {
		s.logger.WithFields(logrus.Fields{
			"user_id": outcome.UserID,
			"error":   err.Error(),
		}).Warn("Failed to notify user of subscription change")
	}
}

// subscriptionEventType maps Stripe event types onto the subscription lifecycle
func subscriptionEventType(stripeType string) (models.SubscriptionEventType, bool) {
	switch stripeType {
	case "checkout.session.completed",
		"checkout.session.async_payment_succeeded",
		"invoice.paid",
		"customer.subscription.created":
		return models.EventActivated, true
	case "checkout.session.async_payment_failed",
		"invoice.payment_failed":
		return models.EventPaymentFailed, true
	case "customer.subscription.deleted":
		return models.EventCancelled, true
	}
	return "", false
}

// attributeUser finds the user id on the event object. Checkout sessions carry it in
// metadata or client_reference_id; otherwise the customer phone or email is used.
func attributeUser(event stripe.Event) string {
	if event.Data == nil || event.Data.Object == nil {
		return ""
	}
	obj := event.Data.Object

	if metadata, ok := obj["metadata"].(map[string]interface{}); ok {
		if id := stringField(metadata, "user_id"); id != "" {
			return id
		}
	}
	if id := stringField(obj, "client_reference_id"); id != "" {
		return id
	}
	if details, ok := obj["customer_details"].(map[string]interface{}); ok {
		if phone := stringField(details, "phone"); phone != "" {
			return phone
		}
		if email := stringField(details, "email"); email != "" {
			return email
		}
	}
	if phone := stringField(obj, "customer_phone"); phone != "" {
		return phone
	}
	return stringField(obj, "customer_email")
}

func stringField(m map[string]interface{}, key string) string {
	v, ok := m[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}
