package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/A-Ravioli/donna/internal/models"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeVerifier checks Stripe-Signature headers against the endpoint secret
type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewStripeVerifier creates a verifier; tolerance bounds the accepted timestamp skew
func NewStripeVerifier(secret string, tolerance time.Duration) *StripeVerifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeVerifier{secret: secret, tolerance: tolerance}
}

// Verify authenticates payload and decodes the event. Any signature problem is ErrValidation.
func (v *StripeVerifier) Verify(payload []byte, signature string) (stripe.Event, error) {
	if v.secret == "" {
		return stripe.Event{}, errors.New("stripe webhook secret is not configured")
	}
	if signature == "" {
		return stripe.Event{}, fmt.Errorf("%w: missing Stripe-Signature header", models.ErrValidation)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	return event, nil
}
