package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/A-Ravioli/donna/internal/auth"
	"github.com/A-Ravioli/donna/internal/config"
	"github.com/A-Ravioli/donna/internal/models"
	"github.com/A-Ravioli/donna/internal/repository/sqlstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

func stripeEvent(id, eventType string, object map[string]interface{}) stripe.Event {
	return stripe.Event{
		ID:      id,
		Type:    stripe.EventType(eventType),
		Created: time.Now().Unix(),
		Data:    &stripe.EventData{Object: object},
	}
}

func TestAttributeUser(t *testing.T) {
	tests := []struct {
		name   string
		object map[string]interface{}
		want   string
	}{
		{
			name: "metadata wins",
			object: map[string]interface{}{
				"metadata":            map[string]interface{}{"user_id": "+15550001"},
				"client_reference_id": "+15550002",
			},
			want: "+15550001",
		},
		{
			name:   "client reference id",
			object: map[string]interface{}{"client_reference_id": "+15550002"},
			want:   "+15550002",
		},
		{
			name: "customer phone before email",
			object: map[string]interface{}{
				"customer_details": map[string]interface{}{"phone": "+15550003", "email": "a@example.com"},
			},
			want: "+15550003",
		},
		{
			name: "customer email",
			object: map[string]interface{}{
				"customer_details": map[string]interface{}{"email": "a@example.com"},
			},
			want: "a@example.com",
		},
		{
			name:   "invoice customer email",
			object: map[string]interface{}{"customer_email": "b@example.com"},
			want:   "b@example.com",
		},
		{
			name:   "nothing to attribute",
			object: map[string]interface{}{"id": "cs_1"},
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, attributeUser(stripeEvent("evt", "invoice.paid", tt.object)))
		})
	}
}

func TestSubscriptionEventType(t *testing.T) {
	tests := []struct {
		stripeType string
		want       models.SubscriptionEventType
		ok         bool
	}{
		{"checkout.session.completed", models.EventActivated, true},
		{"checkout.session.async_payment_succeeded", models.EventActivated, true},
		{"invoice.paid", models.EventActivated, true},
		{"customer.subscription.created", models.EventActivated, true},
		{"checkout.session.async_payment_failed", models.EventPaymentFailed, true},
		{"invoice.payment_failed", models.EventPaymentFailed, true},
		{"customer.subscription.deleted", models.EventCancelled, true},
		{"customer.created", "", false},
	}

	for _, tt := range tests {
		got, ok := subscriptionEventType(tt.stripeType)
		assert.Equal(t, tt.ok, ok, tt.stripeType)
		assert.Equal(t, tt.want, got, tt.stripeType)
	}
}

func newTestBilling(t *testing.T, notify bool) (*BillingService, *fakeSender, *sqlstore.Store) {
	t.Helper()
	store := newTestStore(t)
	sender := &fakeSender{}
	cfg := config.StripeConfig{WebhookSecret: "whsec_test", Notify: notify}
	verifier := auth.NewStripeVerifier(cfg.WebhookSecret, time.Minute)
	return NewBillingService(store, verifier, sender, nil, cfg, testLogger()), sender, store
}

func TestBillingLifecycle(t *testing.T) {
	billing, sender, ref := newTestBilling(t, true)
	ctx := context.Background()
	user := map[string]interface{}{"client_reference_id": "+15550001"}

	outcome, err := billing.HandleEvent(ctx, stripeEvent("evt_1", "checkout.session.completed", user))
	require.NoError(t, err)
	assert.Equal(t, models.RecordAccepted, outcome.Result)
	assert.Equal(t, "+15550001", outcome.UserID)

	u, err := ref.GetUser(ctx, "+15550001")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, u.SubscriptionStatus)

	// Replays are duplicates and do not notify again
	outcome, err = billing.HandleEvent(ctx, stripeEvent("evt_1", "checkout.session.completed", user))
	require.NoError(t, err)
	assert.Equal(t, models.RecordDuplicate, outcome.Result)
	assert.Len(t, sender.Sent("+15550001"), 1)

	// Payment failures are recorded without a status change
	outcome, err = billing.HandleEvent(ctx, stripeEvent("evt_2", "invoice.payment_failed", user))
	require.NoError(t, err)
	assert.Equal(t, models.RecordAccepted, outcome.Result)
	u, err = ref.GetUser(ctx, "+15550001")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, u.SubscriptionStatus)

	_, err = billing.HandleEvent(ctx, stripeEvent("evt_3", "customer.subscription.deleted", map[string]interface{}{
		"metadata": map[string]interface{}{"user_id": "+15550001"},
	}))
	require.NoError(t, err)
	u, err = ref.GetUser(ctx, "+15550001")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionCancelled, u.SubscriptionStatus)

	events, err := ref.SubscriptionEvents(ctx, "+15550001")
	require.NoError(t, err)
	assert.Len(t, events, 3)
	assert.Len(t, sender.Sent("+15550001"), 2)
}

func TestBillingIgnoresUnhandledTypes(t *testing.T) {
	billing, _, ref := newTestBilling(t, false)

	outcome, err := billing.HandleEvent(context.Background(), stripeEvent("evt_9", "customer.created", map[string]interface{}{
		"client_reference_id": "+15550001",
	}))
	require.NoError(t, err)
	assert.True(t, outcome.Ignored)

	events, err := ref.SubscriptionEvents(context.Background(), "+15550001")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestBillingWebhookSignature(t *testing.T) {
	billing, _, ref := newTestBilling(t, false)
	ctx := context.Background()

	payload := []byte(`{"id":"evt_sig","object":"event","type":"invoice.paid","api_version":"2023-10-16","data":{"object":{"object":"invoice","customer_email":"a@example.com"}}}`)

	_, err := billing.HandleWebhook(ctx, payload, "")
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = billing.HandleWebhook(ctx, payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, models.ErrValidation)

	events, err := ref.SubscriptionEvents(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Empty(t, events, "no event is recorded without a valid signature")

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})
	outcome, err := billing.HandleWebhook(ctx, signed.Payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, models.RecordAccepted, outcome.Result)
	assert.Equal(t, "a@example.com", outcome.UserID)
}

func TestConnectionFlow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	states, err := auth.NewStateService("state-secret", time.Minute)
	require.NoError(t, err)
	sealer, err := auth.NewSealer("credential-key")
	require.NoError(t, err)
	exchanger := &stubExchanger{}
	sender := &fakeSender{}
	connections := NewConnectionService(store, states, exchanger, sealer, sender, nil, testLogger())

	url, err := connections.Connect(ctx, "+15550001", models.PlatformCalendar)
	require.NoError(t, err)
	assert.Contains(t, url, "https://auth.example.com/calendar?state=")

	cred, err := store.GetCredential(ctx, "+15550001", models.PlatformCalendar)
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, models.CredentialPendingAuth, cred.Status)

	state := exchanger.lastState
	cred, err = connections.Complete(ctx, "the-code", state)
	require.NoError(t, err)
	assert.Equal(t, models.CredentialActive, cred.Status)
	assert.Nil(t, cred.ExpiresAt, "refreshable tokens do not expire locally")

	stored, err := store.GetCredential(ctx, "+15550001", models.PlatformCalendar)
	require.NoError(t, err)
	assert.Equal(t, models.CredentialActive, stored.Status)
	assert.NotContains(t, stored.Sealed, "at-1")

	raw, err := sealer.Open(stored.Sealed)
	require.NoError(t, err)
	var token map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &token))
	assert.Equal(t, "at-1", token["access_token"])

	assert.Len(t, sender.Sent("+15550001"), 1)

	// State tokens are single use
	_, err = connections.Complete(ctx, "the-code", state)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = connections.Complete(ctx, "", "")
	assert.ErrorIs(t, err, models.ErrValidation)

	require.NoError(t, connections.Disconnect(ctx, "+15550001", models.PlatformCalendar))
	stored, err = store.GetCredential(ctx, "+15550001", models.PlatformCalendar)
	require.NoError(t, err)
	assert.Equal(t, models.CredentialRevoked, stored.Status)
}

func TestCredentialSweep(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour).UTC()
	future := time.Now().Add(time.Hour).UTC()
	require.NoError(t, store.UpsertCredential(ctx, models.IntegrationCredential{
		UserID: "+15550001", Platform: models.PlatformEmail, Sealed: "x", Status: models.CredentialActive, ExpiresAt: &past,
	}))
	require.NoError(t, store.UpsertCredential(ctx, models.IntegrationCredential{
		UserID: "+15550001", Platform: models.PlatformFood, Sealed: "y", Status: models.CredentialActive, ExpiresAt: &future,
	}))

	sweeper := NewCredentialSweeper(store, time.Minute, testLogger())
	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cred, err := store.GetCredential(ctx, "+15550001", models.PlatformEmail)
	require.NoError(t, err)
	assert.Equal(t, models.CredentialExpired, cred.Status)

	n, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
