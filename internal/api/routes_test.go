package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/A-Ravioli/donna/internal/audit"
	"github.com/A-Ravioli/donna/internal/auth"
	"github.com/A-Ravioli/donna/internal/config"
	"github.com/A-Ravioli/donna/internal/database"
	"github.com/A-Ravioli/donna/internal/models"
	"github.com/A-Ravioli/donna/internal/repository/sqlstore"
	"github.com/A-Ravioli/donna/internal/services"
	"github.com/A-Ravioli/donna/internal/userlock"
	"github.com/A-Ravioli/donna/internal/webhook"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v76/webhook"
)

const (
	testAdminToken   = "admin-secret"
	testBridgeSecret = "bridge-secret"
	testStripeSecret = "whsec_test"
)

type echoModel struct{}

func (echoModel) Invoke(ctx context.Context, bundle *models.ContextBundle) (*models.ModelReply, error) {
	return &models.ModelReply{Text: "echo: " + bundle.NewMessage.Body}, nil
}

type testServer struct {
	app   *fiber.App
	store *sqlstore.Store
	sink  *audit.MemorySink
}

func newTestServer(t *testing.T, adminToken string) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := sqlstore.New(db.DB)

	cfg := &config.Config{
		Server: config.ServerConfig{ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second},
		Memory: config.MemoryConfig{RecentLimit: 10, SummaryThreshold: 10, SummaryTokenBudget: 2000},
		Assistant: config.AssistantConfig{
			ReplyTimeout:  time.Second,
			FallbackReply: config.DefaultFallbackReply,
		},
		Bridge: config.BridgeConfig{WebhookSecret: testBridgeSecret},
		Stripe: config.StripeConfig{WebhookSecret: testStripeSecret},
		API:    config.APIConfig{AdminToken: adminToken, RateLimit: 1000},
	}

	sink := audit.NewMemorySink(100)
	auditLog := audit.NewService(logger, sink)

	svc := services.NewServices(services.Dependencies{
		Config:   cfg,
		Store:    store,
		Model:    echoModel{},
		Locker:   userlock.New(time.Minute, nil, logger),
		Verifier: auth.NewStripeVerifier(cfg.Stripe.WebhookSecret, 0),
		Audit:    auditLog,
		Logger:   logger,
	})
	t.Cleanup(svc.Orchestrator.Wait)
	svc.Health.Register("database", func(ctx context.Context) error { return db.PingContext(ctx) })

	router := webhook.NewRouter(auditLog, logger)
	svc.RegisterWebhooks(router)

	app := NewApp(cfg, logger)
	SetupRoutes(app, cfg, svc, router, auditLog)
	return &testServer{app: app, store: store, sink: sink}
}

func (s *testServer) do(t *testing.T, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]interface{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(body, &decoded))
	}
	return resp.StatusCode, decoded
}

func bridgeMessage(text string) string {
	return fmt.Sprintf(`{"type":"new-message","data":{"guid":"g1","text":%q,"handle":{"address":"+15550001"}}}`, text)
}

func TestNewMessageEndpoint(t *testing.T) {
	s := newTestServer(t, testAdminToken)

	tests := []struct {
		name   string
		target string
		header string
		body   string
		want   int
	}{
		{name: "missing secret", target: "/new_message", body: bridgeMessage("hi"), want: http.StatusUnauthorized},
		{name: "wrong secret", target: "/new_message?password=nope", body: bridgeMessage("hi"), want: http.StatusUnauthorized},
		{name: "query secret", target: "/new_message?password=" + testBridgeSecret, body: bridgeMessage("hi"), want: http.StatusOK},
		{name: "header secret", target: "/new_message", header: testBridgeSecret, body: bridgeMessage("again"), want: http.StatusOK},
		{name: "malformed payload", target: "/new_message", header: testBridgeSecret, body: `{"type":`, want: http.StatusBadRequest},
		{name: "no sender", target: "/new_message", header: testBridgeSecret, body: `{"type":"new-message","data":{"text":"hi"}}`, want: http.StatusBadRequest},
		{name: "legacy path", target: "/webhook", header: testBridgeSecret, body: bridgeMessage("legacy"), want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			if tt.header != "" {
				req.Header.Set("X-Bridge-Token", tt.header)
			}
			status, _ := s.do(t, req)
			assert.Equal(t, tt.want, status)
		})
	}

	msgs, err := s.store.RecentMessages(context.Background(), "+15550001", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 6)
	assert.Equal(t, "hi", msgs[0].Body)
	assert.Equal(t, "echo: hi", msgs[1].Body)
}

func TestStripeEndpoint(t *testing.T) {
	s := newTestServer(t, testAdminToken)
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","api_version":"2023-10-16","created":1700000000,"data":{"object":{"object":"checkout.session","client_reference_id":"+15550001"}}}`)

	// Without a signature the payment endpoint rejects the request and records nothing
	req := httptest.NewRequest(http.MethodPost, "/webhook/stripe", strings.NewReader(string(payload)))
	status, body := s.do(t, req)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, body["error"])

	events, err := s.store.SubscriptionEvents(context.Background(), "+15550001")
	require.NoError(t, err)
	assert.Empty(t, events)

	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testStripeSecret,
		Timestamp: time.Now(),
	})

	for i, path := range []string{"/webhook/stripe", "/stripe-webhook"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(signed.Payload)))
		req.Header.Set("Stripe-Signature", signed.Header)
		status, body := s.do(t, req)
		require.Equal(t, http.StatusOK, status)

		result := body["result"].(map[string]interface{})
		if i == 0 {
			assert.Equal(t, "accepted", result["result"])
		} else {
			assert.Equal(t, "duplicate", result["result"])
		}
	}

	user, err := s.store.GetUser(context.Background(), "+15550001")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, user.SubscriptionStatus)

	req = httptest.NewRequest(http.MethodPost, "/webhook/stripe", strings.NewReader(string(signed.Payload)))
	req.Header.Set("Stripe-Signature", "t=1,v1=forged")
	status, _ = s.do(t, req)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestOAuthCallbackWithoutIntegrations(t *testing.T) {
	s := newTestServer(t, testAdminToken)

	status, _ := s.do(t, httptest.NewRequest(http.MethodGet, "/oauth/callback?code=abc&state=xyz", nil))
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.do(t, httptest.NewRequest(http.MethodGet, "/oauth/callback", nil))
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, testAdminToken)

	status, body := s.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "donna_http_requests_total")
}

func TestAdminAPI(t *testing.T) {
	s := newTestServer(t, testAdminToken)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.store.Append(ctx, "+15550001", models.Message{Role: models.RoleUser, Body: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}

	authed := func(method, target string) *http.Request {
		req := httptest.NewRequest(method, target, nil)
		req.Header.Set("Authorization", "Bearer "+testAdminToken)
		return req
	}

	status, _ := s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/users/%2B15550001/messages", nil))
	assert.Equal(t, http.StatusUnauthorized, status)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/%2B15550001/messages", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	status, _ = s.do(t, req)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := s.do(t, authed(http.MethodGet, "/api/v1/users/%2B15550001/messages?limit=2"))
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["count"])
	messages := body["messages"].([]interface{})
	assert.Equal(t, "m2", messages[1].(map[string]interface{})["body"])

	status, body = s.do(t, authed(http.MethodGet, "/api/v1/users/%2B15550001/summaries"))
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["summaries"])

	status, body = s.do(t, authed(http.MethodGet, "/api/v1/users/%2B15550001"))
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 3, body["message_count"])

	status, body = s.do(t, authed(http.MethodGet, "/api/v1/users/%2B19999999/messages"))
	assert.Equal(t, http.StatusNotFound, status)
	assert.EqualValues(t, http.StatusNotFound, body["code"])

	var adminEvents int
	for _, event := range s.sink.Events() {
		if event.EventType == audit.EventAdminAction {
			adminEvents++
		}
	}
	assert.Equal(t, 4, adminEvents, "requests rejected by auth are not audited")
}

func TestAdminAPIDisabledWithoutToken(t *testing.T) {
	s := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/%2B15550001/messages", nil)
	req.Header.Set("Authorization", "Bearer anything")
	status, _ := s.do(t, req)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("wrap: %w", models.ErrValidation), http.StatusBadRequest},
		{models.ErrUnclassifiedEvent, http.StatusBadRequest},
		{models.ErrNotFound, http.StatusNotFound},
		{models.ErrDuplicateEvent, http.StatusOK},
		{models.ErrUpstreamTimeout, http.StatusGatewayTimeout},
		{models.ErrUpstreamUnavailable, http.StatusBadGateway},
		{fmt.Errorf("%w: disk full", models.ErrPersistence), http.StatusInternalServerError},
		{errors.New("unknown"), http.StatusInternalServerError},
		{fiber.NewError(http.StatusTeapot, "teapot"), http.StatusTeapot},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), fmt.Sprint(tt.err))
	}
}
