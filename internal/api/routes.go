package api

import (
	"strings"
	"time"

	"github.com/A-Ravioli/donna/internal/api/handlers"
	"github.com/A-Ravioli/donna/internal/api/middleware"
	"github.com/A-Ravioli/donna/internal/audit"
	"github.com/A-Ravioli/donna/internal/config"
	"github.com/A-Ravioli/donna/internal/metrics"
	"github.com/A-Ravioli/donna/internal/services"
	"github.com/A-Ravioli/donna/internal/webhook"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"
)

// NewApp creates the Fiber app with the shared middleware stack
func NewApp(cfg *config.Config, logger *logrus.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Donna",
		ErrorHandler:          ErrorHandler(logger),
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		DisableStartupMessage: true,
		UnescapePath:          true,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.RequestLogger(logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins: getOrigins(cfg.API.CORSOrigins),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	return app
}

// SetupRoutes configures all routes
func SetupRoutes(app *fiber.App, cfg *config.Config, svc *services.Services, router *webhook.Router, auditLog audit.Logger) {
	app.Get("/health", handlers.Health(svc))
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	// Inbound webhooks
	limit := middleware.WebhookRateLimit(0)
	bridgeAuth := middleware.BridgeSecret(cfg.Bridge.WebhookSecret)
	app.Post("/new_message", limit, bridgeAuth, handlers.Webhook(router, webhook.KindMessage))
	app.Post("/webhook", limit, bridgeAuth, handlers.Webhook(router, webhook.KindMessage, webhook.KindBilling, webhook.KindAuthCallback))
	app.Get("/webhook", limit, handlers.Webhook(router, webhook.KindAuthCallback))
	app.Post("/webhook/stripe", limit, handlers.Webhook(router, webhook.KindBilling))
	app.Post("/stripe-webhook", limit, handlers.Webhook(router, webhook.KindBilling))
	app.Get("/oauth/callback", limit, handlers.Webhook(router, webhook.KindAuthCallback))

	// Operator API
	api := app.Group("/api/v1",
		middleware.APIRateLimit(cfg.API.RateLimit, 1*time.Minute),
		middleware.AdminAuth(cfg.API.AdminToken),
	)
	if auditLog != nil {
		api.Use(middleware.AuditMiddleware(middleware.AuditConfig{Logger: auditLog}))
	}
	api.Get("/users/:id", handlers.GetUser(svc))
	api.Get("/users/:id/messages", handlers.GetUserMessages(svc))
	api.Get("/users/:id/summaries", handlers.GetUserSummaries(svc))
}

func getOrigins(origins string) string {
	origins = strings.TrimSpace(origins)
	if origins == "" {
		return "*"
	}
	return origins
}
