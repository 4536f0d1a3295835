package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/A-Ravioli/donna/internal/adapters"
	"github.com/A-Ravioli/donna/internal/api"
	"github.com/A-Ravioli/donna/internal/audit"
	"github.com/A-Ravioli/donna/internal/auth"
	"github.com/A-Ravioli/donna/internal/bridge"
	"github.com/A-Ravioli/donna/internal/config"
	"github.com/A-Ravioli/donna/internal/database"
	"github.com/A-Ravioli/donna/internal/llm"
	"github.com/A-Ravioli/donna/internal/models"
	"github.com/A-Ravioli/donna/internal/repository/sqlstore"
	"github.com/A-Ravioli/donna/internal/services"
	"github.com/A-Ravioli/donna/internal/userlock"
	"github.com/A-Ravioli/donna/internal/webhook"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := config.NewLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(db); err != nil {
			logger.WithError(err).Fatal("Failed to run migrations")
		}
	}

	store := sqlstore.New(db.DB, sqlstore.WithAutoCreateUsers(cfg.Memory.AutoCreateUsers))

	// Model
	llmClient, err := llm.NewClient(cfg.LLM, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create model client")
	}

	// Per-user turn serialization, across replicas when Redis is configured
	var dist *userlock.Distributed
	if cfg.Redis.URL != "" {
		dist, err = userlock.NewDistributed(ctx, cfg.Redis.URL, cfg.Redis.LockTTL, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer dist.Close()
	}
	locker := userlock.New(cfg.Assistant.LockIdleTTL, dist, logger)

	// Outbound messaging
	var sender services.Notifier
	if cfg.Bridge.ServerURL != "" {
		sender = bridge.NewClient(cfg.Bridge, logger)
	} else {
		logger.Warn("bridge.server_url is not set, replies will only be stored")
	}

	auditLog := audit.NewService(logger)

	deps := services.Dependencies{
		Config:     cfg,
		Store:      store,
		Model:      llm.NewModel(llmClient, logger),
		Summarizer: llm.NewSummarizer(llmClient),
		Annotator:  llm.NewAnnotator(llmClient),
		Locker:     locker,
		Sender:     sender,
		Verifier:   auth.NewStripeVerifier(cfg.Stripe.WebhookSecret, cfg.Stripe.Tolerance),
		Audit:      auditLog,
		Logger:     logger,
	}

	// Integrations
	if len(cfg.OAuth.Providers) > 0 {
		states, err := auth.NewStateService(cfg.OAuth.StateSecret, cfg.OAuth.StateTTL)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create OAuth state service")
		}
		exchanger, err := auth.NewOAuthExchanger(cfg.OAuth)
		if err != nil {
			logger.WithError(err).Fatal("Failed to configure OAuth providers")
		}
		sealer, err := auth.NewSealer(cfg.OAuth.CredentialKey)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create credential sealer")
		}
		deps.States, deps.Exchanger, deps.Sealer = states, exchanger, sealer

		registry := adapters.NewRegistry(store, sealer, logger)
		for name, endpoint := range cfg.Integrations.Endpoints {
			intent := models.IntentType(name)
			if !intent.Valid() {
				logger.WithField("intent", name).Warn("Ignoring integration endpoint for unknown intent")
				continue
			}
			registry.Register(intent, adapters.NewHTTPAdapter(endpoint, cfg.Integrations.Timeout))
		}
		deps.Actions = registry
		logger.WithField("intents", registry.List()).Info("Integrations configured")
	}

	svc := services.NewServices(deps)
	svc.Health.Register("database", func(ctx context.Context) error {
		return db.PingContext(ctx)
	})
	svc.Health.Register("model", llmClient.Healthy)
	if dist != nil {
		svc.Health.Register("redis", dist.Ping)
	}

	router := webhook.NewRouter(auditLog, logger)
	svc.RegisterWebhooks(router)

	// Background workers
	go locker.Run(ctx)
	go svc.Sweeper.Run(ctx)

	// Initialize Fiber app
	app := api.NewApp(cfg, logger)
	api.SetupRoutes(app, cfg, svc, router, auditLog)

	go func() {
		logger.WithField("addr", cfg.Server.Addr()).Info("Donna starting")
		if err := app.Listen(cfg.Server.Addr()); err != nil {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
	svc.Orchestrator.Wait()
}
