package services

import (
	"context"
	"fmt"

	"github.com/A-Ravioli/donna/internal/audit"
	"github.com/A-Ravioli/donna/internal/auth"
	"github.com/A-Ravioli/donna/internal/config"
	"github.com/A-Ravioli/donna/internal/models"
	"github.com/A-Ravioli/donna/internal/repository"
	"github.com/A-Ravioli/donna/internal/webhook"
	"github.com/sirupsen/logrus"
)

// Dependencies are the collaborators the services are built from. Optional
// collaborators may be nil: Actions, Sender, Audit, and the OAuth trio
// States, Exchanger and Sealer, which must be set together.
type Dependencies struct {
	Config     *config.Config
	Store      repository.ConversationStore
	Model      Model
	Summarizer Summarizer
	Annotator  Annotator
	Actions    ActionDispatcher
	Locker     UserLocker
	Sender     Notifier
	Verifier   EventVerifier
	States     *auth.StateService
	Exchanger  auth.TokenExchanger
	Sealer     *auth.Sealer
	Audit      audit.Logger
	Logger     *logrus.Logger
}

// Services holds all service instances
type Services struct {
	// Primary entry point for conversational turns
	Orchestrator *OrchestrationService

	Store       repository.ConversationStore
	Memory      *MemoryManager
	Commands    *CommandService
	Inbound     *InboundService
	Billing     *BillingService
	Connections *ConnectionService // nil when OAuth is not configured
	Sweeper     *CredentialSweeper
	Health      *HealthMonitor
}

// NewServices creates all service instances
func NewServices(deps Dependencies) *Services {
	cfg := deps.Config

	memory := NewMemoryManager(deps.Store, deps.Summarizer, deps.Annotator, cfg.Memory, deps.Logger)

	var connections *ConnectionService
	if deps.States != nil && deps.Exchanger != nil && deps.Sealer != nil {
		connections = NewConnectionService(deps.Store, deps.States, deps.Exchanger, deps.Sealer, deps.Sender, deps.Audit, deps.Logger)
	}

	commands := NewCommandService(deps.Store, connections, cfg.Assistant, deps.Logger)
	orchestrator := NewOrchestrationService(
		deps.Store,
		memory,
		deps.Model,
		deps.Actions,
		deps.Locker,
		commands,
		cfg.Assistant,
		deps.Logger,
	)

	return &Services{
		Orchestrator: orchestrator,
		Store:        deps.Store,
		Memory:       memory,
		Commands:     commands,
		Inbound:      NewInboundService(orchestrator, deps.Sender, deps.Logger),
		Billing:      NewBillingService(deps.Store, deps.Verifier, deps.Sender, deps.Audit, cfg.Stripe, deps.Logger),
		Connections:  connections,
		Sweeper:      NewCredentialSweeper(deps.Store, cfg.OAuth.ExpirySweep, deps.Logger),
		Health:       NewHealthMonitor(),
	}
}

// RegisterWebhooks binds each webhook kind to its service
func (s *Services) RegisterWebhooks(router *webhook.Router) {
	router.Handle(webhook.KindBilling, func(ctx context.Context, env *webhook.Envelope) (interface{}, error) {
		return s.Billing.HandleWebhook(ctx, env.Payload, env.Signature)
	})

	router.Handle(webhook.KindAuthCallback, func(ctx context.Context, env *webhook.Envelope) (interface{}, error) {
		if s.Connections == nil {
			return nil, fmt.Errorf("%w: integrations are not configured", models.ErrValidation)
		}
		cred, err := s.Connections.Complete(ctx, env.Code, env.State)
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"status":   string(cred.Status),
			"platform": string(cred.Platform),
		}, nil
	})

	router.Handle(webhook.KindMessage, func(ctx context.Context, env *webhook.Envelope) (interface{}, error) {
		return s.Inbound.HandleEvent(ctx, env.Message)
	})
}
