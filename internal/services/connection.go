package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/A-Ravioli/donna/internal/audit"
	"github.com/A-Ravioli/donna/internal/auth"
	"github.com/A-Ravioli/donna/internal/models"
	"github.com/A-Ravioli/donna/internal/repository"
	"github.com/sirupsen/logrus"
)

// Notifier delivers an outbound text to a user
type Notifier interface {
	Send(ctx context.Context, userID, text string) error
}

// ConnectionService runs the OAuth connect flow for integration platforms
type ConnectionService struct {
	store     repository.ConversationStore
	states    *auth.StateService
	exchanger auth.TokenExchanger
	sealer    *auth.Sealer
	notifier  Notifier
	audit     audit.Logger
	logger    *logrus.Logger
}

// NewConnectionService creates the connection service. notifier and auditLog may be nil.
func NewConnectionService(
	store repository.ConversationStore,
	states *auth.StateService,
	exchanger auth.TokenExchanger,
	sealer *auth.Sealer,
	notifier Notifier,
	auditLog audit.Logger,
	logger *logrus.Logger,
) *ConnectionService {
	return &ConnectionService{
		store:     store,
		states:    states,
		exchanger: exchanger,
		sealer:    sealer,
		notifier:  notifier,
		audit:     auditLog,
		logger:    logger,
	}
}

// Connect issues a state token, marks the credential pending and returns the consent URL
func (s *ConnectionService) Connect(ctx context.Context, userID string, platform models.Platform) (string, error) {
	state, err := s.states.Issue(userID, platform)
	if err != nil {
		return "", err
	}
	url, err := s.exchanger.AuthCodeURL(platform, state)
	if err != nil {
		return "", err
	}
	if err := s.store.SetCredentialStatus(ctx, userID, platform, models.CredentialPendingAuth); err != nil {
		return "", err
	}
	return url, nil
}

// Disconnect revokes a user's credential for platform
func (s *ConnectionService) Disconnect(ctx context.Context, userID string, platform models.Platform) error {
	if err := s.store.SetCredentialStatus(ctx, userID, platform, models.CredentialRevoked); err != nil {
		return err
	}
	s.record(ctx, audit.EventCredentialRevoked, userID, platform)
	return nil
}

// Complete handles the OAuth callback: the state is consumed, the code exchanged
// and the sealed token stored as the active credential.
func (s *ConnectionService) Complete(ctx context.Context, code, state string) (*models.IntegrationCredential, error) {
	if code == "" || state == "" {
		return nil, fmt.Errorf("%w: code and state are required", models.ErrValidation)
	}

	claims, err := s.states.Consume(state)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}

	token, err := s.exchanger.Exchange(ctx, claims.Platform, code)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token: %w", err)
	}
	sealed, err := s.sealer.Seal(raw)
	if err != nil {
		return nil, err
	}

	cred := models.IntegrationCredential{
		UserID:   claims.UserID,
		Platform: claims.Platform,
		Sealed:   sealed,
		Status:   models.CredentialActive,
	}
	if !token.Expiry.IsZero() && token.RefreshToken == "" {
		expiry := token.Expiry
		cred.ExpiresAt = &expiry
	}
	if err := s.store.UpsertCredential(ctx, cred); err != nil {
		return nil, err
	}

	s.record(ctx, audit.EventCredentialConnected, claims.UserID, claims.Platform)
	s.logger.WithFields(logrus.Fields{
		"user_id":  claims.UserID,
		"platform": string(claims.Platform),
	}).Info("Integration connected")

	if s.notifier != nil {
		text := fmt.Sprintf("Your %s is connected. Just ask when you need it.", claims.Platform)
		if err := s.notifier.Send(ctx, claims.UserID, text); err != nil {
			s.logger.WithError(err).Warn("Failed to notify user of new connection")
		}
	}
	return &cred, nil
}

func (s *ConnectionService) record(ctx context.Context, eventType audit.EventType, userID string, platform models.Platform) {
	if s.audit == nil {
		return
	}
	event := audit.NewEvent(eventType, "")
	event.UserID = userID
	event.Resource = string(platform)
	event.Result = "success"
	if err := s.audit.Log(ctx, event); err != nil {
		s.logger.WithError(err).Warn("Failed to write audit event")
	}
}
