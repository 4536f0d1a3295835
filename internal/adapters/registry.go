package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/A-Ravioli/donna/internal/metrics"
	"github.com/A-Ravioli/donna/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// CredentialSource loads a user's credential for a platform
type CredentialSource interface {
	GetCredential(ctx context.Context, userID string, platform models.Platform) (*models.IntegrationCredential, error)
}

// Unsealer opens sealed credential envelopes
type Unsealer interface {
	Open(envelope string) ([]byte, error)
}

// Registry maps intent types to adapters and gates every call on a usable credential
type Registry struct {
	adapters    map[models.IntentType]Adapter
	mu          sync.RWMutex
	credentials CredentialSource
	sealer      Unsealer
	logger      *logrus.Logger
	now         func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry(credentials CredentialSource, sealer Unsealer, logger *logrus.Logger) *Registry {
	return &Registry{
		adapters:    make(map[models.IntentType]Adapter),
		credentials: credentials,
		sealer:      sealer,
		logger:      logger,
		now:         time.Now,
	}
}

// Register adds an adapter for an intent type, replacing any previous one
func (r *Registry) Register(intent models.IntentType, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[intent] = adapter
}

// Get retrieves the adapter for an intent type
func (r *Registry) Get(intent models.IntentType) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[intent]
	if !ok {
		return nil, fmt.Errorf("%w: no adapter for intent %s", models.ErrNotFound, intent)
	}
	return adapter, nil
}

// List returns all registered intent types
func (r *Registry) List() []models.IntentType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.IntentType, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Dispatch executes an intent for its user. Missing adapters and unusable
// credentials are reported as an unsuccessful result, not an error.
func (r *Registry) Dispatch(ctx context.Context, intent models.ActionIntent) (*models.ActionResult, error) {
	platform := intent.Type.Platform()
	fields := logrus.Fields{
		"user_id":  intent.UserID,
		"intent":   intent.Type,
		"platform": platform,
	}

	adapter, err := r.Get(intent.Type)
	if err != nil {
		metrics.ActionsTotal.WithLabelValues(string(intent.Type), "unsupported").Inc()
		return &models.ActionResult{OK: false, Message: "I can't do that yet."}, nil
	}

	cred, err := r.credentials.GetCredential(ctx, intent.UserID, platform)
	if err != nil {
		metrics.ActionsTotal.WithLabelValues(string(intent.Type), "error").Inc()
		return nil, fmt.Errorf("failed to load %s credential: %w", platform, err)
	}
	if !cred.Usable(r.now()) {
		metrics.ActionsTotal.WithLabelValues(string(intent.Type), "needs_auth").Inc()
		r.logger.WithFields(fields).Info("Action blocked on missing credential")
		return &models.ActionResult{
			OK:      false,
			Message: fmt.Sprintf("I need access to your %s first. Text \"/connect %s\" to set it up.", platform, platform),
		}, nil
	}

	token, err := r.accessToken(cred)
	if err != nil {
		metrics.ActionsTotal.WithLabelValues(string(intent.Type), "error").Inc()
		return nil, err
	}

	result, err := adapter.Execute(WithToken(ctx, token), intent)
	if err != nil {
		metrics.ActionsTotal.WithLabelValues(string(intent.Type), "error").Inc()
		r.logger.WithFields(fields).WithError(err).Warn("Action failed")
		return nil, err
	}

	outcome := "success"
	if !result.OK {
		outcome = "rejected"
	}
	metrics.ActionsTotal.WithLabelValues(string(intent.Type), outcome).Inc()
	r.logger.WithFields(fields).WithField("ok", result.OK).Info("Action executed")
	return result, nil
}

func (r *Registry) accessToken(cred *models.IntegrationCredential) (string, error) {
	raw, err := r.sealer.Open(cred.Sealed)
	if err != nil {
		return "", fmt.Errorf("credential for %s: %w", cred.Platform, err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return "", fmt.Errorf("credential for %s is malformed: %w", cred.Platform, err)
	}
	return token.AccessToken, nil
}
