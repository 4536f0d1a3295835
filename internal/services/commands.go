package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/A-Ravioli/donna/internal/config"
	"github.com/A-Ravioli/donna/internal/models"
	"github.com/A-Ravioli/donna/internal/repository"
	"github.com/sirupsen/logrus"
)

const helpReply = `Here's what I understand:
/pref key=value - remember a preference
/prefs - list your preferences
/connect <platform> - connect email, calendar, transport, food or messaging
/disconnect <platform> - remove a connection
/status - show your subscription and connections`

// CommandService answers slash commands and the subscription codes without the model
type CommandService struct {
	store       repository.ConversationStore
	connections *ConnectionService
	cfg         config.AssistantConfig
	now         func() time.Time
	logger      *logrus.Logger
}

// NewCommandService creates the command handler. connections may be nil when OAuth is not configured.
func NewCommandService(store repository.ConversationStore, connections *ConnectionService, cfg config.AssistantConfig, logger *logrus.Logger) *CommandService {
	return &CommandService{
		store:       store,
		connections: connections,
		cfg:         cfg,
		now:         time.Now,
		logger:      logger,
	}
}

// Handle returns the reply for text when it is a command. Unknown slash commands
// are not handled and fall through to the model.
func (c *CommandService) Handle(ctx context.Context, user *models.User, text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}

	if c.cfg.ActivationCode != "" && text == c.cfg.ActivationCode {
		return c.setSubscription(ctx, user.ID, models.SubscriptionActive, "Your subscription is active. Welcome aboard!"), true
	}
	if c.cfg.DeactivationCode != "" && text == c.cfg.DeactivationCode {
		return c.setSubscription(ctx, user.ID, models.SubscriptionCancelled, "Your subscription has been cancelled."), true
	}

	if !strings.HasPrefix(text, "/") {
		return "", false
	}

	name, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/help":
		return helpReply, true
	case "/pref":
		return c.setPreference(ctx, user.ID, arg), true
	case "/prefs":
		return c.listPreferences(ctx, user.ID), true
	case "/connect":
		return c.connect(ctx, user.ID, arg), true
	case "/disconnect":
		return c.disconnect(ctx, user.ID, arg), true
	case "/status":
		return c.status(ctx, user), true
	}
	return "", false
}

func (c *CommandService) setSubscription(ctx context.Context, userID string, status models.SubscriptionStatus, reply string) string {
	if err := c.store.SetSubscriptionStatus(ctx, userID, status); err != nil {
		c.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"error":   err.Error(),
		}).Error("Failed to update subscription from code")
		return "I couldn't update your subscription right now. Please try again."
	}
	return reply
}

func (c *CommandService) setPreference(ctx context.Context, userID, arg string) string {
	key, value, ok := strings.Cut(arg, "=")
	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.TrimSpace(value)
	if !ok || key == "" || value == "" {
		return "Use /pref key=value, for example /pref diet=vegetarian"
	}
	if err := c.store.UpsertPreference(ctx, userID, key, value); err != nil {
		c.logger.WithError(err).Error("Failed to store preference")
		return "I couldn't save that right now. Please try again."
	}
	return fmt.Sprintf("Got it, I'll remember your %s is %s.", key, value)
}

func (c *CommandService) listPreferences(ctx context.Context, userID string) string {
	prefs, err := c.store.Preferences(ctx, userID)
	if err != nil {
		c.logger.WithError(err).Error("Failed to load preferences")
		return "I couldn't load your preferences right now."
	}
	if len(prefs) == 0 {
		return "I don't have any preferences saved yet. Use /pref key=value to add one."
	}

	keys := make([]string, 0, len(prefs))
	for k := range prefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("Your preferences:")
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, prefs[k])
	}
	return b.String()
}

func (c *CommandService) connect(ctx context.Context, userID, arg string) string {
	platform, ok := models.ParsePlatform(strings.ToLower(arg))
	if !ok {
		return "Tell me what to connect: " + platformList()
	}
	if c.connections == nil {
		return fmt.Sprintf("I can't connect %s yet.", platform)
	}

	url, err := c.connections.Connect(ctx, userID, platform)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"user_id":  userID,
			"platform": string(platform),
			"error":    err.Error(),
		}).Warn("Failed to start connection")
		return fmt.Sprintf("I can't connect %s yet.", platform)
	}
	return fmt.Sprintf("Tap this link to connect your %s: %s", platform, url)
}

func (c *CommandService) disconnect(ctx context.Context, userID, arg string) string {
	platform, ok := models.ParsePlatform(strings.ToLower(arg))
	if !ok {
		return "Tell me what to disconnect: " + platformList()
	}

	var err error
	if c.connections != nil {
		err = c.connections.Disconnect(ctx, userID, platform)
	} else {
		err = c.store.SetCredentialStatus(ctx, userID, platform, models.CredentialRevoked)
	}
	if err != nil {
		c.logger.WithError(err).Error("Failed to revoke credential")
		return "I couldn't disconnect that right now. Please try again."
	}
	return fmt.Sprintf("Disconnected your %s.", platform)
}

func (c *CommandService) status(ctx context.Context, user *models.User) string {
	var connected []string
	now := c.now()
	for _, platform := range models.Platforms {
		cred, err := c.store.GetCredential(ctx, user.ID, platform)
		if err != nil {
			c.logger.WithError(err).Warn("Failed to load credential")
			continue
		}
		if cred.Usable(now) {
			connected = append(connected, string(platform))
		}
	}

	reply := fmt.Sprintf("Your subscription is %s.", user.SubscriptionStatus)
	if len(connected) == 0 {
		return reply + " No platforms connected."
	}
	return reply + " Connected: " + strings.Join(connected, ", ") + "."
}

func platformList() string {
	names := make([]string, len(models.Platforms))
	for i, p := range models.Platforms {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}
