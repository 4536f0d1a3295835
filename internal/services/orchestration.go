package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/A-Ravioli/donna/internal/config"
	"github.com/A-Ravioli/donna/internal/metrics"
	"github.com/A-Ravioli/donna/internal/models"
	"github.com/A-Ravioli/donna/internal/repository"
	"github.com/A-Ravioli/donna/internal/userlock"
	"github.com/sirupsen/logrus"
)

// Model produces the assistant reply for an assembled context
type Model interface {
	Invoke(ctx context.Context, bundle *models.ContextBundle) (*models.ModelReply, error)
}

// ActionDispatcher executes structured intents against external platforms
type ActionDispatcher interface {
	Dispatch(ctx context.Context, intent models.ActionIntent) (*models.ActionResult, error)
}

// UserLocker serializes turns per user
type UserLocker interface {
	Acquire(ctx context.Context, key string) (userlock.Release, error)
}

const actionFailedReply = "I couldn't complete that right now. Please try again later."

// OrchestrationService runs one conversational turn end to end. Turns for the
// same user are serialized; turns for different users run concurrently.
type OrchestrationService struct {
	store    repository.ConversationStore
	memory   *MemoryManager
	model    Model
	actions  ActionDispatcher
	locker   UserLocker
	commands *CommandService
	cfg      config.AssistantConfig
	logger   *logrus.Logger

	background sync.WaitGroup
}

// NewOrchestrationService creates the turn orchestrator. actions and commands may be nil.
func NewOrchestrationService(
	store repository.ConversationStore,
	memory *MemoryManager,
	model Model,
	actions ActionDispatcher,
	locker UserLocker,
	commands *CommandService,
	cfg config.AssistantConfig,
	logger *logrus.Logger,
) *OrchestrationService {
	if cfg.FallbackReply == "" {
		cfg.FallbackReply = config.DefaultFallbackReply
	}
	return &OrchestrationService{
		store:    store,
		memory:   memory,
		model:    model,
		actions:  actions,
		locker:   locker,
		commands: commands,
		cfg:      cfg,
		logger:   logger,
	}
}

// HandleInbound processes one inbound user message and returns the reply text.
// The inbound message is persisted before the model is invoked and the reply
// before it is returned. Model failure or timeout yields the fallback reply,
// which is persisted exactly once. An error is returned only when the inbound
// message or the reply could not be stored.
//
// Summarization runs after the reply is returned. The user's slot stays held
// until it finishes, so the user's next turn sees the newest summary.
func (o *OrchestrationService) HandleInbound(ctx context.Context, userID string, in models.InboundMessage) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("%w: user id is required", models.ErrValidation)
	}
	if strings.TrimSpace(in.Text) == "" && in.ImageRef == "" {
		return "", fmt.Errorf("%w: message has no text or image", models.ErrValidation)
	}

	release, err := o.locker.Acquire(ctx, userID)
	if err != nil {
		return "", err
	}

	handedOff := false
	defer func() {
		if !handedOff {
			release()
		}
	}()

	reply, err := o.turn(ctx, userID, in)
	if err != nil {
		return "", err
	}
	handedOff = true
	o.summarizeAfter(userID, release)
	return reply, nil
}

// Wait blocks until background summarization has finished
func (o *OrchestrationService) Wait() {
	o.background.Wait()
}

// turn runs one turn while the caller holds the user's slot
func (o *OrchestrationService) turn(ctx context.Context, userID string, in models.InboundMessage) (string, error) {
	user, created, err := o.store.EnsureUser(ctx, userID)
	if err != nil {
		return "", err
	}

	annotation := o.memory.Annotate(ctx, userID, in.Text)
	inbound := models.Message{
		UserID:    userID,
		Role:      models.RoleUser,
		Body:      in.Text,
		ImageRef:  in.ImageRef,
		Sentiment: annotation.Sentiment,
		Entities:  models.StringMap(annotation.Entities),
	}
	inbound.ID, err = o.store.Append(ctx, userID, inbound)
	if err != nil {
		return "", err
	}

	logger := o.logger.WithFields(logrus.Fields{
		"user_id":    userID,
		"message_id": inbound.ID,
	})

	for key, value := range annotation.Preferences {
		if err := o.store.UpsertPreference(ctx, userID, key, value); err != nil {
			logger.WithError(err).Warn("Failed to store extracted preference")
		}
	}

	// Replies are stored even when the caller gives up waiting
	persistCtx := context.WithoutCancel(ctx)

	if o.commands != nil {
		if reply, handled := o.commands.Handle(ctx, user, in.Text); handled {
			metrics.RepliesTotal.WithLabelValues("command").Inc()
			return o.finish(persistCtx, logger, userID, reply)
		}
	}

	if created && o.cfg.WelcomeMessage != "" {
		metrics.RepliesTotal.WithLabelValues("welcome").Inc()
		return o.finish(persistCtx, logger, userID, o.cfg.WelcomeMessage)
	}

	bundle, err := o.memory.BuildContext(ctx, userID, inbound)
	if err != nil {
		logger.WithError(err).Error("Failed to build conversation context")
		return o.fallback(persistCtx, logger, userID)
	}

	reply, err := o.invokeModel(ctx, bundle)
	if err != nil {
		logger.WithError(err).Warn("Model invocation failed, using fallback reply")
		return o.fallback(persistCtx, logger, userID)
	}
	if strings.TrimSpace(reply.Text) == "" && reply.Intent == nil {
		logger.Warn("Model returned an empty reply, using fallback reply")
		return o.fallback(persistCtx, logger, userID)
	}

	text := strings.TrimSpace(reply.Text)
	if text != "" {
		if _, err := o.appendReply(persistCtx, userID, text); err != nil {
			logger.WithError(err).Error("Failed to store assistant reply")
			return "", err
		}
	}
	metrics.RepliesTotal.WithLabelValues("model").Inc()

	if reply.Intent != nil {
		confirmation := o.dispatch(persistCtx, logger, userID, *reply.Intent)
		if _, err := o.appendReply(persistCtx, userID, confirmation); err != nil {
			logger.WithError(err).Error("Failed to store action confirmation")
			return "", err
		}
		if text == "" {
			text = confirmation
		} else {
			text = text + "\n\n" + confirmation
		}
	}

	return text, nil
}

// invokeModel calls the model under the reply deadline. A result that arrives
// after the deadline is discarded.
func (o *OrchestrationService) invokeModel(ctx context.Context, bundle *models.ContextBundle) (*models.ModelReply, error) {
	callCtx := ctx
	if o.cfg.ReplyTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.cfg.ReplyTimeout)
		defer cancel()
	}

	type result struct {
		reply *models.ModelReply
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := o.model.Invoke(callCtx, bundle)
		done <- result{reply: reply, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil && res.reply == nil {
			return nil, fmt.Errorf("%w: model returned no reply", models.ErrUpstreamUnavailable)
		}
		return res.reply, res.err
	case <-callCtx.Done():
		return nil, fmt.Errorf("%w: %w", models.ErrUpstreamTimeout, callCtx.Err())
	}
}

func (o *OrchestrationService) dispatch(ctx context.Context, logger *logrus.Entry, userID string, intent models.ActionIntent) string {
	if o.actions == nil {
		return "I can't do that yet."
	}
	intent.UserID = userID

	result, err := o.actions.Dispatch(ctx, intent)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"intent": string(intent.Type),
			"error":  err.Error(),
		}).Warn("Action dispatch failed")
		return actionFailedReply
	}
	if result == nil || result.Message == "" {
		if result != nil && result.OK {
			return "Done."
		}
		return actionFailedReply
	}
	return result.Message
}

func (o *OrchestrationService) fallback(ctx context.Context, logger *logrus.Entry, userID string) (string, error) {
	metrics.RepliesTotal.WithLabelValues("fallback").Inc()
	if _, err := o.appendReply(ctx, userID, o.cfg.FallbackReply); err != nil {
		logger.WithError(err).Error("Failed to store fallback reply")
		return "", err
	}
	return o.cfg.FallbackReply, nil
}

func (o *OrchestrationService) finish(ctx context.Context, logger *logrus.Entry, userID, reply string) (string, error) {
	if _, err := o.appendReply(ctx, userID, reply); err != nil {
		logger.WithError(err).Error("Failed to store reply")
		return "", err
	}
	return reply, nil
}

// summarizeAfter folds old messages into a summary off the reply path, then
// releases the user's slot
func (o *OrchestrationService) summarizeAfter(userID string, release userlock.Release) {
	o.background.Add(1)
	go func() {
		defer o.background.Done()
		defer release()

		// The request context may already be gone; MaybeSummarize bounds the call
		if err := o.memory.MaybeSummarize(context.Background(), userID); err != nil {
			o.logger.WithFields(logrus.Fields{
				"user_id": userID,
				"error":   err.Error(),
			}).Warn("Summarization failed, will retry on a later turn")
		}
	}()
}

func (o *OrchestrationService) appendReply(ctx context.Context, userID, text string) (string, error) {
	return o.store.Append(ctx, userID, models.Message{
		UserID: userID,
		Role:   models.RoleAssistant,
		Body:   text,
	})
}
