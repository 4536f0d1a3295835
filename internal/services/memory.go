package services

import (
	"context"

	"github.com/A-Ravioli/donna/internal/config"
	"github.com/A-Ravioli/donna/internal/llm"
	"github.com/A-Ravioli/donna/internal/models"
	"github.com/A-Ravioli/donna/internal/repository"
	"github.com/sirupsen/logrus"
)

// Summarizer condenses messages into a rolling summary
type Summarizer interface {
	Summarize(ctx context.Context, previous string, messages []models.Message) (string, error)
	ModelName() string
}

// Annotator extracts sentiment, entities and preferences from a message
type Annotator interface {
	Annotate(ctx context.Context, text string) (models.Annotation, error)
}

// MemoryManager assembles the bounded context for a turn and keeps summaries current
type MemoryManager struct {
	store      repository.ConversationStore
	summarizer Summarizer
	annotator  Annotator
	cfg        config.MemoryConfig
	logger     *logrus.Logger
}

// NewMemoryManager creates a memory manager. annotator may be nil.
func NewMemoryManager(store repository.ConversationStore, summarizer Summarizer, annotator Annotator, cfg config.MemoryConfig, logger *logrus.Logger) *MemoryManager {
	return &MemoryManager{
		store:      store,
		summarizer: summarizer,
		annotator:  annotator,
		cfg:        cfg,
		logger:     logger,
	}
}

// BuildContext returns the latest summary, at most RecentLimit earlier messages,
// the user's preferences and a sentiment hint. The new message is carried
// separately and never repeated in Recent.
func (m *MemoryManager) BuildContext(ctx context.Context, userID string, newMessage models.Message) (*models.ContextBundle, error) {
	summary, err := m.store.LatestSummary(ctx, userID)
	if err != nil {
		return nil, err
	}

	limit := m.cfg.RecentLimit
	recent, err := m.store.RecentMessages(ctx, userID, limit+1)
	if err != nil {
		return nil, err
	}
	filtered := make([]models.Message, 0, len(recent))
	for _, msg := range recent {
		if newMessage.ID != "" && msg.ID == newMessage.ID {
			continue
		}
		filtered = append(filtered, msg)
	}
	if len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}

	prefs, err := m.store.Preferences(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &models.ContextBundle{
		UserID:        userID,
		Summary:       summary,
		Recent:        filtered,
		Preferences:   prefs,
		SentimentHint: sentimentHint(newMessage, filtered),
		NewMessage:    newMessage,
	}, nil
}

// sentimentHint is the sentiment of the latest annotated user message
func sentimentHint(newMessage models.Message, recent []models.Message) models.Sentiment {
	if newMessage.Sentiment != "" {
		return newMessage.Sentiment
	}
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].Role == models.RoleUser && recent[i].Sentiment != "" {
			return recent[i].Sentiment
		}
	}
	return ""
}

// Annotate enriches a user message. Failures degrade to a neutral, empty annotation.
func (m *MemoryManager) Annotate(ctx context.Context, userID, text string) models.Annotation {
	if m.annotator == nil || text == "" {
		return models.Annotation{}
	}

	annotateCtx := ctx
	if m.cfg.AnnotateTimeout > 0 {
		var cancel context.CancelFunc
		annotateCtx, cancel = context.WithTimeout(ctx, m.cfg.AnnotateTimeout)
		defer cancel()
	}

	annotation, err := m.annotator.Annotate(annotateCtx, text)
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"error":   err.Error(),
		}).Warn("Message annotation failed")

		if llm.PlanAnnotation(text).Sentiment {
			return models.Annotation{Sentiment: models.SentimentNeutral}
		}
		return models.Annotation{}
	}
	return annotation
}
