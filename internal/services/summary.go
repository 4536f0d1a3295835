package services

import (
	"context"
	"fmt"

	"github.com/A-Ravioli/donna/internal/metrics"
	"github.com/A-Ravioli/donna/internal/models"
	"github.com/sirupsen/logrus"
)

// MaybeSummarize folds the oldest unsummarized messages into a new summary when the
// tail reaches SummaryThreshold messages, or the whole tail when it exceeds the token
// budget. The new summary supersedes the previous one, which is kept.
func (m *MemoryManager) MaybeSummarize(ctx context.Context, userID string) error {
	if m.summarizer == nil {
		return nil
	}

	tail, err := m.store.UnsummarizedMessages(ctx, userID, 0)
	if err != nil {
		return err
	}

	var batch []models.Message
	switch {
	case len(tail) >= m.cfg.SummaryThreshold:
		batch = tail[:m.cfg.SummaryThreshold]
	case m.cfg.SummaryTokenBudget > 0 && estimateTokens(tail) > m.cfg.SummaryTokenBudget:
		batch = tail
	default:
		return nil
	}

	previous, err := m.store.LatestSummary(ctx, userID)
	if err != nil {
		return err
	}
	var previousText string
	var supersedes *string
	if previous != nil {
		previousText = previous.Text
		id := previous.ID
		supersedes = &id
	}

	summarizeCtx := ctx
	if m.cfg.SummaryTimeout > 0 {
		var cancel context.CancelFunc
		summarizeCtx, cancel = context.WithTimeout(ctx, m.cfg.SummaryTimeout)
		defer cancel()
	}

	text, err := m.summarizer.Summarize(summarizeCtx, previousText, batch)
	if err != nil {
		metrics.SummariesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to summarize: %w", err)
	}

	last := batch[len(batch)-1]
	id, err := m.store.SaveSummary(ctx, models.Summary{
		UserID:          userID,
		Text:            text,
		FromSeq:         batch[0].Seq,
		ThroughSeq:      last.Seq,
		AnchorMessageID: last.ID,
		SupersedesID:    supersedes,
		MessageCount:    len(batch),
		ModelUsed:       m.summarizer.ModelName(),
	})
	if err != nil {
		metrics.SummariesTotal.WithLabelValues("error").Inc()
		return err
	}

	metrics.SummariesTotal.WithLabelValues("success").Inc()
	m.logger.WithFields(logrus.Fields{
		"user_id":     userID,
		"summary_id":  id,
		"from_seq":    batch[0].Seq,
		"through_seq": last.Seq,
	}).Info("Conversation summarized")
	return nil
}

// estimateTokens approximates token usage as four characters per token
func estimateTokens(messages []models.Message) int {
	chars := 0
	for _, msg := range messages {
		chars += len(msg.Body)
	}
	return chars / 4
}
