package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/A-Ravioli/donna/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const summaryColumns = `id, user_id, text, from_seq, through_seq, anchor_message_id, supersedes_id, message_count, model_used, created_at`

// LatestSummary returns the newest summary, or nil when the user has none
func (s *Store) LatestSummary(ctx context.Context, userID string) (*models.Summary, error) {
	var summary models.Summary
	query := s.db.Rebind(`
		SELECT ` + summaryColumns + `
		FROM summaries
		WHERE user_id = ?
		ORDER BY through_seq DESC, created_at DESC
		LIMIT 1
	`)
	if err := s.db.GetContext(ctx, &summary, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest summary: %w", err)
	}
	return &summary, nil
}

// SaveSummary stores a new summary. The covered range must start after the
// previous summary so lineage never overlaps.
func (s *Store) SaveSummary(ctx context.Context, summary models.Summary) (string, error) {
	if summary.UserID == "" || summary.AnchorMessageID == "" {
		return "", validationError("summary needs a user and an anchor message")
	}
	if summary.ThroughSeq < summary.FromSeq || summary.FromSeq <= 0 {
		return "", validationError("invalid summary range %d..%d", summary.FromSeq, summary.ThroughSeq)
	}

	summary.ID = uuid.New().String()
	summary.CreatedAt = s.timestamp()

	err := s.withTx(ctx, "save summary", func(tx *sqlx.Tx) error {
		var through int64
		err := tx.GetContext(ctx, &through, tx.Rebind(`
			SELECT COALESCE(MAX(through_seq), 0) FROM summaries WHERE user_id = ?
		`), summary.UserID)
		if err != nil {
			return err
		}
		if summary.FromSeq <= through {
			return validationError("summary range starts at %d but %d is already summarized", summary.FromSeq, through)
		}

		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO summaries (`+summaryColumns+`)
			VALUES (:id, :user_id, :text, :from_seq, :through_seq, :anchor_message_id, :supersedes_id,
				:message_count, :model_used, :created_at)
		`, summary)
		return err
	})
	if err != nil {
		return "", err
	}
	return summary.ID, nil
}

// Summaries returns the summary lineage of a user, newest first
func (s *Store) Summaries(ctx context.Context, userID string) ([]models.Summary, error) {
	summaries := []models.Summary{}
	query := s.db.Rebind(`
		SELECT ` + summaryColumns + `
		FROM summaries
		WHERE user_id = ?
		ORDER BY through_seq DESC
	`)
	if err := s.db.SelectContext(ctx, &summaries, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	return summaries, nil
}
