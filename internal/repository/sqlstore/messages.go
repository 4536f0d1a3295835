package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/A-Ravioli/donna/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const messageColumns = `id, user_id, seq, role, body, image_ref, sentiment, entities, created_at`

// Append stores a message at the end of the user's log and returns its id.
// Sequence numbers and timestamps strictly increase per user.
func (s *Store) Append(ctx context.Context, userID string, message models.Message) (string, error) {
	if userID == "" {
		return "", validationError("empty user id")
	}
	if message.Role != models.RoleUser && message.Role != models.RoleAssistant {
		return "", validationError("unknown role %q", message.Role)
	}

	message.ID = uuid.New().String()
	message.UserID = userID

	err := s.withTx(ctx, "append message", func(tx *sqlx.Tx) error {
		if _, err := s.ensureUserTx(ctx, tx, userID); err != nil {
			return err
		}

		var last struct {
			Seq       int64     `db:"seq"`
			CreatedAt time.Time `db:"created_at"`
		}
		err := tx.GetContext(ctx, &last, tx.Rebind(`
			SELECT seq, created_at FROM messages WHERE user_id = ? ORDER BY seq DESC LIMIT 1
		`), userID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read last message: %w", err)
		}

		message.Seq = last.Seq + 1
		message.CreatedAt = s.timestamp()
		if !last.CreatedAt.IsZero() && !message.CreatedAt.After(last.CreatedAt) {
			message.CreatedAt = last.CreatedAt.UTC().Add(time.Microsecond)
		}

		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO messages (`+messageColumns+`)
			VALUES (:id, :user_id, :seq, :role, :body, :image_ref, :sentiment, :entities, :created_at)
		`, message)
		return err
	})
	if err != nil {
		return "", err
	}
	return message.ID, nil
}

// RecentMessages returns the last limit messages in chronological order
func (s *Store) RecentMessages(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		return []models.Message{}, nil
	}

	var messages []models.Message
	query := s.db.Rebind(`
		SELECT ` + messageColumns + `
		FROM messages
		WHERE user_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`)
	if err := s.db.SelectContext(ctx, &messages, query, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// UnsummarizedMessages returns messages after the latest summary, oldest first
func (s *Store) UnsummarizedMessages(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	after, err := s.summarizedThrough(ctx, userID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE user_id = ? AND seq > ?
		ORDER BY seq ASC
	`
	args := []interface{}{userID, after}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var messages []models.Message
	if err := s.db.SelectContext(ctx, &messages, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list unsummarized messages: %w", err)
	}
	return messages, nil
}

// CountUnsummarized returns the number of messages after the latest summary
func (s *Store) CountUnsummarized(ctx context.Context, userID string) (int, error) {
	after, err := s.summarizedThrough(ctx, userID)
	if err != nil {
		return 0, err
	}

	var count int
	query := s.db.Rebind(`SELECT COUNT(*) FROM messages WHERE user_id = ? AND seq > ?`)
	if err := s.db.GetContext(ctx, &count, query, userID, after); err != nil {
		return 0, fmt.Errorf("failed to count unsummarized messages: %w", err)
	}
	return count, nil
}

// MessageCount returns the total number of stored messages for a user
func (s *Store) MessageCount(ctx context.Context, userID string) (int, error) {
	var count int
	query := s.db.Rebind(`SELECT COUNT(*) FROM messages WHERE user_id = ?`)
	if err := s.db.GetContext(ctx, &count, query, userID); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func (s *Store) summarizedThrough(ctx context.Context, userID string) (int64, error) {
	var through int64
	query := s.db.Rebind(`SELECT COALESCE(MAX(through_seq), 0) FROM summaries WHERE user_id = ?`)
	if err := s.db.GetContext(ctx, &through, query, userID); err != nil {
		return 0, fmt.Errorf("failed to read summary watermark: %w", err)
	}
	return through, nil
}
