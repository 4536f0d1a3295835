package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/A-Ravioli/donna/internal/models"
	"github.com/jmoiron/sqlx"
)

// RecordSubscriptionEvent stores a payment event exactly once. An accepted event that
// changes the subscription also updates the user in the same transaction.
func (s *Store) RecordSubscriptionEvent(ctx context.Context, event models.SubscriptionEvent) (models.RecordResult, error) {
	if event.ProviderEventID == "" {
		return "", validationError("empty provider event id")
	}
	switch event.Type {
	case models.EventActivated, models.EventPaymentFailed, models.EventCancelled:
	default:
		return "", validationError("unknown subscription event type %q", event.Type)
	}
	event.CreatedAt = s.timestamp()

	result := models.RecordAccepted
	err := s.withTx(ctx, "record subscription event", func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, `
			INSERT INTO subscription_events (provider_event_id, user_id, type, raw_type, created_at)
			VALUES (:provider_event_id, :user_id, :type, :raw_type, :created_at)
			ON CONFLICT (provider_event_id) DO NOTHING
		`, event)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			result = models.RecordDuplicate
			return nil
		}

		status, changes := event.Type.Status()
		if event.UserID == "" || !changes {
			return nil
		}
		if _, err := s.ensureUserTx(ctx, tx, event.UserID); err != nil {
			// Unknown users keep the event without a status change
			if errors.Is(err, models.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("attribute event %s: %w", event.ProviderEventID, err)
		}
		return s.setStatusTx(ctx, tx, event.UserID, status)
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// SubscriptionEvents lists the recorded events of a user, oldest first
func (s *Store) SubscriptionEvents(ctx context.Context, userID string) ([]models.SubscriptionEvent, error) {
	events := []models.SubscriptionEvent{}
	query := s.db.Rebind(`
		SELECT provider_event_id, user_id, type, raw_type, created_at
		FROM subscription_events
		WHERE user_id = ?
		ORDER BY created_at ASC, provider_event_id ASC
	`)
	if err := s.db.SelectContext(ctx, &events, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list subscription events: %w", err)
	}
	return events, nil
}
