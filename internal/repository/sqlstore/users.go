package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/A-Ravioli/donna/internal/models"
	"github.com/jmoiron/sqlx"
)

// GetUser retrieves a user together with their preferences
func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	query := s.db.Rebind(`
		SELECT id, subscription_status, created_at, updated_at
		FROM users
		WHERE id = ?
	`)
	if err := s.db.GetContext(ctx, &user, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	prefs, err := s.Preferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.Preferences = prefs
	return &user, nil
}

// EnsureUser creates the user when missing. With auto-create disabled an unknown
// user is ErrNotFound.
func (s *Store) EnsureUser(ctx context.Context, userID string) (*models.User, bool, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, false, validationError("empty user id")
	}

	var created bool
	err := s.withTx(ctx, "ensure user", func(tx *sqlx.Tx) error {
		var err error
		created, err = s.ensureUserTx(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, false, err
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return user, created, nil
}

// SetSubscriptionStatus records a status change outside of a payment event
func (s *Store) SetSubscriptionStatus(ctx context.Context, userID string, status models.SubscriptionStatus) error {
	if !status.Valid() {
		return validationError("unknown subscription status %q", status)
	}
	return s.withTx(ctx, "set subscription status", func(tx *sqlx.Tx) error {
		if _, err := s.ensureUserTx(ctx, tx, userID); err != nil {
			return err
		}
		return s.setStatusTx(ctx, tx, userID, status)
	})
}

func (s *Store) ensureUserTx(ctx context.Context, tx *sqlx.Tx, userID string) (bool, error) {
	if !s.autoCreate {
		var exists int
		err := tx.GetContext(ctx, &exists, tx.Rebind(`SELECT 1 FROM users WHERE id = ?`), userID)
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
		}
		return false, err
	}

	now := s.timestamp()
	res, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO users (id, subscription_status, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`), userID, models.SubscriptionInactive, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to create user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) setStatusTx(ctx context.Context, tx *sqlx.Tx, userID string, status models.SubscriptionStatus) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE users SET subscription_status = ?, updated_at = ? WHERE id = ?
	`), status, s.timestamp(), userID)
	if err != nil {
		return fmt.Errorf("failed to update subscription status: %w", err)
	}
	return nil
}

// UpsertPreference sets one preference, replacing any previous value
func (s *Store) UpsertPreference(ctx context.Context, userID, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return validationError("empty preference key")
	}

	return s.withTx(ctx, "upsert preference", func(tx *sqlx.Tx) error {
		if _, err := s.ensureUserTx(ctx, tx, userID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO user_preferences (user_id, pref_key, pref_value, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (user_id, pref_key)
			DO UPDATE SET pref_value = excluded.pref_value, updated_at = excluded.updated_at
		`), userID, key, value, s.timestamp())
		return err
	})
}

// Preferences returns every preference of a user; an unknown user has none
func (s *Store) Preferences(ctx context.Context, userID string) (map[string]string, error) {
	var rows []struct {
		Key   string `db:"pref_key"`
		Value string `db:"pref_value"`
	}
	query := s.db.Rebind(`
		SELECT pref_key, pref_value FROM user_preferences WHERE user_id = ? ORDER BY pref_key
	`)
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}

	prefs := make(map[string]string, len(rows))
	for _, row := range rows {
		prefs[row.Key] = row.Value
	}
	return prefs, nil
}
