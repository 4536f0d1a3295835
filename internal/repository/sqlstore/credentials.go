package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/A-Ravioli/donna/internal/models"
	"github.com/jmoiron/sqlx"
)

// GetCredential returns the credential for a platform, or nil when never set
func (s *Store) GetCredential(ctx context.Context, userID string, platform models.Platform) (*models.IntegrationCredential, error) {
	var cred models.IntegrationCredential
	query := s.db.Rebind(`
		SELECT user_id, platform, sealed_token, status, expires_at, updated_at
		FROM integration_credentials
		WHERE user_id = ? AND platform = ?
	`)
	if err := s.db.GetContext(ctx, &cred, query, userID, platform); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &cred, nil
}

// UpsertCredential stores or replaces the credential for (user, platform)
func (s *Store) UpsertCredential(ctx context.Context, cred models.IntegrationCredential) error {
	if _, ok := models.ParsePlatform(string(cred.Platform)); !ok {
		return validationError("unknown platform %q", cred.Platform)
	}
	cred.UpdatedAt = s.timestamp()
	if cred.ExpiresAt != nil {
		expires := cred.ExpiresAt.UTC().Truncate(time.Microsecond)
		cred.ExpiresAt = &expires
	}

	return s.withTx(ctx, "upsert credential", func(tx *sqlx.Tx) error {
		if _, err := s.ensureUserTx(ctx, tx, cred.UserID); err != nil {
			return err
		}
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO integration_credentials (user_id, platform, sealed_token, status, expires_at, updated_at)
			VALUES (:user_id, :platform, :sealed_token, :status, :expires_at, :updated_at)
			ON CONFLICT (user_id, platform)
			DO UPDATE SET sealed_token = excluded.sealed_token, status = excluded.status,
				expires_at = excluded.expires_at, updated_at = excluded.updated_at
		`, cred)
		return err
	})
}

// SetCredentialStatus changes the status and keeps any sealed token
func (s *Store) SetCredentialStatus(ctx context.Context, userID string, platform models.Platform, status models.CredentialStatus) error {
	if _, ok := models.ParsePlatform(string(platform)); !ok {
		return validationError("unknown platform %q", platform)
	}

	return s.withTx(ctx, "set credential status", func(tx *sqlx.Tx) error {
		if _, err := s.ensureUserTx(ctx, tx, userID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO integration_credentials (user_id, platform, sealed_token, status, expires_at, updated_at)
			VALUES (?, ?, '', ?, NULL, ?)
			ON CONFLICT (user_id, platform)
			DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at
		`), userID, platform, status, s.timestamp())
		return err
	})
}

// ExpireCredentials marks active credentials whose expiry has passed
func (s *Store) ExpireCredentials(ctx context.Context, now time.Time) (int, error) {
	var expired int
	err := s.withTx(ctx, "expire credentials", func(tx *sqlx.Tx) error {
		var active []models.IntegrationCredential
		err := tx.SelectContext(ctx, &active, tx.Rebind(`
			SELECT user_id, platform, sealed_token, status, expires_at, updated_at
			FROM integration_credentials
			WHERE status = ? AND expires_at IS NOT NULL
		`), models.CredentialActive)
		if err != nil {
			return err
		}

		for _, cred := range active {
			if cred.Usable(now) {
				continue
			}
			_, err := tx.ExecContext(ctx, tx.Rebind(`
				UPDATE integration_credentials SET status = ?, updated_at = ?
				WHERE user_id = ? AND platform = ?
			`), models.CredentialExpired, s.timestamp(), cred.UserID, cred.Platform)
			if err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return expired, nil
}
