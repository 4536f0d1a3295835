package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/A-Ravioli/donna/internal/models"
	"github.com/A-Ravioli/donna/internal/repository"
	"github.com/jmoiron/sqlx"
)

// Store implements repository.ConversationStore on any sqlx driver with
// rebindable placeholders (postgres, pgx, sqlite).
type Store struct {
	db         *sqlx.DB
	writeMu    sync.Mutex
	autoCreate bool
	now        func() time.Time
}

var _ repository.ConversationStore = (*Store)(nil)

// Option configures a Store
type Option func(*Store)

// WithAutoCreateUsers controls whether unknown users are created on first write
func WithAutoCreateUsers(enabled bool) Option {
	return func(s *Store) { s.autoCreate = enabled }
}

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store over an open, migrated connection
func New(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{
		db:         db,
		autoCreate: true,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// timestamp returns the store clock in UTC at the precision every driver keeps
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// withTx runs fn in a transaction while holding the store's single writer slot.
// Failures other than validation and not-found are reported as ErrPersistence.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return persistenceError(op, err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrValidation) {
			return err
		}
		return persistenceError(op, err)
	}

	if err := tx.Commit(); err != nil {
		return persistenceError(op, err)
	}
	return nil
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, models.ErrPersistence, err)
}

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", models.ErrValidation, fmt.Sprintf(format, args...))
}
