package services

import (
	"context"
	"time"

	"github.com/A-Ravioli/donna/internal/metrics"
	"github.com/A-Ravioli/donna/internal/repository"
	"github.com/sirupsen/logrus"
)

// CredentialSweeper marks credentials past their expiry as expired
type CredentialSweeper struct {
	store    repository.CredentialRepository
	interval time.Duration
	now      func() time.Time
	logger   *logrus.Logger
}

// NewCredentialSweeper creates a sweeper running every interval
func NewCredentialSweeper(store repository.CredentialRepository, interval time.Duration, logger *logrus.Logger) *CredentialSweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &CredentialSweeper{
		store:    store,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// Sweep runs one expiry pass and returns how many credentials expired
func (s *CredentialSweeper) Sweep(ctx context.Context) (int, error) {
	n, err := s.store.ExpireCredentials(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.CredentialsExpiredTotal.Add(float64(n))
		s.logger.WithField("count", n).Info("Expired integration credentials")
	}
	return n, nil
}

// Run sweeps until ctx is cancelled
func (s *CredentialSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.WithError(err).Error("Credential sweep failed")
			}
		}
	}
}
