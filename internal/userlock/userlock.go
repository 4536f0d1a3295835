package userlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/A-Ravioli/donna/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Release gives the slot to the next waiter. It must be called exactly once.
type Release func()

// Locker serializes work per key. Waiters are served in arrival order and
// idle keys are dropped by the reaper.
type Locker struct {
	mu      sync.Mutex
	slots   map[string]*slot
	idleTTL time.Duration
	dist    *Distributed
	logger  *logrus.Logger
	now     func() time.Time
}

type slot struct {
	held     bool
	waiters  []chan struct{}
	lastUsed time.Time
}

// New creates a locker. dist may be nil for single-replica deployments.
func New(idleTTL time.Duration, dist *Distributed, logger *logrus.Logger) *Locker {
	if idleTTL <= 0 {
		idleTTL = time.Minute
	}
	return &Locker{
		slots:   make(map[string]*slot),
		idleTTL: idleTTL,
		dist:    dist,
		logger:  logger,
		now:     time.Now,
	}
}

// Acquire waits for the key's slot. A cancelled wait leaves the queue and
// returns the context error.
func (l *Locker) Acquire(ctx context.Context, key string) (Release, error) {
	start := time.Now()
	if err := l.acquireLocal(ctx, key); err != nil {
		return nil, err
	}
	metrics.UserSlotWait.Observe(time.Since(start).Seconds())

	if l.dist == nil {
		return l.releaseFunc(key, nil), nil
	}

	unlock, err := l.dist.Lock(ctx, key)
	if err != nil {
		l.release(key)
		return nil, fmt.Errorf("failed to take distributed lock for %s: %w", key, err)
	}
	return l.releaseFunc(key, unlock), nil
}

func (l *Locker) releaseFunc(key string, unlock func()) Release {
	var once sync.Once
	return func() {
		once.Do(func() {
			if unlock != nil {
				unlock()
			}
			l.release(key)
		})
	}
}

func (l *Locker) acquireLocal(ctx context.Context, key string) error {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{}
		l.slots[key] = s
	}
	if !s.held {
		s.held = true
		l.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	s.waiters = append(s.waiters, ready)
	l.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range s.waiters {
			if w == ready {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// Granted while cancelling; pass the slot on
		l.release(key)
		return ctx.Err()
	}
}

func (l *Locker) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		return
	}
	s.lastUsed = l.now()
	if len(s.waiters) > 0 {
		next := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(next)
		return
	}
	s.held = false
}

// Reap drops idle keys and returns how many were removed
func (l *Locker) Reap() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.idleTTL)
	removed := 0
	for key, s := range l.slots {
		if !s.held && len(s.waiters) == 0 && s.lastUsed.Before(cutoff) {
			delete(l.slots, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

// Run reaps idle keys until ctx is done
func (l *Locker) Run(ctx context.Context) {
	ticker := time.NewTicker(l.idleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Reap(); n > 0 && l.logger != nil {
				l.logger.WithField("reaped", n).Debug("Reaped idle user slots")
			}
		}
	}
}
