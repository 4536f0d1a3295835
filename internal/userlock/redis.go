package userlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	lockPrefix     = "donna:user-turn:"
	defaultLockTTL = 45 * time.Second
)

// Distributed serializes a user's turns across replicas through Redis
type Distributed struct {
	client *redis.Client
	rs     *redsync.Redsync
	ttl    time.Duration
	logger *logrus.Logger
}

// NewDistributed connects to Redis at url
func NewDistributed(ctx context.Context, url string, ttl time.Duration, logger *logrus.Logger) (*Distributed, error) {
	if url == "" {
		return nil, fmt.Errorf("Redis URL must be provided")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Distributed{
		client: client,
		rs:     redsync.New(goredis.NewPool(client)),
		ttl:    ttl,
		logger: logger,
	}, nil
}

// Lock takes the user's cross-replica lock and returns its unlock function.
// The lock expires after ttl so a crashed replica cannot wedge a user; while
// it is held it is extended every ttl/3.
func (d *Distributed) Lock(ctx context.Context, key string) (func(), error) {
	mutex := d.rs.NewMutex(lockPrefix+key,
		redsync.WithExpiry(d.ttl),
		redsync.WithTries(64),
		redsync.WithRetryDelay(100*time.Millisecond),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(d.ttl/3, mutex.ExtendContext, stop, func(err error) {
			d.logger.WithFields(logrus.Fields{
				"key":   key,
				"error": err.Error(),
			}).Error("Failed to extend distributed user lock")
		})
	}()

	return func() {
		close(stop)
		<-done

		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := mutex.UnlockContext(unlockCtx); err != nil {
			d.logger.WithFields(logrus.Fields{
				"key":   key,
				"error": err.Error(),
			}).Error("Failed to unlock distributed user lock")
		}
	}, nil
}

var errLockLost = errors.New("lock is no longer held")

// keepAlive calls extend every interval until stop is closed. Each extension
// gets at most one interval to complete.
func keepAlive(interval time.Duration, extend func(context.Context) (bool, error), stop <-chan struct{}, onError func(error)) {
	if interval <= 0 {
		<-stop
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			ok, err := extend(ctx)
			cancel()
			if err == nil && !ok {
				err = errLockLost
			}
			if err != nil {
				onError(err)
			}
		}
	}
}

// Ping checks the Redis connection
func (d *Distributed) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (d *Distributed) Close() error {
	return d.client.Close()
}
