// Package runlock serializes overlapping onboarding runs with a best-effort
// Redis advisory lock. The invoking system is expected to serialize runs
// itself; the lock is a guard for deployments where it cannot.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Locker holds one advisory lock keyed by deployment. The lock carries a TTL
// so a crashed run can never wedge the next one permanently.
type Locker struct {
	client *redis.Client
	logger *zap.Logger
	key    string
	token  string
	ttl    time.Duration
}

// New connects to Redis and constructs a Locker for the given key.
func New(addr string, db int, password string, logger *zap.Logger, key string, ttl time.Duration) (*Locker, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       db,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Locker{
		client: rdb,
		logger: logger,
		key:    key,
		token:  uuid.New().String(),
		ttl:    ttl,
	}, nil
}

// Acquire attempts to take the lock. It returns false when another run holds
// it; the caller should then exit without touching anything.
func (l *Locker) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire run lock %q: %w", l.key, err)
	}
	if ok {
		l.logger.Info("runlock.acquired",
			zap.String("key", l.key),
			zap.Duration("ttl", l.ttl))
	}
	return ok, nil
}

// Release drops the lock if this run still owns it. A lock that expired and
// was re-taken by another run is left alone.
func (l *Locker) Release(ctx context.Context) {
	val, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return
	}
	if err != nil {
		l.logger.Warn("runlock.release_check_failed", zap.Error(err))
		return
	}
	if val != l.token {
		l.logger.Warn("runlock.not_owner", zap.String("key", l.key))
		return
	}

	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		l.logger.Warn("runlock.release_failed", zap.Error(err))
		return
	}
	l.logger.Info("runlock.released", zap.String("key", l.key))
}

// Close closes the underlying Redis client.
func (l *Locker) Close() {
	_ = l.client.Close()
}
