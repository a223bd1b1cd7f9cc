package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"julianmorley.ca/con-plar/boxcart/pkg/global"
)

var ErrLockNotObtained = errors.New("could not obtain cart lock")

// Locker serializes guest cart mutations across processes that share one
// Redis record.
type Locker struct {
	client *redislock.Client
	prefix string
	ttl    time.Duration
	wait   time.Duration
	logger *logrus.Logger
}

func NewLocker(client redisclient.UniversalClient, prefix string, ttl, wait time.Duration) *Locker {
	return &Locker{
		client: redislock.New(client),
		prefix: prefix,
		ttl:    ttl,
		wait:   wait,
		logger: global.GetLogger(),
	}
}

// Lock blocks up to the configured wait for the lock on key and returns the
// function releasing it.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := l.prefix + ":lock:" + key
	attempts := int(l.wait / (50 * time.Millisecond))
	if attempts < 1 {
		attempts = 1
	}

	lock, err := l.client.Obtain(ctx, lockKey, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), attempts),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		global.LogError(l.logger, "redis", "Lock", "Could not obtain lock for cart", lockKey, err)
		return nil, fmt.Errorf("%w: %s", ErrLockNotObtained, key)
	} else if err != nil {
		global.LogError(l.logger, "redis", "Lock", "Error obtaining lock for cart", lockKey, err)
		return nil, err
	}

	return func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			global.LogError(l.logger, "redis", "Lock", "Error releasing lock for cart", lockKey, err)
		}
	}, nil
}
