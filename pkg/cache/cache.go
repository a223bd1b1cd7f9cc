// Package cache is a read-through cache whose entries carry the time they
// were fetched. Entries are never expired by the cache itself: callers check
// validity against the instance ttl, or bypass the cache with forceRefresh.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"julianmorley.ca/con-plar/boxcart/pkg/global"
)

// NoExpiry marks a cache whose entries stay valid until explicitly deleted.
const NoExpiry time.Duration = -1

// Store is the byte-level persistence behind a Cache. Get reports a missing
// key with ok=false and a nil error.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
}

type Entry[T any] struct {
	Key       string    `json:"key"`
	Payload   T         `json:"payload"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// IsValid reports now - fetchedAt < ttl.
func IsValid(fetchedAt time.Time, ttl time.Duration, now time.Time) bool {
	if ttl == NoExpiry {
		return true
	}
	return now.Sub(fetchedAt) < ttl
}

type Loader[T any] func(ctx context.Context) (T, error)

type Option func(*options)

type options struct {
	now    func() time.Time
	logger *logrus.Logger
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) { o.logger = logger }
}

type Cache[T any] struct {
	store     Store
	namespace string
	ttl       time.Duration
	now       func() time.Time
	logger    *logrus.Logger
	locks     keyLocks
	group     singleflight.Group
}

func New[T any](store Store, namespace string, ttl time.Duration, opts ...Option) *Cache[T] {
	o := options{now: time.Now, logger: global.GetLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[T]{
		store:     store,
		namespace: namespace,
		ttl:       ttl,
		now:       o.now,
		logger:    o.logger,
		locks:     keyLocks{m: make(map[string]*keyLock)},
	}
}

func (c *Cache[T]) TTL() time.Duration {
	return c.ttl
}

func (c *Cache[T]) storageKey(key string) string {
	return c.namespace + ":" + key
}

// Read returns the stored entry regardless of its age. A payload that no
// longer decodes is reported as absent.
func (c *Cache[T]) Read(ctx context.Context, key string) (*Entry[T], bool, error) {
	raw, ok, err := c.store.Get(ctx, c.storageKey(key))
	if err != nil {
		return nil, false, fmt.Errorf("cache read %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	var entry Entry[T]
	if err := json.Unmarshal(raw, &entry); err != nil {
		global.LogWarn(c.logger, "cache", "Read", "discarding corrupt cache entry", map[string]string{
			"key":   c.storageKey(key),
			"error": err.Error(),
		})
		return nil, false, nil
	}
	return &entry, true, nil
}

// Write stamps payload with the current time and stores it. Writes to one key
// are serialized.
func (c *Cache[T]) Write(ctx context.Context, key string, payload T) (*Entry[T], error) {
	sk := c.storageKey(key)
	unlock := c.locks.lock(sk)
	defer unlock()

	entry := &Entry[T]{Key: key, Payload: payload, FetchedAt: c.now()}
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := c.store.Set(ctx, sk, raw); err != nil {
		return nil, fmt.Errorf("cache write %s: %w", key, err)
	}
	return entry, nil
}

func (c *Cache[T]) Delete(ctx context.Context, key string) error {
	sk := c.storageKey(key)
	unlock := c.locks.lock(sk)
	defer unlock()

	if err := c.store.Delete(ctx, sk); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

func (c *Cache[T]) IsValid(entry *Entry[T]) bool {
	return entry != nil && IsValid(entry.FetchedAt, c.ttl, c.now())
}

// Fetch returns a valid cached payload for key, or loads, stores and returns
// a fresh one. forceRefresh skips the read entirely. The bool result is true
// when the payload came from the cache. Concurrent loads of one key share a
// single call to load.
func (c *Cache[T]) Fetch(ctx context.Context, key string, forceRefresh bool, load Loader[T]) (T, bool, error) {
	if !forceRefresh {
		entry, ok, err := c.Read(ctx, key)
		if err != nil {
			global.LogError(c.logger, "cache", "Fetch", "cache read failed, loading from source", key, err)
		} else if ok && c.IsValid(entry) {
			return entry.Payload, true, nil
		}
	}

	v, err, _ := c.group.Do(c.storageKey(key), func() (interface{}, error) {
		payload, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if _, werr := c.Write(ctx, key, payload); werr != nil {
			global.LogError(c.logger, "cache", "Fetch", "failed to store fetched payload", key, werr)
		}
		return payload, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return v.(T), false, nil
}

// Key builds a request signature from its parts, e.g.
// Key("page", 2, "limit", 20) == "page:2:limit:20".
func Key(parts ...any) string {
	s := make([]string, 0, len(parts))
	for _, p := range parts {
		s = append(s, fmt.Sprint(p))
	}
	return strings.Join(s, ":")
}
