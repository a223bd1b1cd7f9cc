package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("storage unavailable")
}

func (failingStore) Set(context.Context, string, []byte) error {
	return errors.New("storage unavailable")
}

func (failingStore) Delete(context.Context, ...string) error {
	return errors.New("storage unavailable")
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestEntryStaleness(t *testing.T) {
	ttl := 5 * time.Minute
	clock := &fakeClock{now: t0}
	c := New[[]string](NewMemoryStore(), "suppliers", ttl, WithClock(clock.Now))
	ctx := context.Background()

	_, err := c.Write(ctx, "page:1", []string{"acme"})
	require.NoError(t, err)

	clock.Set(t0.Add(ttl - time.Second))
	entry, ok, err := c.Read(ctx, "page:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, c.IsValid(entry))
	assert.Equal(t, t0, entry.FetchedAt.UTC())

	clock.Set(t0.Add(ttl + time.Second))
	entry, ok, err = c.Read(ctx, "page:1")
	require.NoError(t, err)
	require.True(t, ok, "stale entries stay readable")
	assert.False(t, c.IsValid(entry))
}

func TestIsValidBoundaries(t *testing.T) {
	ttl := time.Minute
	assert.True(t, IsValid(t0, ttl, t0.Add(ttl-time.Nanosecond)))
	assert.False(t, IsValid(t0, ttl, t0.Add(ttl)))
	assert.False(t, IsValid(t0, ttl, t0.Add(ttl+time.Nanosecond)))
	assert.True(t, IsValid(t0, NoExpiry, t0.Add(10*365*24*time.Hour)))
}

func TestFetchUsesValidEntryAndReloadsStaleOne(t *testing.T) {
	clock := &fakeClock{now: t0}
	c := New[int](NewMemoryStore(), "catalog", time.Minute, WithClock(clock.Now))
	ctx := context.Background()

	var calls int32
	load := func(context.Context) (int, error) {
		return int(atomic.AddInt32(&calls, 1)), nil
	}

	v, hit, err := c.Fetch(ctx, "k", false, load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, v)

	v, hit, err = c.Fetch(ctx, "k", false, load)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, v)

	clock.Set(t0.Add(2 * time.Minute))
	v, hit, err = c.Fetch(ctx, "k", false, load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, v)
}

func TestFetchForceRefreshBypassesRead(t *testing.T) {
	c := New[int](NewMemoryStore(), "catalog", time.Hour)
	ctx := context.Background()

	_, err := c.Write(ctx, "k", 41)
	require.NoError(t, err)

	v, hit, err := c.Fetch(ctx, "k", true, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 42, v)

	entry, ok, err := c.Read(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42, entry.Payload)
}

func TestFetchLoaderErrorLeavesEntryAlone(t *testing.T) {
	c := New[int](NewMemoryStore(), "catalog", time.Hour)
	ctx := context.Background()
	_, err := c.Write(ctx, "k", 7)
	require.NoError(t, err)

	boom := errors.New("catalog down")
	_, _, err = c.Fetch(ctx, "k", true, func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	entry, ok, err := c.Read(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, entry.Payload)
}

func TestFetchCollapsesConcurrentLoads(t *testing.T) {
	c := New[string](NewMemoryStore(), "catalog", time.Hour)
	ctx := context.Background()

	var calls int32
	release := make(chan struct{})
	load := func(context.Context) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "v", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := c.Fetch(ctx, "k", false, load)
			assert.NoError(t, err)
			assert.Equal(t, "v", v)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&calls), int32(10))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}

func TestFetchFallsBackToLoaderWhenStoreFails(t *testing.T) {
	c := New[int](failingStore{}, "catalog", time.Hour)
	v, hit, err := c.Fetch(context.Background(), "k", false, func(context.Context) (int, error) { return 3, nil })
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 3, v)

	_, err = c.Write(context.Background(), "k", 3)
	assert.Error(t, err)
}

func TestCorruptEntryIsTreatedAsAbsent(t *testing.T) {
	store := NewMemoryStore()
	c := New[int](store, "cart", NoExpiry)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "cart:guest", []byte("{not json")))

	entry, ok, err := c.Read(ctx, "guest")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, entry)
}

func TestDeleteRemovesEntry(t *testing.T) {
	store := NewMemoryStore()
	c := New[int](store, "cart", NoExpiry)
	ctx := context.Background()

	_, err := c.Write(ctx, "guest", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())

	require.NoError(t, c.Delete(ctx, "guest"))
	_, ok, err := c.Read(ctx, "guest")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len())
}

func TestKey(t *testing.T) {
	assert.Equal(t, "page:2:limit:20", Key("page", 2, "limit", 20))
	assert.Equal(t, "", Key())
}

func TestKeyLocksAreReleased(t *testing.T) {
	k := keyLocks{m: make(map[string]*keyLock)}
	unlock := k.lock("a")
	assert.Len(t, k.m, 1)
	unlock()
	assert.Len(t, k.m, 0)
}
