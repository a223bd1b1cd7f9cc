package guestcart

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"julianmorley.ca/con-plar/boxcart/pkg/cache"
	"julianmorley.ca/con-plar/boxcart/pkg/models"
	"julianmorley.ca/con-plar/boxcart/pkg/pricing"
)

// flakyStore wraps a MemoryStore and fails writes while failing is set.
type flakyStore struct {
	*cache.MemoryStore
	failing atomic.Bool
}

func (f *flakyStore) Set(ctx context.Context, key string, value []byte) error {
	if f.failing.Load() {
		return errors.New("disk full")
	}
	return f.MemoryStore.Set(ctx, key, value)
}

type countingLocker struct {
	mu      sync.Mutex
	held    bool
	locks   int
	overlap bool
}

func (l *countingLocker) Lock(context.Context, string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		l.overlap = true
	}
	l.held = true
	l.locks++
	return func() {
		l.mu.Lock()
		l.held = false
		l.mu.Unlock()
	}, nil
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *flakyStore) {
	t.Helper()
	backing := &flakyStore{MemoryStore: cache.NewMemoryStore()}
	records := cache.New[models.PersistedCart](backing, "device", cache.NoExpiry)

	var seq int64
	opts = append([]Option{WithIDGenerator(func() string {
		return fmt.Sprintf("line-%d", atomic.AddInt64(&seq, 1))
	})}, opts...)

	s := NewStore(records, DefaultKey, opts...)
	t.Cleanup(s.Close)
	return s, backing
}

func box(id string, boxPrice float64) models.ProductSnapshot {
	return models.ProductSnapshot{
		ProductID:         id,
		Name:              "Product " + id,
		UnitPrice:         decimal.NewFromFloat(boxPrice / 10),
		BoxPrice:          models.Price(boxPrice),
		ItemsPerBox:       10,
		WholesaleBoxPrice: models.Price(boxPrice * 8 / 10),
		WholesaleMinBoxes: models.IntPtr(50),
		StockBoxes:        1000,
		IsActive:          true,
	}
}

func TestGetOnAbsentRecordIsEmptyRetailCart(t *testing.T) {
	s, _ := newTestStore(t)
	cart, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
	assert.Equal(t, models.TierRetail, cart.ClientTier)
	assert.True(t, cart.TotalAmount.IsZero())
}

func TestAddInsertsThenIncrements(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	res, err := s.Add(ctx, box("p-1", 100), 2, models.TierRetail)
	require.NoError(t, err)
	assert.True(t, res.Inserted)
	assert.Equal(t, "line-1", res.LineID)
	assert.Equal(t, 1, res.Cart.LineCount)

	res, err = s.Add(ctx, box("p-1", 100), 3, models.TierRetail)
	require.NoError(t, err)
	assert.False(t, res.Inserted)
	assert.Equal(t, "line-1", res.LineID)
	require.Len(t, res.Cart.Lines, 1)
	assert.Equal(t, 5, res.Cart.Lines[0].QuantityBoxes)
	assert.Equal(t, 50, res.Cart.TotalItems)
	assert.True(t, decimal.NewFromInt(500).Equal(res.Cart.TotalAmount))

	stored, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Lines[0].QuantityBoxes)
}

func TestAddRefreshesSnapshotOnIncrement(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, box("p-1", 100), 1, models.TierRetail)
	require.NoError(t, err)
	res, err := s.Add(ctx, box("p-1", 120), 1, models.TierRetail)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(240).Equal(res.Cart.TotalAmount))
}

func TestAddRejectsNonPositiveQuantity(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Add(context.Background(), box("p-1", 100), 0, models.TierRetail)
	assert.True(t, models.IsKind(err, models.KindInvalidArgument))

	_, err = s.Add(context.Background(), models.ProductSnapshot{}, 1, models.TierRetail)
	assert.True(t, models.IsKind(err, models.KindInvalidArgument))
}

func TestSetQuantityOverwritesAndRemoves(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	res, err := s.Add(ctx, box("p-1", 100), 2, models.TierRetail)
	require.NoError(t, err)
	_, err = s.Add(ctx, box("p-2", 10), 1, models.TierRetail)
	require.NoError(t, err)

	cart, err := s.SetQuantity(ctx, res.LineID, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, cart.Lines[0].QuantityBoxes)
	assert.Equal(t, 8, cart.TotalBoxes)

	cart, err = s.SetQuantity(ctx, res.LineID, 0)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, "p-2", cart.Lines[0].ProductID)

	_, err = s.SetQuantity(ctx, "nope", 3)
	assert.True(t, models.IsKind(err, models.KindNotFound))

	cart, err = s.SetQuantity(ctx, "nope", -1)
	require.NoError(t, err)
	assert.Equal(t, 1, cart.LineCount)
}

func TestRemoveIsNoOpForUnknownLine(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.Add(ctx, box("p-1", 100), 2, models.TierRetail)
	require.NoError(t, err)

	cart, err := s.Remove(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, 1, cart.LineCount)

	cart, err = s.Remove(ctx, "line-1")
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
	assert.True(t, cart.TotalAmount.IsZero())
}

func TestClearDeletesRecord(t *testing.T) {
	s, backing := newTestStore(t)
	ctx := context.Background()
	_, err := s.Add(ctx, box("p-1", 100), 2, models.TierWholesale)
	require.NoError(t, err)
	assert.Equal(t, 1, backing.Len())

	require.NoError(t, s.Clear(ctx))
	assert.Equal(t, 0, backing.Len())

	cart, err := s.Get(ctx)
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
	assert.Equal(t, models.TierRetail, cart.ClientTier)
}

func TestSetTierRecomputesWithoutTouchingQuantities(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	res, err := s.Add(ctx, box("p-1", 100), 60, models.TierRetail)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(6000).Equal(res.Cart.TotalAmount))
	assert.True(t, res.Cart.TotalSavings.IsZero())

	cart, err := s.SetTier(ctx, models.TierWholesale)
	require.NoError(t, err)
	assert.Equal(t, 60, cart.Lines[0].QuantityBoxes)
	assert.True(t, decimal.NewFromInt(4800).Equal(cart.TotalAmount), cart.TotalAmount.String())
	assert.True(t, decimal.NewFromInt(1200).Equal(cart.TotalSavings), cart.TotalSavings.String())

	stored, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.TierWholesale, stored.ClientTier)
	assert.True(t, decimal.NewFromInt(4800).Equal(stored.TotalAmount))
}

func TestConcurrentAddsAreSerialized(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Add(ctx, box("X", 100), 1, models.TierRetail)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cart, err := s.Get(ctx)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, 2, cart.Lines[0].QuantityBoxes)
}

func TestManyConcurrentMutationsLoseNothing(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p-%d", i%5)
			_, err := s.Add(ctx, box(id, 10), 1, models.TierRetail)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	cart, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Len(t, cart.Lines, 5)
	assert.Equal(t, workers, cart.TotalBoxes)
}

func TestAggregatesMatchFromScratchRecompute(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	var lineIDs []string
	for step := 0; step < 200; step++ {
		var cart *models.Cart
		var err error
		switch op := rng.Intn(4); {
		case op == 0 || len(lineIDs) == 0:
			var res *models.AddResult
			res, err = s.Add(ctx, box(fmt.Sprintf("p-%d", rng.Intn(8)), float64(10+rng.Intn(90))), 1+rng.Intn(40), models.TierRetail)
			if err == nil {
				cart = res.Cart
				if res.Inserted {
					lineIDs = append(lineIDs, res.LineID)
				}
			}
		case op == 1:
			cart, err = s.SetQuantity(ctx, lineIDs[rng.Intn(len(lineIDs))], rng.Intn(70)-5)
			if models.IsKind(err, models.KindNotFound) {
				continue
			}
		case op == 2:
			cart, err = s.Remove(ctx, lineIDs[rng.Intn(len(lineIDs))])
		default:
			tier := models.TierRetail
			if rng.Intn(2) == 0 {
				tier = models.TierWholesale
			}
			cart, err = s.SetTier(ctx, tier)
		}
		require.NoError(t, err)

		expected := decimal.Zero
		boxes := 0
		for _, line := range cart.Lines {
			require.Positive(t, line.QuantityBoxes)
			expected = expected.Add(pricing.Price(line.QuantityBoxes, line.PriceSnapshot, cart.ClientTier))
			boxes += line.QuantityBoxes
		}
		assert.True(t, expected.Equal(cart.TotalAmount), "step %d: %s != %s", step, expected, cart.TotalAmount)
		assert.Equal(t, boxes, cart.TotalBoxes)
		assert.Equal(t, len(cart.Lines), cart.LineCount)
	}
}

func TestPersistFailureReturnsMutatedCart(t *testing.T) {
	s, backing := newTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, box("p-1", 100), 1, models.TierRetail)
	require.NoError(t, err)

	backing.failing.Store(true)
	res, err := s.Add(ctx, box("p-1", 100), 4, models.TierRetail)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindStorage))
	require.NotNil(t, res)
	assert.Equal(t, 5, res.Cart.Lines[0].QuantityBoxes, "mutation is handed back, not dropped")

	stored, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Lines[0].QuantityBoxes)

	backing.failing.Store(false)
	cart, err := s.Persist(ctx, res.Cart)
	require.NoError(t, err)
	assert.Equal(t, 5, cart.Lines[0].QuantityBoxes)

	stored, err = s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Lines[0].QuantityBoxes)
}

func TestReconcileRepairsOnlyCheckedLines(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, box("p-1", 10), 10, models.TierRetail)
	require.NoError(t, err)
	checked := []string{"p-1"}

	// p-2 lands after the catalog lookup for p-1.
	_, err = s.Add(ctx, box("p-2", 10), 3, models.TierRetail)
	require.NoError(t, err)

	live := box("p-1", 10)
	live.StockBoxes = 4
	res, cart, err := s.Reconcile(ctx, checked, map[string]models.ProductSnapshot{"p-1": live})
	require.NoError(t, err)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, models.IssueQuantityAdjusted, res.Issues[0].Kind)
	assert.True(t, res.CanCheckout)

	require.Len(t, cart.Lines, 2)
	assert.Equal(t, 4, cart.Lines[0].QuantityBoxes)
	assert.Equal(t, "p-2", cart.Lines[1].ProductID)
	assert.Equal(t, 3, cart.Lines[1].QuantityBoxes)
	assert.Len(t, res.AcceptedLines, 2)
	assert.True(t, decimal.NewFromInt(70).Equal(cart.TotalAmount))

	stored, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, stored.TotalBoxes)
}

func TestReconcileDropsCheckedProductMissingFromTruth(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, box("p-1", 10), 1, models.TierRetail)
	require.NoError(t, err)
	_, err = s.Add(ctx, box("p-2", 10), 1, models.TierRetail)
	require.NoError(t, err)

	res, cart, err := s.Reconcile(ctx, []string{"p-1", "p-2"}, map[string]models.ProductSnapshot{"p-1": box("p-1", 10)})
	require.NoError(t, err)
	assert.False(t, res.CanCheckout)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, models.IssueNotFound, res.Issues[0].Kind)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, "p-1", cart.Lines[0].ProductID)
}

func TestReconcileLeavesValidCartAlone(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	added, err := s.Add(ctx, box("p-1", 10), 2, models.TierRetail)
	require.NoError(t, err)

	res, cart, err := s.Reconcile(ctx, []string{"p-1"}, map[string]models.ProductSnapshot{"p-1": box("p-1", 10)})
	require.NoError(t, err)
	assert.True(t, res.CanCheckout)
	assert.Empty(t, res.Issues)
	assert.True(t, added.Cart.UpdatedAt.Equal(cart.UpdatedAt), "valid cart is not rewritten")
}

func TestDrainKeepsQuantitiesBeyondSubmitted(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, box("p-1", 10), 3, models.TierRetail)
	require.NoError(t, err)
	_, err = s.Add(ctx, box("p-2", 10), 2, models.TierRetail)
	require.NoError(t, err)

	cart, err := s.Drain(ctx, map[string]int{"p-1": 2, "p-2": 2, "p-9": 4})
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, "p-1", cart.Lines[0].ProductID)
	assert.Equal(t, 1, cart.Lines[0].QuantityBoxes)

	cart, err = s.Drain(ctx, map[string]int{"p-1": 1})
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
}

func TestUnknownTierIsRejected(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, box("p-1", 10), 1, models.ClientTier("GOLD"))
	assert.True(t, models.IsKind(err, models.KindInvalidArgument))
	_, err = s.SetTier(ctx, models.ClientTier("GOLD"))
	assert.True(t, models.IsKind(err, models.KindInvalidArgument))

	res, err := s.Add(ctx, box("p-1", 10), 1, models.ClientTier("wholesale"))
	require.NoError(t, err)
	assert.Equal(t, models.TierWholesale, res.Cart.ClientTier)

	cart, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Len(t, cart.Lines, 1)
}

func TestQueuedMutationSurvivesCallerCancellation(t *testing.T) {
	s, _ := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _ = s.Add(ctx, box("p-1", 100), 1, models.TierRetail)

	require.Eventually(t, func() bool {
		cart, err := s.Get(context.Background())
		return err == nil && cart.LineCount == 1
	}, time.Second, 10*time.Millisecond)
}

func TestLockerWrapsEveryOperation(t *testing.T) {
	locker := &countingLocker{}
	s, _ := newTestStore(t, WithLocker(locker))
	ctx := context.Background()

	_, err := s.Add(ctx, box("p-1", 100), 1, models.TierRetail)
	require.NoError(t, err)
	_, err = s.Get(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Clear(ctx))

	assert.Equal(t, 3, locker.locks)
	assert.False(t, locker.overlap)
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	s, _ := newTestStore(t)
	s.Close()
	_, err := s.Get(context.Background())
	assert.True(t, models.IsKind(err, models.KindStorage))
}

func TestAddWithoutTierKeepsStoredTier(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.SetTier(ctx, models.TierWholesale)
	require.NoError(t, err)
	res, err := s.Add(ctx, box("p-1", 100), 60, "")
	require.NoError(t, err)

	assert.Equal(t, models.TierWholesale, res.Cart.ClientTier)
	assert.True(t, decimal.NewFromInt(4800).Equal(res.Cart.TotalAmount))
}
