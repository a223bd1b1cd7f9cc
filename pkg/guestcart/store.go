// Package guestcart keeps the cart of an unauthenticated session in a single
// persisted record. Every operation loads the record, applies its change,
// recomputes the aggregates and writes the record back. Operations are applied
// one at a time, in the order they arrive, by a single worker goroutine, so
// rapid or parallel calls never overwrite each other.
package guestcart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"julianmorley.ca/con-plar/boxcart/pkg/cache"
	"julianmorley.ca/con-plar/boxcart/pkg/global"
	"julianmorley.ca/con-plar/boxcart/pkg/models"
	"julianmorley.ca/con-plar/boxcart/pkg/pricing"
)

const DefaultKey = "guest_cart"

// Locker guards the record across processes. Lock returns the release func.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type Option func(*Store)

func WithLocker(l Locker) Option {
	return func(s *Store) { s.locker = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// mutation edits cart in place. changed=false skips recompute and persist.
type mutation func(cart *models.Cart) (changed bool, err error)

type request struct {
	ctx    context.Context
	op     string
	mutate mutation
	clear  bool
	done   chan result
}

type result struct {
	cart *models.Cart
	err  error
}

type Store struct {
	records *cache.Cache[models.PersistedCart]
	key     string
	locker  Locker
	now     func() time.Time
	newID   func() string
	logger  *logrus.Logger

	queue     chan *request
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// NewStore starts the store's worker. records should be a cache built with
// cache.NoExpiry; only its persistence is used.
func NewStore(records *cache.Cache[models.PersistedCart], key string, opts ...Option) *Store {
	if key == "" {
		key = DefaultKey
	}
	s := &Store{
		records: records,
		key:     key,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
		logger:  global.GetLogger(),
		queue:   make(chan *request),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

// Close stops the worker after the operation in progress, if any.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		<-s.stopped
	})
}

func (s *Store) Key() string {
	return s.key
}

func (s *Store) run() {
	defer close(s.stopped)
	for {
		select {
		case req := <-s.queue:
			req.done <- s.exec(req)
		case <-s.quit:
			return
		}
	}
}

// submit hands req to the worker. Once accepted the operation runs to
// completion even if ctx is cancelled; the caller only stops waiting.
func (s *Store) submit(ctx context.Context, req *request) (*models.Cart, error) {
	req.ctx = ctx
	req.done = make(chan result, 1)

	select {
	case s.queue <- req:
	case <-s.quit:
		return nil, models.NewCartErrorf(models.KindStorage, req.op, models.ErrMsgStoreClosed)
	}

	select {
	case res := <-req.done:
		return res.cart, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) exec(req *request) result {
	ctx := context.WithoutCancel(req.ctx)

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, s.key)
		if err != nil {
			return result{err: models.NewCartError(models.KindStorage, req.op, err)}
		}
		defer unlock()
	}

	if req.clear {
		if err := s.records.Delete(ctx, s.key); err != nil {
			return result{err: models.NewCartError(models.KindStorage, req.op, err)}
		}
		return result{cart: models.EmptyCart()}
	}

	cart, err := s.load(ctx, req.op)
	if err != nil {
		return result{err: err}
	}
	if req.mutate == nil {
		return result{cart: cart}
	}

	changed, err := req.mutate(cart)
	if err != nil {
		return result{err: err}
	}
	if !changed {
		return result{cart: cart}
	}

	s.dropInvalidLines(cart)
	cart.UpdatedAt = s.now()
	pricing.Recompute(cart)
	if err := s.persist(ctx, req.op, cart); err != nil {
		return result{cart: cart, err: err}
	}
	return result{cart: cart}
}

func (s *Store) load(ctx context.Context, op string) (*models.Cart, error) {
	entry, ok, err := s.records.Read(ctx, s.key)
	if err != nil {
		return nil, models.NewCartError(models.KindStorage, op, err)
	}
	if !ok {
		return models.EmptyCart(), nil
	}

	cart := entry.Payload.FromPersisted()
	s.dropInvalidLines(cart)
	pricing.Recompute(cart)
	return cart, nil
}

func (s *Store) persist(ctx context.Context, op string, cart *models.Cart) error {
	if _, err := s.records.Write(ctx, s.key, cart.ToPersisted()); err != nil {
		global.LogError(s.logger, "guestcart", op, "failed to persist guest cart", s.key, err)
		return models.NewCartError(models.KindStorage, op, err)
	}
	return nil
}

// dropInvalidLines removes lines that must never have been stored: non
// positive quantities, missing product ids and repeated products.
func (s *Store) dropInvalidLines(cart *models.Cart) {
	seen := make(map[string]bool, len(cart.Lines))
	kept := cart.Lines[:0]
	for _, line := range cart.Lines {
		var reason string
		switch {
		case line.ProductID == "":
			reason = "line without product id"
		case line.QuantityBoxes <= 0:
			reason = fmt.Sprintf("non-positive quantity %d", line.QuantityBoxes)
		case seen[line.ProductID]:
			reason = "duplicate product line"
		}
		if reason != "" {
			global.LogError(s.logger, "guestcart", "dropInvalidLines", "dropping invalid cart line", line.ID,
				models.NewCartErrorf(models.KindInvariantViolation, "sanitize", "%s for product %q", reason, line.ProductID))
			continue
		}
		seen[line.ProductID] = true
		kept = append(kept, line)
	}
	cart.Lines = kept
}
