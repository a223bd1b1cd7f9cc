// Package merge moves a guest cart into the server-authoritative cart when the
// shopper signs in.
//
// A merge reads the guest cart, sends its lines without price snapshots and
// takes them out of the guest cart only after the server accepted them. Before sending,
// a marker recording the batch and its merge token is persisted; the token
// goes out as the request's idempotency key. Until the guest cart has been
// cleared every retry re-sends each recorded batch exactly as it was under
// its own token, then sends whatever the guest added since under a fresh
// one, so a crash between acceptance and clear neither applies lines twice
// nor loses later additions.
package merge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"julianmorley.ca/con-plar/boxcart/pkg/cache"
	"julianmorley.ca/con-plar/boxcart/pkg/global"
	"julianmorley.ca/con-plar/boxcart/pkg/models"
)

const DefaultMarkerKey = "guest_cart_merge"

var tracer = otel.Tracer("julianmorley.ca/con-plar/boxcart/pkg/merge")

type GuestCart interface {
	Get(ctx context.Context) (*models.Cart, error)
	Drain(ctx context.Context, submitted map[string]int) (*models.Cart, error)
}

type RemoteCart interface {
	Merge(ctx context.Context, req models.MergeRequest) (*models.MergeResult, error)
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithTokenGenerator(newToken func() string) Option {
	return func(c *Coordinator) { c.newToken = newToken }
}

func WithLogger(logger *logrus.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

type Coordinator struct {
	guest     GuestCart
	remote    RemoteCart
	markers   *cache.Cache[models.MergeMarker]
	markerKey string
	now       func() time.Time
	newToken  func() string
	logger    *logrus.Logger

	mu sync.Mutex
}

// NewCoordinator wires the guest store, the remote cart and the marker cache.
// markers should be built with cache.NoExpiry.
func NewCoordinator(guest GuestCart, remote RemoteCart, markers *cache.Cache[models.MergeMarker], markerKey string, opts ...Option) *Coordinator {
	if markerKey == "" {
		markerKey = DefaultMarkerKey
	}
	c := &Coordinator{
		guest:     guest,
		remote:    remote,
		markers:   markers,
		markerKey: markerKey,
		now:       time.Now,
		newToken:  uuid.NewString,
		logger:    global.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Merge drains the guest cart into the remote cart. It runs to completion
// even when ctx is cancelled. An empty guest cart merges zero lines without a
// network call. On failure the guest cart is left as it was and the error is
// returned wrapped.
func (c *Coordinator) Merge(ctx context.Context) (out *models.MergeOutcome, err error) {
	ctx, span := tracer.Start(context.WithoutCancel(ctx), "merge.guest_cart")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if out != nil {
			span.SetAttributes(attribute.Int("merge.count", out.MergedCount), attribute.Bool("merge.resumed", out.Resumed))
		}
		span.End()
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	cart, err := c.guest.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("merge: read guest cart: %w", err)
	}

	entry, pending, err := c.markers.Read(ctx, c.markerKey)
	if err != nil {
		return nil, fmt.Errorf("merge: read marker: %w", models.NewCartError(models.KindStorage, "merge", err))
	}

	if cart.IsEmpty() {
		if pending {
			c.retireMarker(ctx)
		}
		return &models.MergeOutcome{MergedCount: 0}, nil
	}

	outcome := &models.MergeOutcome{}
	marker := models.MergeMarker{StartedAt: c.now()}
	items := Items(cart)
	if pending && len(entry.Payload.Batches) > 0 {
		marker = entry.Payload
		outcome.Resumed = true
		c.logger.WithFields(logrus.Fields{
			"module":    "merge",
			"batches":   len(marker.Batches),
			"startedAt": marker.StartedAt,
		}).Info("resuming unfinished guest cart merge")

		for _, batch := range marker.Batches {
			if err := c.submit(ctx, batch, outcome); err != nil {
				return nil, err
			}
			outcome.ResubmittedCount += len(batch.Items)
		}
		items = Remaining(items, marker.Submitted())
	}

	if len(items) > 0 {
		batch := models.MergeBatch{Token: c.newToken(), Items: items}
		marker.Batches = append(marker.Batches, batch)
		if _, err := c.markers.Write(ctx, c.markerKey, marker); err != nil {
			return nil, fmt.Errorf("merge: persist marker: %w", models.NewCartError(models.KindStorage, "merge", err))
		}
		if err := c.submit(ctx, batch, outcome); err != nil {
			return nil, err
		}
	}

	left, err := c.guest.Drain(ctx, marker.Submitted())
	if err != nil {
		global.LogError(c.logger, "merge", "Merge", "merge accepted but guest cart not cleared", len(marker.Batches), err)
		return outcome, fmt.Errorf("merge: clear guest cart: %w", err)
	}
	c.retireMarker(ctx)
	if left != nil && !left.IsEmpty() {
		global.LogWarn(c.logger, "merge", "Merge", "guest lines added during merge kept for the next merge", left.LineCount)
	}

	c.logger.WithFields(logrus.Fields{
		"module":      "merge",
		"merged":      outcome.MergedCount,
		"resubmitted": outcome.ResubmittedCount,
	}).Info("guest cart merged")
	return outcome, nil
}

// submit sends one batch under its token and folds the response into out.
func (c *Coordinator) submit(ctx context.Context, batch models.MergeBatch, out *models.MergeOutcome) error {
	res, err := c.remote.Merge(ctx, models.MergeRequest{Items: batch.Items, MergeToken: batch.Token})
	if err != nil {
		global.LogError(c.logger, "merge", "submit", "remote merge failed, guest cart kept", batch.Token, err)
		return fmt.Errorf("merge: submit %d lines: %w", len(batch.Items), err)
	}
	out.MergedCount += len(batch.Items)
	if res == nil {
		return nil
	}
	if res.Cart != nil {
		out.Cart = res.Cart
	}
	if res.Stats != nil {
		if out.Stats == nil {
			out.Stats = &models.MergeStats{}
		}
		out.Stats.Added += res.Stats.Added
		out.Stats.Updated += res.Stats.Updated
		out.Stats.Adjusted += res.Stats.Adjusted
		out.Stats.Skipped += res.Stats.Skipped
	}
	return nil
}

// Pending reports whether a merge was sent but its guest cart not yet
// cleared.
func (c *Coordinator) Pending(ctx context.Context) (bool, error) {
	_, ok, err := c.markers.Read(ctx, c.markerKey)
	return ok, err
}

func (c *Coordinator) retireMarker(ctx context.Context) {
	if err := c.markers.Delete(ctx, c.markerKey); err != nil {
		global.LogError(c.logger, "merge", "retireMarker", "failed to delete merge marker", c.markerKey, err)
	}
}

// Remaining is what items holds beyond the quantities already submitted, per
// product, in items order.
func Remaining(items []models.MergeItem, submitted map[string]int) []models.MergeItem {
	out := make([]models.MergeItem, 0, len(items))
	for _, item := range items {
		if extra := item.QuantityBoxes - submitted[item.ProductID]; extra > 0 {
			out = append(out, models.MergeItem{ProductID: item.ProductID, QuantityBoxes: extra})
		}
	}
	return out
}

// Items translates cart lines into merge items. Snapshots stay behind: the
// server prices the merged cart.
func Items(cart *models.Cart) []models.MergeItem {
	items := make([]models.MergeItem, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		if line.ProductID == "" || line.QuantityBoxes <= 0 {
			continue
		}
		items = append(items, models.MergeItem{ProductID: line.ProductID, QuantityBoxes: line.QuantityBoxes})
	}
	return items
}
