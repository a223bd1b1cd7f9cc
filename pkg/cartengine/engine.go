// Package cartengine is the cart API the UI and session layers call. While the
// session is anonymous every call goes to the guest cart store; once signed
// in, calls go to the remote cart and its response replaces local state.
// Checkout validation runs against live catalog data in both modes.
package cartengine

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"julianmorley.ca/con-plar/boxcart/pkg/global"
	"julianmorley.ca/con-plar/boxcart/pkg/models"
	"julianmorley.ca/con-plar/boxcart/pkg/reconcile"
)

var tracer = otel.Tracer("julianmorley.ca/con-plar/boxcart/pkg/cartengine")

type Mode int

const (
	ModeGuest Mode = iota
	ModeAuthenticated
)

func (m Mode) String() string {
	if m == ModeAuthenticated {
		return "authenticated"
	}
	return "guest"
}

type GuestCart interface {
	Get(ctx context.Context) (*models.Cart, error)
	Add(ctx context.Context, product models.ProductSnapshot, quantityBoxes int, tier models.ClientTier) (*models.AddResult, error)
	SetQuantity(ctx context.Context, lineID string, quantityBoxes int) (*models.Cart, error)
	Remove(ctx context.Context, lineID string) (*models.Cart, error)
	Clear(ctx context.Context) error
	SetTier(ctx context.Context, tier models.ClientTier) (*models.Cart, error)
	Reconcile(ctx context.Context, checked []string, truth map[string]models.ProductSnapshot) (*models.ValidationResult, *models.Cart, error)
}

type RemoteCart interface {
	Get(ctx context.Context) (*models.Cart, error)
	Add(ctx context.Context, productID string, quantityBoxes int) (*models.Cart, error)
	Update(ctx context.Context, lineID string, quantityBoxes int) (*models.Cart, error)
	Remove(ctx context.Context, lineID string) (*models.Cart, error)
	Clear(ctx context.Context) error
}

type Catalog interface {
	FetchProductSnapshot(ctx context.Context, productID string) (models.ProductSnapshot, error)
	FetchProductSnapshots(ctx context.Context, productIDs []string) (map[string]models.ProductSnapshot, error)
}

type Merger interface {
	Merge(ctx context.Context) (*models.MergeOutcome, error)
}

type Option func(*Engine)

func WithLogger(logger *logrus.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

type Engine struct {
	guest   GuestCart
	remote  RemoteCart
	catalog Catalog
	merger  Merger
	logger  *logrus.Logger

	mu    sync.RWMutex
	token string
	tier  models.ClientTier
}

func New(guest GuestCart, remote RemoteCart, catalog Catalog, merger Merger, opts ...Option) *Engine {
	e := &Engine{
		guest:   guest,
		remote:  remote,
		catalog: catalog,
		merger:  merger,
		logger:  global.GetLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Mode() Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.token != "" {
		return ModeAuthenticated
	}
	return ModeGuest
}

// Token is the bearer token for remote calls, empty while anonymous.
func (e *Engine) Token() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.token
}

func (e *Engine) Tier() models.ClientTier {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tier
}

// SignIn switches to the remote cart and merges the guest cart into it. The
// session stays signed in when the merge fails; MergeGuestCartOnSignIn
// retries it.
func (e *Engine) SignIn(ctx context.Context, token string) (*models.MergeOutcome, error) {
	if token == "" {
		return nil, models.NewCartErrorf(models.KindInvalidArgument, "sign in", "token is required")
	}
	e.mu.Lock()
	e.token = token
	e.mu.Unlock()

	return e.MergeGuestCartOnSignIn(ctx)
}

// SignOut returns to the guest cart. The remote cart is left as is.
func (e *Engine) SignOut() {
	e.mu.Lock()
	e.token = ""
	e.mu.Unlock()
}

func (e *Engine) MergeGuestCartOnSignIn(ctx context.Context) (*models.MergeOutcome, error) {
	if e.Mode() != ModeAuthenticated {
		return nil, models.NewCartErrorf(models.KindInvalidArgument, "merge", "merge requires a signed-in session")
	}
	ctx, span := tracer.Start(ctx, "cartengine.merge")
	defer span.End()

	out, err := e.merger.Merge(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("merge.count", out.MergedCount))
	return out, nil
}

func (e *Engine) GetCart(ctx context.Context) (*models.Cart, error) {
	if e.Mode() == ModeAuthenticated {
		return e.remote.Get(ctx)
	}
	return e.guest.Get(ctx)
}

// AddToCart looks the product up in the catalog and adds quantityBoxes of it.
func (e *Engine) AddToCart(ctx context.Context, productID string, quantityBoxes int) (*models.Cart, error) {
	if productID == "" {
		return nil, models.NewCartErrorf(models.KindInvalidArgument, "add", models.ErrMsgProductRequired)
	}
	if quantityBoxes <= 0 {
		return nil, models.NewCartErrorf(models.KindInvalidArgument, "add", models.ErrMsgQuantityPositive)
	}

	if e.Mode() == ModeAuthenticated {
		return e.remote.Add(ctx, productID, quantityBoxes)
	}

	product, err := e.catalog.FetchProductSnapshot(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, models.NewCartErrorf(models.KindInvalidArgument, "add", "%s is no longer available", product.Name)
	}
	res, err := e.guest.Add(ctx, product, quantityBoxes, e.Tier())
	if res == nil {
		return nil, err
	}
	return res.Cart, err
}

// UpdateCartLine sets a line's quantity; zero or less removes it.
func (e *Engine) UpdateCartLine(ctx context.Context, lineID string, quantityBoxes int) (*models.Cart, error) {
	if e.Mode() == ModeAuthenticated {
		if quantityBoxes <= 0 {
			return e.remote.Remove(ctx, lineID)
		}
		return e.remote.Update(ctx, lineID, quantityBoxes)
	}
	return e.guest.SetQuantity(ctx, lineID, quantityBoxes)
}

func (e *Engine) RemoveCartLine(ctx context.Context, lineID string) (*models.Cart, error) {
	if e.Mode() == ModeAuthenticated {
		return e.remote.Remove(ctx, lineID)
	}
	return e.guest.Remove(ctx, lineID)
}

func (e *Engine) ClearCart(ctx context.Context) error {
	if e.Mode() == ModeAuthenticated {
		return e.remote.Clear(ctx)
	}
	return e.guest.Clear(ctx)
}

// SetClientTier records the pricing tier. The guest cart is re-priced under
// it; the remote cart is priced by the server and is returned as is.
func (e *Engine) SetClientTier(ctx context.Context, tier models.ClientTier) (*models.Cart, error) {
	tier = tier.Normalize()
	e.mu.Lock()
	e.tier = tier
	e.mu.Unlock()

	if e.Mode() == ModeAuthenticated {
		return e.remote.Get(ctx)
	}
	return e.guest.SetTier(ctx, tier)
}

// ValidateCart reconciles the current cart against live catalog data and
// applies the repairs to the cart. Guest repairs are applied by the store
// against the cart committed at that moment, so mutations that land while
// the catalog is read survive. Issues are returned even when a repair could
// not be saved; the next validation retries it.
func (e *Engine) ValidateCart(ctx context.Context) (*models.ValidationResult, error) {
	mode := e.Mode()
	ctx, span := tracer.Start(ctx, "cartengine.validate", trace.WithAttributes(attribute.String("session.mode", mode.String())))
	defer span.End()

	cart, err := e.GetCart(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	checked := cart.ProductIDs()
	truth, err := e.catalog.FetchProductSnapshots(ctx, checked)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var result models.ValidationResult
	if mode == ModeAuthenticated {
		result = reconcile.Validate(cart, truth)
		if reconcile.Changed(cart, result) {
			e.repairRemote(ctx, result)
		}
	} else {
		res, _, err := e.guest.Reconcile(ctx, checked, truth)
		if res == nil {
			span.RecordError(err)
			return nil, err
		}
		if err != nil {
			global.LogError(e.logger, "cartengine", "ValidateCart", "failed to save reconciled guest cart", len(res.AcceptedLines), err)
		}
		result = *res
	}
	span.SetAttributes(attribute.Int("validate.issues", len(result.Issues)), attribute.Bool("validate.can_checkout", result.CanCheckout))
	return &result, nil
}

func (e *Engine) repairRemote(ctx context.Context, result models.ValidationResult) {
	for _, issue := range result.Issues {
		var err error
		switch {
		case issue.Severity == models.SeverityError:
			_, err = e.remote.Remove(ctx, issue.LineID)
		case issue.Kind == models.IssueQuantityAdjusted && issue.AdjustedQuantity != nil:
			_, err = e.remote.Update(ctx, issue.LineID, *issue.AdjustedQuantity)
		}
		if err != nil {
			global.LogError(e.logger, "cartengine", "repairRemote", "failed to apply reconciliation to remote cart", issue, err)
		}
	}
}
