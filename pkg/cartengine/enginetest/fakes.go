// Package enginetest provides in-memory collaborators for exercising the cart
// engine without a catalog database or a remote cart service.
package enginetest

import (
	"context"
	"fmt"
	"sync"

	"julianmorley.ca/con-plar/boxcart/pkg/cache"
	"julianmorley.ca/con-plar/boxcart/pkg/cartengine"
	"julianmorley.ca/con-plar/boxcart/pkg/catalog"
	"julianmorley.ca/con-plar/boxcart/pkg/guestcart"
	"julianmorley.ca/con-plar/boxcart/pkg/merge"
	"julianmorley.ca/con-plar/boxcart/pkg/models"
	"julianmorley.ca/con-plar/boxcart/pkg/pricing"
)

// Catalog is a mutable product table.
type Catalog struct {
	mu       sync.Mutex
	products map[string]models.ProductSnapshot
	Err      error

	gate    chan struct{}
	entered chan struct{}
}

func NewCatalog(products ...models.ProductSnapshot) *Catalog {
	c := &Catalog{products: map[string]models.ProductSnapshot{}}
	for _, p := range products {
		c.products[p.ProductID] = p
	}
	return c
}

func (c *Catalog) Put(p models.ProductSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ProductID] = p
}

func (c *Catalog) Delete(productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.products, productID)
}

// Update applies fn to a stored product.
func (c *Catalog) Update(productID string, fn func(p *models.ProductSnapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.products[productID]
	fn(&p)
	c.products[productID] = p
}

func (c *Catalog) FetchProductSnapshot(_ context.Context, productID string) (models.ProductSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return models.ProductSnapshot{}, c.Err
	}
	p, ok := c.products[productID]
	if !ok {
		return models.ProductSnapshot{}, models.NewCartError(models.KindNotFound, "fetch product", fmt.Errorf("%w: %s", catalog.ErrNotFound, productID))
	}
	return p, nil
}

// Block holds the next FetchProductSnapshots call until release is called.
// entered is closed once that call is waiting.
func (c *Catalog) Block() (entered <-chan struct{}, release func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gate, in := make(chan struct{}), make(chan struct{})
	c.gate, c.entered = gate, in
	var once sync.Once
	return in, func() { once.Do(func() { close(gate) }) }
}

func (c *Catalog) FetchProductSnapshots(_ context.Context, productIDs []string) (map[string]models.ProductSnapshot, error) {
	c.mu.Lock()
	gate, entered := c.gate, c.entered
	c.gate, c.entered = nil, nil
	c.mu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	out := make(map[string]models.ProductSnapshot, len(productIDs))
	for _, id := range productIDs {
		if p, ok := c.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// Server is a server-authoritative cart. Merges are applied once per token.
type Server struct {
	mu         sync.Mutex
	catalog    *Catalog
	cart       *models.Cart
	seq        int
	applied    map[string]bool
	MergeCalls int
	FailMerge  error
}

func NewServer(catalog *Catalog) *Server {
	return &Server{catalog: catalog, cart: models.EmptyCart(), applied: map[string]bool{}}
}

func (s *Server) Get(context.Context) (*models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone(), nil
}

func (s *Server) Add(ctx context.Context, productID string, quantityBoxes int) (*models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.addLocked(ctx, productID, quantityBoxes); err != nil {
		return nil, err
	}
	return s.cart.Clone(), nil
}

func (s *Server) addLocked(ctx context.Context, productID string, quantityBoxes int) error {
	product, err := s.catalog.FetchProductSnapshot(ctx, productID)
	if err != nil {
		return models.NewCartError(models.KindRemoteRejected, "add", err)
	}
	if i, ok := s.cart.LineByProduct(productID); ok {
		s.cart.Lines[i].QuantityBoxes += quantityBoxes
		s.cart.Lines[i].PriceSnapshot = product
	} else {
		s.seq++
		s.cart.Lines = append(s.cart.Lines, models.CartLine{
			ID:            fmt.Sprintf("srv-%d", s.seq),
			ProductID:     productID,
			QuantityBoxes: quantityBoxes,
			PriceSnapshot: product,
		})
	}
	pricing.Recompute(s.cart)
	return nil
}

func (s *Server) Update(_ context.Context, lineID string, quantityBoxes int) (*models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.cart.LineByID(lineID)
	if !ok {
		return nil, models.NewCartErrorf(models.KindNotFound, "update", "Item not found in cart")
	}
	s.cart.Lines[i].QuantityBoxes = quantityBoxes
	pricing.Recompute(s.cart)
	return s.cart.Clone(), nil
}

func (s *Server) Remove(_ context.Context, lineID string) (*models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.cart.LineByID(lineID); ok {
		s.cart.Lines = append(s.cart.Lines[:i], s.cart.Lines[i+1:]...)
		pricing.Recompute(s.cart)
	}
	return s.cart.Clone(), nil
}

func (s *Server) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart = models.EmptyCart()
	return nil
}

func (s *Server) Merge(ctx context.Context, req models.MergeRequest) (*models.MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MergeCalls++
	if s.FailMerge != nil {
		return nil, s.FailMerge
	}
	stats := &models.MergeStats{}
	if req.MergeToken == "" || !s.applied[req.MergeToken] {
		s.applied[req.MergeToken] = true
		for _, item := range req.Items {
			_, existed := s.cart.LineByProduct(item.ProductID)
			if err := s.addLocked(ctx, item.ProductID, item.QuantityBoxes); err != nil {
				stats.Skipped++
				continue
			}
			if existed {
				stats.Updated++
			} else {
				stats.Added++
			}
		}
	}
	return &models.MergeResult{Cart: s.cart.Clone(), Stats: stats}, nil
}

// Quantity is the server-side quantity for productID.
func (s *Server) Quantity(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.cart.LineByProduct(productID); ok {
		return s.cart.Lines[i].QuantityBoxes
	}
	return 0
}

func (s *Server) SetFailMerge(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailMerge = err
}

func (s *Server) MergeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.MergeCalls
}

// Harness is an engine wired to in-memory storage, a fake catalog and a fake
// server.
type Harness struct {
	Engine  *cartengine.Engine
	Guest   *guestcart.Store
	Catalog *Catalog
	Server  *Server
	Merger  *merge.Coordinator
}

// NewHarness builds a Harness; call Close when done.
func NewHarness(products ...models.ProductSnapshot) *Harness {
	store := cache.NewMemoryStore()
	guest := guestcart.NewStore(cache.New[models.PersistedCart](store, "device", cache.NoExpiry), guestcart.DefaultKey)
	cat := NewCatalog(products...)
	srv := NewServer(cat)
	merger := merge.NewCoordinator(guest, srv, cache.New[models.MergeMarker](store, "device", cache.NoExpiry), merge.DefaultMarkerKey)

	return &Harness{
		Engine:  cartengine.New(guest, srv, cat, merger),
		Guest:   guest,
		Catalog: cat,
		Server:  srv,
		Merger:  merger,
	}
}

func (h *Harness) Close() {
	h.Guest.Close()
}

// Product builds an active snapshot priced per box with a wholesale price.
func Product(id string, boxPrice, wholesaleBoxPrice float64, stock int) models.ProductSnapshot {
	p := models.ProductSnapshot{
		ProductID:   id,
		Name:        "Product " + id,
		BoxPrice:    models.Price(boxPrice),
		ItemsPerBox: 12,
		StockBoxes:  stock,
		IsActive:    true,
	}
	if wholesaleBoxPrice > 0 {
		p.WholesaleBoxPrice = models.Price(wholesaleBoxPrice)
	}
	return p
}
