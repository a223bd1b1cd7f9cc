// Package catalog serves product snapshots to the cart. Reads go through a
// time-boxed cache; reconciliation lookups always hit the source.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"julianmorley.ca/con-plar/boxcart/pkg/cache"
	"julianmorley.ca/con-plar/boxcart/pkg/global"
	"julianmorley.ca/con-plar/boxcart/pkg/models"
)

const (
	DefaultTTL   = 5 * time.Minute
	DefaultLimit = 20
	MaxLimit     = 100
)

var ErrNotFound = errors.New("product not found")

// Source is a product store. FindSnapshot returns ErrNotFound for unknown ids;
// FindSnapshots omits them from the map.
type Source interface {
	FindSnapshot(ctx context.Context, productID string) (models.ProductSnapshot, error)
	FindSnapshots(ctx context.Context, productIDs []string) (map[string]models.ProductSnapshot, error)
	ListPage(ctx context.Context, page, limit int) (*models.ProductPage, error)
}

type Service struct {
	source   Source
	products *cache.Cache[models.ProductSnapshot]
	pages    *cache.Cache[models.ProductPage]
	logger   *logrus.Logger
}

func NewService(source Source, store cache.Store, ttl time.Duration, opts ...cache.Option) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		source:   source,
		products: cache.New[models.ProductSnapshot](store, "catalog:product", ttl, opts...),
		pages:    cache.New[models.ProductPage](store, "catalog:page", ttl, opts...),
		logger:   global.GetLogger(),
	}
}

// FetchProductSnapshot returns the product, from cache when fresh.
func (s *Service) FetchProductSnapshot(ctx context.Context, productID string) (models.ProductSnapshot, error) {
	snap, _, err := s.GetProduct(ctx, productID)
	return snap, err
}

// GetProduct is FetchProductSnapshot that also reports a cache hit.
func (s *Service) GetProduct(ctx context.Context, productID string) (models.ProductSnapshot, bool, error) {
	if productID == "" {
		return models.ProductSnapshot{}, false, models.NewCartErrorf(models.KindInvalidArgument, "fetch product", models.ErrMsgProductRequired)
	}
	snap, cached, err := s.products.Fetch(ctx, productID, false, func(ctx context.Context) (models.ProductSnapshot, error) {
		return s.source.FindSnapshot(ctx, productID)
	})
	if err != nil {
		return models.ProductSnapshot{}, false, sourceError("fetch product", err)
	}
	return snap, cached, nil
}

// FetchProductSnapshots reads every id from the source, refreshing the cache
// with what it found. Unknown ids are absent from the result.
func (s *Service) FetchProductSnapshots(ctx context.Context, productIDs []string) (map[string]models.ProductSnapshot, error) {
	ids := unique(productIDs)
	if len(ids) == 0 {
		return map[string]models.ProductSnapshot{}, nil
	}

	found, err := s.source.FindSnapshots(ctx, ids)
	if err != nil {
		return nil, sourceError("fetch products", err)
	}
	if found == nil {
		found = map[string]models.ProductSnapshot{}
	}

	for id, snap := range found {
		if _, err := s.products.Write(ctx, id, snap); err != nil {
			global.LogError(s.logger, "catalog", "FetchProductSnapshots", "failed to cache product", id, err)
		}
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			if err := s.products.Delete(ctx, id); err != nil {
				global.LogError(s.logger, "catalog", "FetchProductSnapshots", "failed to evict missing product", id, err)
			}
		}
	}
	return found, nil
}

// ListProducts returns one page of active products. The bool is true when
// the page was served from cache.
func (s *Service) ListProducts(ctx context.Context, page, limit int, forceRefresh bool) (*models.ProductPage, bool, error) {
	page, limit = normalizePage(page, limit)
	key := cache.Key("page", page, "limit", limit)

	result, cached, err := s.pages.Fetch(ctx, key, forceRefresh, func(ctx context.Context) (models.ProductPage, error) {
		p, err := s.source.ListPage(ctx, page, limit)
		if err != nil {
			return models.ProductPage{}, err
		}
		if p.Products == nil {
			p.Products = []models.ProductSnapshot{}
		}
		return *p, nil
	})
	if err != nil {
		return nil, false, sourceError("list products", err)
	}
	return &result, cached, nil
}

// Invalidate drops a cached product so the next read reloads it.
func (s *Service) Invalidate(ctx context.Context, productID string) error {
	return s.products.Delete(ctx, productID)
}

func sourceError(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return models.NewCartError(models.KindNotFound, op, err)
	}
	var ce *models.CartError
	if errors.As(err, &ce) {
		return err
	}
	return models.NewCartError(models.KindNetwork, op, fmt.Errorf("catalog unavailable: %w", err))
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit
}

// TotalPages is the page count for total items at limit per page.
func TotalPages(total int64, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}

func unique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
