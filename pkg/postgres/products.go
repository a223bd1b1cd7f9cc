package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"julianmorley.ca/con-plar/boxcart/pkg/catalog"
	"julianmorley.ca/con-plar/boxcart/pkg/models"
)

// Querier is the subset of *pgxpool.Pool the repository needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Prices are read as text so they convert to decimal without float rounding.
const snapshotColumns = `id, name, unit_price::text, box_price::text, items_per_box,
	wholesale_box_price::text, wholesale_min_boxes, stock_boxes, is_active`

type ProductRepository struct {
	db Querier
}

func NewProductRepository(db Querier) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) FindSnapshot(ctx context.Context, productID string) (models.ProductSnapshot, error) {
	row := r.db.QueryRow(ctx, "SELECT "+snapshotColumns+" FROM products WHERE id = $1", productID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ProductSnapshot{}, fmt.Errorf("%w: %s", catalog.ErrNotFound, productID)
	}
	return snap, err
}

func (r *ProductRepository) FindSnapshots(ctx context.Context, productIDs []string) (map[string]models.ProductSnapshot, error) {
	out := make(map[string]models.ProductSnapshot, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}

	rows, err := r.db.Query(ctx, "SELECT "+snapshotColumns+" FROM products WHERE id = ANY($1)", productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out[snap.ProductID] = snap
	}
	return out, rows.Err()
}

func (r *ProductRepository) ListPage(ctx context.Context, page, limit int) (*models.ProductPage, error) {
	result := &models.ProductPage{Products: []models.ProductSnapshot{}, Page: page, Limit: limit}

	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM products WHERE is_active").Scan(&result.Total); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx,
		"SELECT "+snapshotColumns+" FROM products WHERE is_active ORDER BY name, id LIMIT $1 OFFSET $2",
		limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		result.Products = append(result.Products, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	result.TotalPages = catalog.TotalPages(result.Total, limit)
	return result, nil
}

func scanSnapshot(row pgx.Row) (models.ProductSnapshot, error) {
	var (
		snap                models.ProductSnapshot
		unitPrice           string
		boxPrice, wholesale *string
	)
	err := row.Scan(&snap.ProductID, &snap.Name, &unitPrice, &boxPrice, &snap.ItemsPerBox,
		&wholesale, &snap.WholesaleMinBoxes, &snap.StockBoxes, &snap.IsActive)
	if err != nil {
		return models.ProductSnapshot{}, err
	}

	if snap.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
		return models.ProductSnapshot{}, fmt.Errorf("product %s unit price: %w", snap.ProductID, err)
	}
	if snap.BoxPrice, err = nullDecimal(boxPrice); err != nil {
		return models.ProductSnapshot{}, fmt.Errorf("product %s box price: %w", snap.ProductID, err)
	}
	if snap.WholesaleBoxPrice, err = nullDecimal(wholesale); err != nil {
		return models.ProductSnapshot{}, fmt.Errorf("product %s wholesale price: %w", snap.ProductID, err)
	}
	return snap, nil
}

func nullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
