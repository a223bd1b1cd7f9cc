package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"julianmorley.ca/con-plar/boxcart/pkg/catalog"
	"julianmorley.ca/con-plar/boxcart/pkg/models"
)

const (
	ProductsCollection = "products"
	StatusActive       = "active"
)

type stockDocument struct {
	// Total is counted in boxes.
	Total int `bson:"total"`
}

type productDocument struct {
	ID                bson.ObjectID `bson:"_id,omitempty"`
	SKU               string        `bson:"sku,omitempty"`
	Name              string        `bson:"name"`
	Price             float64       `bson:"price"`
	BoxPrice          *float64      `bson:"box_price,omitempty"`
	ItemsPerBox       int           `bson:"items_per_box"`
	WholesaleBoxPrice *float64      `bson:"wholesale_box_price,omitempty"`
	WholesaleMinBoxes *int          `bson:"wholesale_min_boxes,omitempty"`
	Stock             stockDocument `bson:"stock"`
	Status            string        `bson:"status"`
}

func (d productDocument) toSnapshot() models.ProductSnapshot {
	snap := models.ProductSnapshot{
		ProductID:         d.ID.Hex(),
		Name:              d.Name,
		UnitPrice:         decimal.NewFromFloat(d.Price),
		ItemsPerBox:       d.ItemsPerBox,
		WholesaleMinBoxes: d.WholesaleMinBoxes,
		StockBoxes:        d.Stock.Total,
		IsActive:          d.Status == StatusActive,
	}
	if d.BoxPrice != nil {
		snap.BoxPrice = models.Price(*d.BoxPrice)
	}
	if d.WholesaleBoxPrice != nil {
		snap.WholesaleBoxPrice = models.Price(*d.WholesaleBoxPrice)
	}
	return snap
}

// ProductRepository reads product snapshots from the products collection.
type ProductRepository struct {
	collection *mongo.Collection
}

func NewProductRepository(db *mongo.Database) *ProductRepository {
	return &ProductRepository{collection: db.Collection(ProductsCollection)}
}

func (r *ProductRepository) FindSnapshot(ctx context.Context, productID string) (models.ProductSnapshot, error) {
	oid, err := bson.ObjectIDFromHex(productID)
	if err != nil {
		return models.ProductSnapshot{}, fmt.Errorf("%w: %s", catalog.ErrNotFound, productID)
	}

	var doc productDocument
	err = r.collection.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.ProductSnapshot{}, fmt.Errorf("%w: %s", catalog.ErrNotFound, productID)
	}
	if err != nil {
		return models.ProductSnapshot{}, err
	}
	return doc.toSnapshot(), nil
}

// FindSnapshots skips ids that are not valid object ids; they cannot exist.
func (r *ProductRepository) FindSnapshots(ctx context.Context, productIDs []string) (map[string]models.ProductSnapshot, error) {
	oids := make(bson.A, 0, len(productIDs))
	for _, id := range productIDs {
		if oid, err := bson.ObjectIDFromHex(id); err == nil {
			oids = append(oids, oid)
		}
	}
	out := make(map[string]models.ProductSnapshot, len(oids))
	if len(oids) == 0 {
		return out, nil
	}

	cursor, err := r.collection.Find(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: oids}}}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []productDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	for _, doc := range docs {
		snap := doc.toSnapshot()
		out[snap.ProductID] = snap
	}
	return out, nil
}

type pageFacet struct {
	Items []productDocument `bson:"items"`
	Total []struct {
		Count int64 `bson:"count"`
	} `bson:"total"`
}

// ListPage returns active products sorted by name, counting the total in the
// same round trip.
func (r *ProductRepository) ListPage(ctx context.Context, page, limit int) (*models.ProductPage, error) {
	pipeline := bson.A{
		bson.D{{Key: "$match", Value: bson.D{{Key: "status", Value: StatusActive}}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}}}},
		bson.D{{Key: "$facet", Value: bson.D{
			{Key: "items", Value: bson.A{
				bson.D{{Key: "$skip", Value: int64((page - 1) * limit)}},
				bson.D{{Key: "$limit", Value: int64(limit)}},
			}},
			{Key: "total", Value: bson.A{
				bson.D{{Key: "$count", Value: "count"}},
			}},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var facets []pageFacet
	if err := cursor.All(ctx, &facets); err != nil {
		return nil, err
	}

	result := &models.ProductPage{Products: []models.ProductSnapshot{}, Page: page, Limit: limit}
	if len(facets) == 0 {
		return result, nil
	}
	for _, doc := range facets[0].Items {
		result.Products = append(result.Products, doc.toSnapshot())
	}
	if len(facets[0].Total) > 0 {
		result.Total = facets[0].Total[0].Count
	}
	result.TotalPages = catalog.TotalPages(result.Total, limit)
	return result, nil
}
