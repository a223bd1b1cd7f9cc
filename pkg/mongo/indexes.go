package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"julianmorley.ca/con-plar/boxcart/pkg/global"
)

type IndexConfig struct {
	CollectionName string
	IndexModel     mongo.IndexModel
}

var requiredIndexes = []IndexConfig{
	// Active catalog listing, sorted by name
	{
		CollectionName: ProductsCollection,
		IndexModel: mongo.IndexModel{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "name", Value: 1},
			},
			Options: options.Index().SetName("idx_status_name"),
		},
	},
	// Stock checks during reconciliation
	{
		CollectionName: ProductsCollection,
		IndexModel: mongo.IndexModel{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "stock.total", Value: 1},
			},
			Options: options.Index().SetName("idx_stock_alert"),
		},
	},
	{
		CollectionName: ProductsCollection,
		IndexModel: mongo.IndexModel{
			Keys:    bson.D{{Key: "sku", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true).SetName("idx_sku_unique"),
		},
	},
}

func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	logger := global.GetLogger()
	logger.Info("Starting index creation...")

	for _, idxConfig := range requiredIndexes {
		indexName, err := db.Collection(idxConfig.CollectionName).Indexes().CreateOne(ctx, idxConfig.IndexModel)
		if err != nil {
			return fmt.Errorf("creating index on collection %s: %w", idxConfig.CollectionName, err)
		}
		logger.WithField("collection", idxConfig.CollectionName).Infof("Created index '%s'", indexName)
	}

	logger.Info("All indexes created successfully")
	return nil
}
