package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"julianmorley.ca/con-plar/boxcart/pkg/global"
)

func NewClient(cfg *global.Config) (*mongo.Client, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)

	clientOptions := options.Client().ApplyURI(cfg.MongoURI).SetServerAPIOptions(serverAPI)
	client, err := mongo.Connect(clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create MongoDB client: %w", err)
	}
	return client, nil
}

// Connect returns the catalog database after pinging the server.
func Connect(ctx context.Context, cfg *global.Config) (*mongo.Client, *mongo.Database, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, nil, err
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	global.GetLogger().WithField("database", cfg.MongoDatabase).Info("Connected to MongoDB successfully")
	return client, client.Database(cfg.MongoDatabase), nil
}
