package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

// EnsureIndexes creates the indexes every Mongo-backed repository relies on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	for _, ix := range []interface{ CreateIndexes(context.Context) error }{
		&mongoCartRepository{collection: db.Collection(cartsCollection)},
		&mongoOrderRepository{collection: db.Collection(ordersCollection)},
		&mongoSessionRepository{collection: db.Collection(sessionsCollection)},
	} {
		if err := ix.CreateIndexes(ctx); err != nil {
			return err
		}
	}
	return nil
}
