package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/afif1710/NexusMarket/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const cartsCollection = "carts"

type mongoCartRepository struct {
	collection *mongo.Collection
}

func NewMongoCartRepository(db *mongo.Database) CartRepository {
	return &mongoCartRepository{
		collection: db.Collection(cartsCollection),
	}
}

func (m *mongoCartRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var cart domain.Cart

	err := m.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return &cart, nil
}

func (m *mongoCartRepository) SaveCart(ctx context.Context, cart *domain.Cart, expectedVersion int64) error {
	now := time.Now().UTC()
	items := cart.Items
	if items == nil {
		items = []domain.CartItem{}
	}

	if expectedVersion == 0 {
		doc := domain.Cart{
			UserID:    cart.UserID,
			Items:     items,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if _, err := m.collection.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return ErrVersionConflict
			}
			return fmt.Errorf("failed to create cart: %w", err)
		}
		*cart = doc
		return nil
	}

	filter := bson.M{"user_id": cart.UserID, "version": expectedVersion}
	update := bson.M{
		"$set": bson.M{
			"items":      items,
			"updated_at": now,
			"version":    expectedVersion + 1,
		},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrVersionConflict
	}

	cart.Items = items
	cart.Version = expectedVersion + 1
	cart.UpdatedAt = now
	return nil
}

func (m *mongoCartRepository) ClearCart(ctx context.Context, userID string) error {
	filter := bson.M{"user_id": userID, "items.0": bson.M{"$exists": true}}
	update := bson.M{
		"$set": bson.M{"items": []domain.CartItem{}, "updated_at": time.Now().UTC()},
		"$inc": bson.M{"version": 1},
	}

	if _, err := m.collection.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

// clearedOrdersKept bounds the per-cart list of orders whose clear was applied.
const clearedOrdersKept = 50

func (m *mongoCartRepository) ClearCartForOrder(ctx context.Context, userID, orderID string) (bool, error) {
	now := time.Now().UTC()
	filter := bson.M{"user_id": userID, "cleared_orders": bson.M{"$ne": orderID}}
	update := bson.M{
		"$set":         bson.M{"items": []domain.CartItem{}, "updated_at": now},
		"$setOnInsert": bson.M{"created_at": now},
		"$inc":         bson.M{"version": 1},
		"$push": bson.M{"cleared_orders": bson.M{
			"$each":  []string{orderID},
			"$slice": -clearedOrdersKept,
		}},
	}

	// Upsert so a user without a cart still gets the marker; a later
	// redelivery then cannot empty a cart created after the payment.
	_, err := m.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// the cart exists and already carries orderID
			return false, nil
		}
		return false, fmt.Errorf("failed to clear cart for order: %w", err)
	}
	return true, nil
}

func (m *mongoCartRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create cart indexes: %w", err)
	}
	return nil
}
