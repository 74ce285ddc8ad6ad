package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/afif1710/NexusMarket/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection = "users"

	// appliedOrdersKept bounds the per-document list of orders already applied.
	appliedOrdersKept = 200
)

type mongoStockRepository struct {
	collection *mongo.Collection
}

func NewMongoStockRepository(db *mongo.Database) StockRepository {
	return &mongoStockRepository{collection: db.Collection(productsCollection)}
}

func (m *mongoStockRepository) DecrementForOrder(ctx context.Context, orderID string, items []domain.OrderLineItem) ([]domain.StockLevel, error) {
	qty := make(map[string]int, len(items))
	var ids []string
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		if _, seen := qty[it.ProductID]; !seen {
			ids = append(ids, it.ProductID)
		}
		qty[it.ProductID] += it.Quantity
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"product_id": 1, "stock": 1})

	levels := make([]domain.StockLevel, 0, len(ids))
	for _, id := range ids {
		filter := bson.M{"product_id": id, "stock_applied_orders": bson.M{"$ne": orderID}}
		update := bson.M{
			"$inc": bson.M{"stock": -qty[id]},
			"$push": bson.M{"stock_applied_orders": bson.M{
				"$each":  []string{orderID},
				"$slice": -appliedOrdersKept,
			}},
		}

		var level domain.StockLevel
		err := m.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&level)
		if errors.Is(err, mongo.ErrNoDocuments) {
			// unknown product, or this order was already applied
			continue
		}
		if err != nil {
			return levels, fmt.Errorf("failed to decrement stock of %s: %w", id, err)
		}
		levels = append(levels, level)
	}
	return levels, nil
}

type mongoLoyaltyRepository struct {
	collection *mongo.Collection
}

// NewMongoLoyaltyRepository credits points on the account records owned by
// the identity service. Unknown users are skipped.
func NewMongoLoyaltyRepository(db *mongo.Database) LoyaltyRepository {
	return &mongoLoyaltyRepository{collection: db.Collection(usersCollection)}
}

func (m *mongoLoyaltyRepository) AwardForOrder(ctx context.Context, userID, orderID string, points int64) (bool, error) {
	filter := bson.M{"user_id": userID, "loyalty_orders": bson.M{"$ne": orderID}}
	update := bson.M{
		"$inc": bson.M{"loyalty_points": points},
		"$push": bson.M{"loyalty_orders": bson.M{
			"$each":  []string{orderID},
			"$slice": -appliedOrdersKept,
		}},
	}
	res, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to award loyalty points: %w", err)
	}
	return res.ModifiedCount == 1, nil
}
