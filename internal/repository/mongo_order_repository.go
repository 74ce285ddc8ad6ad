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

const ordersCollection = "orders"

// orderDocument embeds the order's unpublished events next to it so every
// state change and its event land in one single-document write.
type orderDocument struct {
	domain.Order `bson:",inline"`
	Outbox       []domain.OrderEvent `bson:"outbox"`
}

type mongoOrderRepository struct {
	collection *mongo.Collection
}

func NewMongoOrderRepository(db *mongo.Database) OrderRepository {
	return &mongoOrderRepository{collection: db.Collection(ordersCollection)}
}

func (m *mongoOrderRepository) CreateOrder(ctx context.Context, order *domain.Order, event domain.OrderEvent) error {
	doc := orderDocument{Order: *order, Outbox: []domain.OrderEvent{event}}
	if _, err := m.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (m *mongoOrderRepository) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var doc orderDocument
	opts := options.FindOne().SetProjection(bson.M{"outbox": 0})
	err := m.collection.FindOne(ctx, bson.M{"order_id": orderID}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &doc.Order, nil
}

func (m *mongoOrderRepository) ListOrdersByUser(ctx context.Context, userID string, limit int) ([]*domain.Order, error) {
	return m.find(ctx, bson.M{"user_id": userID}, limit)
}

func (m *mongoOrderRepository) ListOrders(ctx context.Context, limit int) ([]*domain.Order, error) {
	return m.find(ctx, bson.M{}, limit)
}

func (m *mongoOrderRepository) find(ctx context.Context, filter bson.M, limit int) ([]*domain.Order, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetProjection(bson.M{"outbox": 0})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find orders: %w", err)
	}
	defer cursor.Close(ctx)

	var orders []*domain.Order
	for cursor.Next(ctx) {
		var doc orderDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode order: %w", err)
		}
		order := doc.Order
		orders = append(orders, &order)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("order cursor error: %w", err)
	}
	return orders, nil
}

func (m *mongoOrderRepository) ApplyTransition(ctx context.Context, orderID string, t Transition) (bool, error) {
	filter := bson.M{
		"order_id":       orderID,
		"status":         t.FromStatus,
		"payment_status": t.FromPaymentStatus,
	}

	set := bson.M{
		"status":         t.Status,
		"payment_status": t.PaymentStatus,
		"updated_at":     t.At,
	}
	if t.TrackingNumber != "" {
		set["tracking_number"] = t.TrackingNumber
	}
	if t.PaidAt != nil {
		set["paid_at"] = *t.PaidAt
	}

	update := bson.M{
		"$set":  set,
		"$push": bson.M{"outbox": t.Event},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("failed to transition order: %w", err)
	}
	return result.ModifiedCount == 1, nil
}

func (m *mongoOrderRepository) MarkCartCleared(ctx context.Context, orderID string) error {
	result, err := m.collection.UpdateOne(ctx,
		bson.M{"order_id": orderID},
		bson.M{"$set": bson.M{"cart_cleared": true, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark cart cleared: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (m *mongoOrderRepository) FindCartClearPending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Order, error) {
	filter := bson.M{
		"payment_status": domain.PaymentStatusPaid,
		"cart_cleared":   false,
		"paid_at":        bson.M{"$lt": cutoff},
		"$or": bson.A{
			bson.M{"cart_clear_requested_at": bson.M{"$exists": false}},
			bson.M{"cart_clear_requested_at": bson.M{"$lt": cutoff}},
		},
	}
	return m.find(ctx, filter, limit)
}

func (m *mongoOrderRepository) RequestCartClear(ctx context.Context, orderID string, at time.Time, event domain.OrderEvent) error {
	update := bson.M{
		"$set":  bson.M{"cart_clear_requested_at": at},
		"$push": bson.M{"outbox": event},
	}
	result, err := m.collection.UpdateOne(ctx, bson.M{"order_id": orderID, "cart_cleared": false}, update)
	if err != nil {
		return fmt.Errorf("failed to request cart clear: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (m *mongoOrderRepository) GetUnpublishedEvents(ctx context.Context, limit int) ([]domain.OrderEvent, error) {
	opts := options.Find().
		SetProjection(bson.M{"outbox": 1}).
		SetSort(bson.D{{Key: "updated_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := m.collection.Find(ctx, bson.M{"outbox.0": bson.M{"$exists": true}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find outbox events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []domain.OrderEvent
	for cursor.Next(ctx) {
		var doc struct {
			Outbox []domain.OrderEvent `bson:"outbox"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode outbox: %w", err)
		}
		events = append(events, doc.Outbox...)
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("outbox cursor error: %w", err)
	}
	return events, nil
}

func (m *mongoOrderRepository) MarkEventPublished(ctx context.Context, event domain.OrderEvent) error {
	_, err := m.collection.UpdateOne(ctx,
		bson.M{"order_id": event.OrderID},
		bson.M{"$pull": bson.M{"outbox": bson.M{"event_id": event.EventID}}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark event published: %w", err)
	}
	return nil
}

func (m *mongoOrderRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "order_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys:    bson.D{{Key: "payment_status", Value: 1}, {Key: "cart_cleared", Value: 1}},
			Options: options.Index().SetPartialFilterExpression(bson.M{"cart_cleared": false}),
		},
		{
			Keys:    bson.D{{Key: "outbox.event_id", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create order indexes: %w", err)
	}
	return nil
}
