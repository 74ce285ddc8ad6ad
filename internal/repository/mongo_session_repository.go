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

const sessionsCollection = "payment_sessions"

type mongoSessionRepository struct {
	collection *mongo.Collection
}

func NewMongoSessionRepository(db *mongo.Database) SessionRepository {
	return &mongoSessionRepository{collection: db.Collection(sessionsCollection)}
}

func (m *mongoSessionRepository) CreateSession(ctx context.Context, session *domain.PaymentSession) error {
	if _, err := m.collection.InsertOne(ctx, session); err != nil {
		return fmt.Errorf("failed to insert payment session: %w", err)
	}
	return nil
}

func (m *mongoSessionRepository) GetSession(ctx context.Context, sessionID string) (*domain.PaymentSession, error) {
	var s domain.PaymentSession
	err := m.collection.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&s)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get payment session: %w", err)
	}
	return &s, nil
}

func (m *mongoSessionRepository) UpdateSessionStatus(ctx context.Context, sessionID string, provider domain.ProviderStatus, payment domain.PaymentStatus) error {
	filter := bson.M{
		"session_id":     sessionID,
		"payment_status": bson.M{"$in": bson.A{domain.PaymentStatusUnpaid, payment}},
	}
	update := bson.M{"$set": bson.M{
		"provider_status": provider,
		"payment_status":  payment,
		"updated_at":      time.Now().UTC(),
	}}

	if _, err := m.collection.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to update payment session: %w", err)
	}
	return nil
}

func (m *mongoSessionRepository) ListOpenSessions(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.PaymentSession, error) {
	filter := bson.M{
		"payment_status": domain.PaymentStatusUnpaid,
		"created_at":     bson.M{"$lt": createdBefore},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find open sessions: %w", err)
	}

	var sessions []*domain.PaymentSession
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("failed to decode open sessions: %w", err)
	}
	return sessions, nil
}

func (m *mongoSessionRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "transaction_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "order_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "payment_status", Value: 1}, {Key: "created_at", Value: 1}},
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create payment session indexes: %w", err)
	}
	return nil
}
