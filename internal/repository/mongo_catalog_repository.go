package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/afif1710/NexusMarket/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const productsCollection = "products"

// productDocument mirrors the catalog's product records, which keep prices
// as floating point major units.
type productDocument struct {
	ProductID string   `bson:"product_id"`
	SellerID  string   `bson:"seller_id"`
	Name      string   `bson:"name"`
	Price     float64  `bson:"price"`
	Images    []string `bson:"images"`
	Stock     int      `bson:"stock"`
}

func (d productDocument) toDomain() *domain.Product {
	p := &domain.Product{
		ProductID: d.ProductID,
		SellerID:  d.SellerID,
		Name:      d.Name,
		Price:     domain.MoneyFromFloat(d.Price),
		Stock:     d.Stock,
	}
	if len(d.Images) > 0 {
		p.Image = d.Images[0]
	}
	return p
}

type mongoCatalogRepository struct {
	collection *mongo.Collection
}

// NewMongoCatalogRepository reads products owned by the catalog service. It never writes.
func NewMongoCatalogRepository(db *mongo.Database) CatalogRepository {
	return &mongoCatalogRepository{collection: db.Collection(productsCollection)}
}

func (m *mongoCatalogRepository) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var doc productDocument
	err := m.collection.FindOne(ctx, bson.M{"product_id": productID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return doc.toDomain(), nil
}

// GetProducts returns the products found; missing ids are simply absent from the map.
func (m *mongoCatalogRepository) GetProducts(ctx context.Context, productIDs []string) (map[string]*domain.Product, error) {
	out := make(map[string]*domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}

	cursor, err := m.collection.Find(ctx, bson.M{"product_id": bson.M{"$in": productIDs}})
	if err != nil {
		return nil, fmt.Errorf("failed to find products: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc productDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode product: %w", err)
		}
		out[doc.ProductID] = doc.toDomain()
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("product cursor error: %w", err)
	}
	return out, nil
}
