package repository

import (
	"context"
	"errors"
	"time"

	"github.com/afif1710/NexusMarket/internal/domain"
)

var (
	ErrVersionConflict = errors.New("concurrent modification")
	ErrDuplicateOrder  = errors.New("order already exists")
)

// CartRepository stores one cart document per user.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	// SaveCart writes cart only if the stored version still equals expectedVersion.
	// expectedVersion 0 means the cart must not exist yet.
	SaveCart(ctx context.Context, cart *domain.Cart, expectedVersion int64) error
	// ClearCart empties the cart. A missing or already empty cart is not an error.
	ClearCart(ctx context.Context, userID string) error
	// ClearCartForOrder empties the cart at most once per orderID and reports
	// whether this call did it.
	ClearCartForOrder(ctx context.Context, userID, orderID string) (bool, error)
}

type CatalogRepository interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	GetProducts(ctx context.Context, productIDs []string) (map[string]*domain.Product, error)
}

// StockRepository adjusts catalog stock for paid orders.
type StockRepository interface {
	// DecrementForOrder subtracts each item's quantity from its product unless
	// orderID was already applied to it. It returns the new levels of the
	// products it changed.
	DecrementForOrder(ctx context.Context, orderID string, items []domain.OrderLineItem) ([]domain.StockLevel, error)
}

// LoyaltyRepository credits points to user accounts at most once per order.
type LoyaltyRepository interface {
	AwardForOrder(ctx context.Context, userID, orderID string, points int64) (bool, error)
}

// Transition is a compare-and-swap on an order's status pair. It applies only
// when the stored status and payment status still equal the From values, and
// the event is written in the same operation.
type Transition struct {
	FromStatus        domain.OrderStatus
	FromPaymentStatus domain.PaymentStatus
	Status            domain.OrderStatus
	PaymentStatus     domain.PaymentStatus
	TrackingNumber    string
	PaidAt            *time.Time
	At                time.Time
	Event             domain.OrderEvent
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *domain.Order, event domain.OrderEvent) error
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrdersByUser(ctx context.Context, userID string, limit int) ([]*domain.Order, error)
	ListOrders(ctx context.Context, limit int) ([]*domain.Order, error)
	// ApplyTransition reports false when the order was not in the expected state.
	ApplyTransition(ctx context.Context, orderID string, t Transition) (bool, error)
	MarkCartCleared(ctx context.Context, orderID string) error
	// FindCartClearPending returns paid orders whose cart is not yet cleared,
	// paid before cutoff and not asked to clear since cutoff.
	FindCartClearPending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Order, error)
	RequestCartClear(ctx context.Context, orderID string, at time.Time, event domain.OrderEvent) error

	GetUnpublishedEvents(ctx context.Context, limit int) ([]domain.OrderEvent, error)
	MarkEventPublished(ctx context.Context, event domain.OrderEvent) error
}

type SessionRepository interface {
	CreateSession(ctx context.Context, session *domain.PaymentSession) error
	GetSession(ctx context.Context, sessionID string) (*domain.PaymentSession, error)
	// UpdateSessionStatus records the provider's answer. A terminal payment
	// status already stored is never replaced by a different one.
	UpdateSessionStatus(ctx context.Context, sessionID string, provider domain.ProviderStatus, payment domain.PaymentStatus) error
	ListOpenSessions(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.PaymentSession, error)
}
