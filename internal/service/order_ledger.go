package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/afif1710/NexusMarket/internal/domain"
	"github.com/afif1710/NexusMarket/internal/pricing"
	"github.com/afif1710/NexusMarket/internal/repository"
	"github.com/google/uuid"
)

const (
	maxTransitionAttempts = 3
	maxCreateAttempts     = 3
	defaultListLimit      = 100
)

// OrderObserver is told about every order change that was actually applied.
type OrderObserver interface {
	OrderUpdated(order *domain.Order)
}

type OrderLedger struct {
	repo     repository.OrderRepository
	rules    pricing.Rules
	observer OrderObserver
	log      *slog.Logger
	now      func() time.Time
	newID    func(prefix string) string
}

func NewOrderLedger(repo repository.OrderRepository, rules pricing.Rules, observer OrderObserver, log *slog.Logger) *OrderLedger {
	return &OrderLedger{
		repo:     repo,
		rules:    rules,
		observer: observer,
		log:      log.With("component", "order-ledger"),
		now:      time.Now,
		newID:    shortID,
	}
}

// Create stores a new pending order. Totals are computed here from the line
// items and never recomputed afterwards.
func (l *OrderLedger) Create(ctx context.Context, userID string, items []domain.OrderLineItem, addr domain.ShippingAddress, paymentMethod string) (*domain.Order, error) {
	if len(items) == 0 {
		return nil, domain.ErrEmptyCart
	}
	for _, it := range items {
		if it.Quantity < 1 {
			return nil, fmt.Errorf("%w: %s has quantity %d", domain.ErrInvalidQuantity, it.ProductID, it.Quantity)
		}
	}
	if err := addr.Validate(); err != nil {
		return nil, err
	}
	paymentMethod = strings.ToLower(strings.TrimSpace(paymentMethod))
	if paymentMethod == "" {
		return nil, domain.ErrInvalidPaymentMethod
	}

	price := pricing.Price(items, l.rules)
	now := l.now().UTC()
	order := &domain.Order{
		UserID:          userID,
		Items:           append([]domain.OrderLineItem(nil), items...),
		ShippingAddress: addr,
		Subtotal:        price.Subtotal,
		ShippingCost:    price.Shipping,
		Tax:             price.Tax,
		Total:           price.Total,
		PaymentMethod:   paymentMethod,
		Status:          domain.OrderStatusPendingPayment,
		PaymentStatus:   domain.PaymentStatusUnpaid,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		order.OrderID = l.newID("ord_")
		err := l.repo.CreateOrder(ctx, order, l.event(order, domain.EventOrderCreated))
		if errors.Is(err, repository.ErrDuplicateOrder) {
			continue
		}
		if err != nil {
			l.log.ErrorContext(ctx, "create order failed", "user_id", userID, "error", err)
			return nil, err
		}
		l.log.InfoContext(ctx, "order created", "order_id", order.OrderID, "user_id", userID, "total", order.Total.String())
		l.notify(order)
		return order, nil
	}
	return nil, fmt.Errorf("create order: %w", repository.ErrDuplicateOrder)
}

func (l *OrderLedger) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	return l.repo.GetOrder(ctx, orderID)
}

// List returns every order for admins and the caller's own orders otherwise, newest first.
func (l *OrderLedger) List(ctx context.Context, p domain.Principal, limit int) ([]*domain.Order, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if p.Role == domain.RoleAdmin {
		return l.repo.ListOrders(ctx, limit)
	}
	return l.repo.ListOrdersByUser(ctx, p.UserID, limit)
}

// TransitionPaymentStatus moves payment_status forward. Asking for the status
// the order already has is a no-op and returns changed=false. On
// ErrInvalidTransition the current order is returned along with the error.
func (l *OrderLedger) TransitionPaymentStatus(ctx context.Context, orderID string, target domain.PaymentStatus) (*domain.Order, bool, error) {
	if !target.Valid() {
		return nil, false, fmt.Errorf("%w: unknown payment status %q", domain.ErrInvalidTransition, target)
	}

	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		order, err := l.repo.GetOrder(ctx, orderID)
		if err != nil {
			return nil, false, err
		}
		if order.PaymentStatus == target {
			return order, false, nil
		}
		if !order.PaymentStatus.CanTransitionTo(target) {
			return order, false, &domain.IllegalTransitionError{Kind: "payment", From: string(order.PaymentStatus), To: string(target)}
		}

		nextStatus := order.Status
		switch {
		case order.Status == domain.OrderStatusPendingPayment:
			nextStatus = target.OrderStatusFor()
		case target == domain.PaymentStatusPaid:
			// money arrived for an order that was cancelled or failed meanwhile
			return order, false, &domain.IllegalTransitionError{Kind: "payment", From: string(order.Status), To: string(target)}
		}

		now := l.now().UTC()
		t := repository.Transition{
			FromStatus:        order.Status,
			FromPaymentStatus: order.PaymentStatus,
			Status:            nextStatus,
			PaymentStatus:     target,
			At:                now,
		}
		if target == domain.PaymentStatusPaid {
			t.PaidAt = &now
		}

		next := *order
		next.Status = nextStatus
		next.PaymentStatus = target
		next.UpdatedAt = now
		next.PaidAt = t.PaidAt
		t.Event = l.event(&next, domain.PaymentEventType(target))

		applied, err := l.repo.ApplyTransition(ctx, orderID, t)
		if err != nil {
			return nil, false, err
		}
		if !applied {
			continue
		}

		l.log.InfoContext(ctx, "payment status changed", "order_id", orderID, "from", order.PaymentStatus, "to", target)
		l.notify(&next)
		return &next, true, nil
	}
	return nil, false, fmt.Errorf("transition payment of %s: %w", orderID, repository.ErrVersionConflict)
}

// TransitionStatus applies a fulfillment change made by staff. Nothing past
// pending_payment is allowed until the order is paid, except failing or
// cancelling it.
func (l *OrderLedger) TransitionStatus(ctx context.Context, orderID string, target domain.OrderStatus, trackingNumber string) (*domain.Order, bool, error) {
	if !target.Valid() {
		return nil, false, fmt.Errorf("%w: unknown order status %q", domain.ErrInvalidTransition, target)
	}

	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		order, err := l.repo.GetOrder(ctx, orderID)
		if err != nil {
			return nil, false, err
		}
		if order.Status == target {
			return order, false, nil
		}
		if !order.Status.CanTransitionTo(target) {
			return order, false, &domain.IllegalTransitionError{Kind: "status", From: string(order.Status), To: string(target)}
		}
		if target != domain.OrderStatusCancelled && target != domain.OrderStatusFailed && !order.IsPaid() {
			return order, false, fmt.Errorf("%w: order %s is not paid", domain.ErrInvalidTransition, orderID)
		}

		now := l.now().UTC()
		next := *order
		next.Status = target
		next.UpdatedAt = now
		if trackingNumber != "" {
			next.TrackingNumber = trackingNumber
		}

		t := repository.Transition{
			FromStatus:        order.Status,
			FromPaymentStatus: order.PaymentStatus,
			Status:            target,
			PaymentStatus:     order.PaymentStatus,
			TrackingNumber:    trackingNumber,
			At:                now,
			Event:             l.event(&next, domain.EventOrderStatusChanged),
		}

		applied, err := l.repo.ApplyTransition(ctx, orderID, t)
		if err != nil {
			return nil, false, err
		}
		if !applied {
			continue
		}

		l.log.InfoContext(ctx, "order status changed", "order_id", orderID, "from", order.Status, "to", target)
		l.notify(&next)
		return &next, true, nil
	}
	return nil, false, fmt.Errorf("transition status of %s: %w", orderID, repository.ErrVersionConflict)
}

func (l *OrderLedger) MarkCartCleared(ctx context.Context, orderID string) error {
	return l.repo.MarkCartCleared(ctx, orderID)
}

func (l *OrderLedger) event(o *domain.Order, eventType string) domain.OrderEvent {
	return domain.OrderEvent{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		OrderID:       o.OrderID,
		UserID:        o.UserID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		Total:         o.Total,
		OccurredAt:    o.UpdatedAt,
	}
}

func (l *OrderLedger) notify(o *domain.Order) {
	if l.observer != nil {
		cp := *o
		l.observer.OrderUpdated(&cp)
	}
}

// shortID returns prefix followed by 8 hex characters, e.g. ord_1a2b3c4d.
func shortID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
