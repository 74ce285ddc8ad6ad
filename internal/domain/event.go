package domain

import "time"

const (
	EventOrderCreated        = "order.created"
	EventOrderPaid           = "order.paid"
	EventOrderPaymentExpired = "order.payment_expired"
	EventOrderPaymentFailed  = "order.payment_failed"
	EventOrderStatusChanged  = "order.status_changed"
	EventCartClearRequested  = "cart.clear_requested"
)

// OrderEvent is written to the outbox in the same write as the order change it describes.
type OrderEvent struct {
	EventID       string        `bson:"event_id" json:"event_id"`
	EventType     string        `bson:"event_type" json:"event_type"`
	OrderID       string        `bson:"order_id" json:"order_id"`
	UserID        string        `bson:"user_id" json:"user_id"`
	Status        OrderStatus   `bson:"status" json:"status"`
	PaymentStatus PaymentStatus `bson:"payment_status" json:"payment_status"`
	Total         Money         `bson:"total" json:"total"`
	OccurredAt    time.Time     `bson:"occurred_at" json:"occurred_at"`
}

// PaymentEventType maps a terminal payment status to its event type.
func PaymentEventType(s PaymentStatus) string {
	switch s {
	case PaymentStatusPaid:
		return EventOrderPaid
	case PaymentStatusExpired:
		return EventOrderPaymentExpired
	default:
		return EventOrderPaymentFailed
	}
}
