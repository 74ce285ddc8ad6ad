package domain

import (
	"fmt"
	"strings"
	"time"
)

type Order struct {
	OrderID              string          `bson:"order_id" json:"order_id"`
	UserID               string          `bson:"user_id" json:"user_id"`
	Items                []OrderLineItem `bson:"items" json:"items"`
	ShippingAddress      ShippingAddress `bson:"shipping_address" json:"shipping_address"`
	Subtotal             Money           `bson:"subtotal" json:"subtotal"`
	ShippingCost         Money           `bson:"shipping_cost" json:"shipping_cost"`
	Tax                  Money           `bson:"tax" json:"tax"`
	Total                Money           `bson:"total" json:"total"`
	PaymentMethod        string          `bson:"payment_method" json:"payment_method"`
	Status               OrderStatus     `bson:"status" json:"status"`
	PaymentStatus        PaymentStatus   `bson:"payment_status" json:"payment_status"`
	TrackingNumber       string          `bson:"tracking_number,omitempty" json:"tracking_number,omitempty"`
	CartCleared          bool            `bson:"cart_cleared" json:"-"`
	CartClearRequestedAt *time.Time      `bson:"cart_clear_requested_at,omitempty" json:"-"`
	PaidAt               *time.Time      `bson:"paid_at,omitempty" json:"paid_at,omitempty"`
	CreatedAt            time.Time       `bson:"created_at" json:"created_at"`
	UpdatedAt            time.Time       `bson:"updated_at" json:"updated_at"`
}

// OrderLineItem is a snapshot of the product taken when the order was created.
type OrderLineItem struct {
	ProductID   string `bson:"product_id" json:"product_id"`
	ProductName string `bson:"product_name" json:"product_name"`
	UnitPrice   Money  `bson:"unit_price" json:"unit_price"`
	Quantity    int    `bson:"quantity" json:"quantity"`
	ImageRef    string `bson:"image_ref,omitempty" json:"image_ref,omitempty"`
}

func (li OrderLineItem) LineTotal() Money {
	return li.UnitPrice.Mul(li.Quantity)
}

type ShippingAddress struct {
	Name       string `bson:"name" json:"name"`
	Address    string `bson:"address" json:"address"`
	City       string `bson:"city" json:"city"`
	State      string `bson:"state" json:"state"`
	PostalCode string `bson:"postal_code" json:"postal_code"`
	Country    string `bson:"country,omitempty" json:"country,omitempty"`
	Phone      string `bson:"phone,omitempty" json:"phone,omitempty"`
}

func (a ShippingAddress) Validate() error {
	required := []struct{ field, value string }{
		{"name", a.Name},
		{"address", a.Address},
		{"city", a.City},
		{"state", a.State},
		{"postal_code", a.PostalCode},
	}
	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.field)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidAddress, strings.Join(missing, ", "))
	}
	return nil
}

// IsPaid reports whether the payment side reached paid, whatever the fulfillment status.
func (o *Order) IsPaid() bool {
	return o.PaymentStatus == PaymentStatusPaid
}
