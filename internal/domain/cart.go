package domain

import "time"

type Cart struct {
	UserID    string     `bson:"user_id" json:"user_id"`
	Items     []CartItem `bson:"items" json:"items"`
	Version   int64      `bson:"version" json:"version"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`

	// ClearedOrders lists recent orders whose payment already emptied this cart.
	ClearedOrders []string `bson:"cleared_orders,omitempty" json:"-"`
}

type CartItem struct {
	ProductID string    `bson:"product_id" json:"product_id"`
	Quantity  int       `bson:"quantity" json:"quantity"`
	AddedAt   time.Time `bson:"added_at" json:"added_at"`
}

// Quantity returns the quantity of productID in the cart, 0 when absent.
func (c *Cart) Quantity(productID string) int {
	for _, it := range c.Items {
		if it.ProductID == productID {
			return it.Quantity
		}
	}
	return 0
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// CartLine is a cart item joined with the current catalog record.
type CartLine struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Price     Money  `json:"price"`
	Image     string `json:"image,omitempty"`
	Stock     int    `json:"stock"`
	Quantity  int    `json:"quantity"`
}

type CartView struct {
	UserID string     `json:"user_id"`
	Items  []CartLine `json:"items"`
	Total  Money      `json:"total"`
}

// QuantityUpdate is one entry of a full cart replacement.
type QuantityUpdate struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}
