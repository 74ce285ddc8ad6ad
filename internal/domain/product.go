package domain

// Product is the slice of a catalog record this service reads.
type Product struct {
	ProductID string `json:"product_id"`
	SellerID  string `json:"seller_id,omitempty"`
	Name      string `json:"name"`
	Price     Money  `json:"price"`
	Image     string `json:"image,omitempty"`
	Stock     int    `json:"stock"`
}

// StockLevel is a product's stock after an adjustment.
type StockLevel struct {
	ProductID string `bson:"product_id" json:"product_id"`
	Stock     int    `bson:"stock" json:"stock"`
}
