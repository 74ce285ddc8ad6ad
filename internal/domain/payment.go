package domain

import "time"

// ProviderStatus is the session state reported by the payment provider.
type ProviderStatus string

const (
	ProviderStatusOpen     ProviderStatus = "open"
	ProviderStatusComplete ProviderStatus = "complete"
	ProviderStatusExpired  ProviderStatus = "expired"
)

type PaymentSession struct {
	TransactionID  string         `bson:"transaction_id" json:"transaction_id"`
	SessionID      string         `bson:"session_id" json:"session_id"`
	OrderID        string         `bson:"order_id" json:"order_id"`
	UserID         string         `bson:"user_id" json:"user_id"`
	Amount         Money          `bson:"amount" json:"amount"`
	Currency       string         `bson:"currency" json:"currency"`
	ProviderStatus ProviderStatus `bson:"provider_status" json:"provider_status"`
	PaymentStatus  PaymentStatus  `bson:"payment_status" json:"payment_status"`
	CheckoutURL    string         `bson:"checkout_url" json:"checkout_url"`
	CreatedAt      time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `bson:"updated_at" json:"updated_at"`
	ExpiresAt      time.Time      `bson:"expires_at" json:"expires_at"`
}

// SessionStatus is one answer from the provider about a session.
type SessionStatus struct {
	ProviderStatus ProviderStatus `json:"provider_status"`
	Paid           bool           `json:"paid"`
}

// CreatedSession is what the provider returns for a new checkout session.
type CreatedSession struct {
	SessionID   string    `json:"session_id"`
	CheckoutURL string    `json:"checkout_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type CreateSessionRequest struct {
	OrderID   string
	UserID    string
	Amount    Money
	Currency  string
	ReturnURL string
}
