package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrInvalidAddress       = errors.New("invalid shipping address")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrGatewayTransport     = errors.New("payment gateway unreachable")
	ErrGatewayExpired       = errors.New("payment session expired")
	ErrGatewayRejected      = errors.New("payment gateway rejected request")
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrForbidden            = errors.New("forbidden")
	ErrOrderNotFound        = errors.New("order not found")
	ErrSessionNotFound      = errors.New("payment session not found")
	ErrProductNotFound      = errors.New("product not found")
	ErrCartNotFound         = errors.New("cart not found")
	ErrInvalidRequest       = errors.New("invalid request")
)

type IllegalTransitionError struct {
	Kind string
	From string
	To   string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition from %s to %s", e.Kind, e.From, e.To)
}

func (e *IllegalTransitionError) Unwrap() error {
	return ErrInvalidTransition
}
