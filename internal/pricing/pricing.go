// Package pricing computes order totals. Everything here is pure so the same
// items and rules always give the same breakdown.
package pricing

import (
	"github.com/afif1710/NexusMarket/internal/domain"
	"github.com/shopspring/decimal"
)

type Rules struct {
	FreeShippingThreshold domain.Money
	FlatShippingRate      domain.Money
	TaxRate               decimal.Decimal
}

func DefaultRules() Rules {
	return Rules{
		FreeShippingThreshold: 10000,
		FlatShippingRate:      1000,
		TaxRate:               decimal.RequireFromString("0.10"),
	}
}

type Breakdown struct {
	Subtotal domain.Money `json:"subtotal"`
	Shipping domain.Money `json:"shipping"`
	Tax      domain.Money `json:"tax"`
	Total    domain.Money `json:"total"`
}

// Price computes subtotal, shipping, tax and total for items.
// Tax is rounded half-up to the cent; total is the exact sum of the other three.
func Price(items []domain.OrderLineItem, rules Rules) Breakdown {
	var subtotal domain.Money
	for _, it := range items {
		subtotal += it.LineTotal()
	}

	shipping := rules.FlatShippingRate
	if subtotal >= rules.FreeShippingThreshold {
		shipping = 0
	}

	tax := domain.MoneyFromDecimal(subtotal.Decimal().Mul(rules.TaxRate).Round(2))

	return Breakdown{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Total:    subtotal + shipping + tax,
	}
}

// CartTotal is the rounded sum shown on the cart page. It does not include
// shipping or tax.
func CartTotal(lines []domain.CartLine) domain.Money {
	var total domain.Money
	for _, l := range lines {
		total += l.Price.Mul(l.Quantity)
	}
	return total
}
