package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const DefaultSignatureTolerance = 5 * time.Minute

var ErrInvalidSignature = errors.New("invalid webhook signature")

// WebhookEvent is the part of a Stripe event the service acts on. The session
// state itself is always read back from the API, never taken from the payload.
type WebhookEvent struct {
	ID        string
	Type      string
	SessionID string
}

// ConstructWebhookEvent verifies the Stripe-Signature header against the raw
// body and decodes the event.
func ConstructWebhookEvent(payload []byte, header, secret string) (WebhookEvent, error) {
	if secret == "" {
		return WebhookEvent{}, fmt.Errorf("%w: no signing secret configured", ErrInvalidSignature)
	}

	ev, err := webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
		Tolerance:                DefaultSignatureTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	switch {
	case errors.Is(err, webhook.ErrNotSigned), errors.Is(err, webhook.ErrInvalidHeader),
		errors.Is(err, webhook.ErrNoValidSignature), errors.Is(err, webhook.ErrTooOld):
		return WebhookEvent{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	case err != nil:
		return WebhookEvent{}, fmt.Errorf("decode webhook event: %w", err)
	}

	out := WebhookEvent{ID: ev.ID, Type: string(ev.Type)}
	if strings.HasPrefix(out.Type, "checkout.session.") && ev.Data != nil {
		var s stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return out, fmt.Errorf("decode checkout session: %w", err)
		}
		out.SessionID = s.ID
	}
	return out, nil
}

// SessionEvent reports the checkout session an event is about. ok is false for
// event types that say nothing about payment.
func (e WebhookEvent) SessionEvent() (sessionID string, ok bool) {
	switch e.Type {
	case "checkout.session.completed",
		"checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed",
		"checkout.session.expired":
		return e.SessionID, e.SessionID != ""
	}
	return "", false
}
