package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/afif1710/NexusMarket/internal/domain"
	"github.com/afif1710/NexusMarket/pkg/circuitbreaker"
	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Stripe will not accept a session expiry closer than 30 minutes.
const stripeMinSessionTTL = 30 * time.Minute

type StripeConfig struct {
	APIKey string
	// BaseURL overrides the API host, e.g. for stripe-mock.
	BaseURL    string
	Timeout    time.Duration
	SessionTTL time.Duration
}

// StripeGateway talks to the Stripe Checkout Sessions API.
type StripeGateway struct {
	sc  *client.API
	ttl time.Duration
	cb  *gobreaker.CircuitBreaker[*stripe.CheckoutSession]
	log *slog.Logger
	now func() time.Time
}

func NewStripeGateway(cfg StripeConfig, log *slog.Logger) *StripeGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	settings := circuitbreaker.DefaultSettings("stripe")
	settings.IsSuccessful = func(err error) bool {
		return err == nil || !errors.Is(err, domain.ErrGatewayTransport)
	}
	log = log.With("component", "stripe")

	backendCfg := &stripe.BackendConfig{
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		// the reconciler owns retries
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     stripeLogger{log: log},
	}
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		backendCfg.URL = stripe.String(base)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	return &StripeGateway{
		sc:  client.New(cfg.APIKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend}),
		ttl: cfg.SessionTTL,
		cb:  circuitbreaker.New[*stripe.CheckoutSession](settings, log),
		log: log,
		now: time.Now,
	}
}

func (g *StripeGateway) CreateSession(ctx context.Context, req domain.CreateSessionRequest) (domain.CreatedSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(strings.ToLower(req.Currency)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Order " + req.OrderID),
				},
				UnitAmount: stripe.Int64(int64(req.Amount)),
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:        stripe.String(SuccessURL(req.ReturnURL)),
		CancelURL:         stripe.String(CancelURL(req.ReturnURL)),
		ClientReferenceID: stripe.String(req.OrderID),
	}
	params.Context = ctx
	params.AddMetadata("order_id", req.OrderID)
	params.AddMetadata("user_id", req.UserID)
	if g.ttl >= stripeMinSessionTTL {
		params.ExpiresAt = stripe.Int64(g.now().Add(g.ttl).Unix())
	}

	s, err := g.call(func() (*stripe.CheckoutSession, error) {
		return g.sc.CheckoutSessions.New(params)
	})
	if err != nil {
		return domain.CreatedSession{}, fmt.Errorf("create checkout session for %s: %w", req.OrderID, err)
	}
	if s.ID == "" || s.URL == "" {
		return domain.CreatedSession{}, fmt.Errorf("%w: session response missing id or url", domain.ErrGatewayRejected)
	}

	created := domain.CreatedSession{SessionID: s.ID, CheckoutURL: s.URL}
	if s.ExpiresAt > 0 {
		created.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	}
	return created, nil
}

func (g *StripeGateway) GetSessionStatus(ctx context.Context, sessionID string) (domain.SessionStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := g.call(func() (*stripe.CheckoutSession, error) {
		return g.sc.CheckoutSessions.Get(sessionID, params)
	})
	if err != nil {
		return domain.SessionStatus{}, fmt.Errorf("get checkout session %s: %w", sessionID, err)
	}
	return sessionStatus(s), nil
}

func sessionStatus(s *stripe.CheckoutSession) domain.SessionStatus {
	return domain.SessionStatus{
		ProviderStatus: domain.ProviderStatus(s.Status),
		Paid: s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
			s.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired,
	}
}

func (g *StripeGateway) call(fn func() (*stripe.CheckoutSession, error)) (*stripe.CheckoutSession, error) {
	s, err := g.cb.Execute(func() (*stripe.CheckoutSession, error) {
		s, err := fn()
		if err != nil {
			return nil, classify(err)
		}
		return s, nil
	})
	if circuitbreaker.IsOpen(err) {
		return nil, fmt.Errorf("%w: %w", domain.ErrGatewayTransport, err)
	}
	return s, err
}

// classify maps SDK errors onto the gateway sentinels. Anything that is not an
// API error response never reached Stripe and counts as transport.
func classify(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("%w: %w", domain.ErrGatewayTransport, err)
	}

	switch {
	case se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= 500:
		return fmt.Errorf("%w: status=%d %s", domain.ErrGatewayTransport, se.HTTPStatusCode, se.Msg)
	case se.HTTPStatusCode == http.StatusNotFound || se.Code == stripe.ErrorCodeResourceMissing:
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, se.Msg)
	default:
		return fmt.Errorf("%w: status=%d %s", domain.ErrGatewayRejected, se.HTTPStatusCode, se.Msg)
	}
}

// stripeLogger routes SDK logs into slog.
type stripeLogger struct {
	log *slog.Logger
}

func (l stripeLogger) Debugf(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...))
}

func (l stripeLogger) Infof(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...))
}

func (l stripeLogger) Warnf(format string, v ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, v...))
}

func (l stripeLogger) Errorf(format string, v ...interface{}) {
	l.log.Error(fmt.Sprintf(format, v...))
}
