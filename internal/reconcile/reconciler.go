// Package reconcile brings local order state in line with the payment
// provider's view of a checkout session.
//
// Every path (client poll, background poll, provider webhook, direct payment
// methods) ends in the same idempotent step: transition the order's payment
// status, then clear the cart once if this caller was the one that moved the
// order to paid. A failed cart clear is logged and left to the recovery tick
// of the outbox publisher; it never turns a confirmed payment into an error.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/afif1710/NexusMarket/internal/domain"
)

type Outcome string

const (
	OutcomePaid    Outcome = "paid"
	OutcomeExpired Outcome = "expired"
	OutcomeFailed  Outcome = "failed"
	OutcomePending Outcome = "pending"
)

type Result struct {
	Outcome        Outcome               `json:"outcome"`
	SessionID      string                `json:"session_id,omitempty"`
	OrderID        string                `json:"order_id"`
	ProviderStatus domain.ProviderStatus `json:"provider_status,omitempty"`
	PaymentStatus  domain.PaymentStatus  `json:"payment_status"`
	Attempts       int                   `json:"attempts"`
	CartCleared    bool                  `json:"cart_cleared"`
}

type Gateway interface {
	GetSessionStatus(ctx context.Context, sessionID string) (domain.SessionStatus, error)
}

type Ledger interface {
	// TransitionPaymentStatus reports changed=false when the order already had target.
	TransitionPaymentStatus(ctx context.Context, orderID string, target domain.PaymentStatus) (*domain.Order, bool, error)
	MarkCartCleared(ctx context.Context, orderID string) error
}

type Carts interface {
	// ClearForOrder empties the cart at most once per order.
	ClearForOrder(ctx context.Context, userID, orderID string) error
}

type Sessions interface {
	UpdateSessionStatus(ctx context.Context, sessionID string, provider domain.ProviderStatus, payment domain.PaymentStatus) error
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

type Config struct {
	Interval         time.Duration
	MaxAttempts      int
	TransportRetries int
	CallTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:         2 * time.Second,
		MaxAttempts:      5,
		TransportRetries: 3,
		CallTimeout:      5 * time.Second,
	}
}

type Option func(*Reconciler)

func WithSleeper(s Sleeper) Option {
	return func(r *Reconciler) { r.sleep = s }
}

type Reconciler struct {
	gateway  Gateway
	ledger   Ledger
	carts    Carts
	sessions Sessions
	cfg      Config
	sleep    Sleeper
	log      *slog.Logger
}

func New(gateway Gateway, ledger Ledger, carts Carts, sessions Sessions, cfg Config, log *slog.Logger, opts ...Option) *Reconciler {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.TransportRetries < 1 {
		cfg.TransportRetries = 1
	}
	r := &Reconciler{
		gateway:  gateway,
		ledger:   ledger,
		carts:    carts,
		sessions: sessions,
		cfg:      cfg,
		sleep:    sleepContext,
		log:      log.With("component", "reconciler"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Poll asks the provider about the session up to MaxAttempts times, Interval
// apart, and applies the first terminal answer. It returns OutcomePending when
// no terminal answer arrives or the provider cannot be reached. Cancelling ctx
// stops polling and leaves the order untouched.
func (r *Reconciler) Poll(ctx context.Context, session *domain.PaymentSession) (Result, error) {
	res := pendingResult(session)
	log := r.log.With("session_id", session.SessionID, "order_id", session.OrderID)

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := r.sleep(ctx, r.cfg.Interval); err != nil {
				return res, err
			}
		}
		res.Attempts = attempt

		status, err := r.query(ctx, session.SessionID)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			if errors.Is(err, domain.ErrGatewayTransport) {
				log.WarnContext(ctx, "payment gateway unreachable, leaving order pending", "attempt", attempt, "error", err)
				return res, nil
			}
			return res, err
		}

		applied, err := r.Apply(ctx, session, status)
		applied.Attempts = attempt
		if err != nil || applied.Outcome != OutcomePending {
			return applied, err
		}
		res = applied
	}

	log.InfoContext(ctx, "payment still pending after polling", "attempts", r.cfg.MaxAttempts)
	return res, nil
}

// Check is a single poll attempt, with its own transport retries.
func (r *Reconciler) Check(ctx context.Context, session *domain.PaymentSession) (Result, error) {
	res := pendingResult(session)
	res.Attempts = 1

	status, err := r.query(ctx, session.SessionID)
	if err != nil {
		if errors.Is(err, domain.ErrGatewayTransport) && ctx.Err() == nil {
			r.log.WarnContext(ctx, "payment gateway unreachable", "session_id", session.SessionID, "error", err)
			return res, nil
		}
		return res, err
	}

	applied, err := r.Apply(ctx, session, status)
	applied.Attempts = 1
	return applied, err
}

// Apply records one provider answer. Webhooks call it directly.
func (r *Reconciler) Apply(ctx context.Context, session *domain.PaymentSession, status domain.SessionStatus) (Result, error) {
	res := pendingResult(session)
	res.ProviderStatus = status.ProviderStatus

	var target domain.PaymentStatus
	switch {
	case status.ProviderStatus == domain.ProviderStatusComplete && status.Paid:
		target = domain.PaymentStatusPaid
	case status.ProviderStatus == domain.ProviderStatusExpired:
		target = domain.PaymentStatusExpired
	default:
		r.recordSession(ctx, session, status.ProviderStatus, domain.PaymentStatusUnpaid)
		return res, nil
	}

	order, changed, err := r.ledger.TransitionPaymentStatus(ctx, session.OrderID, target)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// The order settled through another session; this one is still finished.
			r.recordSession(ctx, session, status.ProviderStatus, target)
		}
		if order != nil {
			res = resultFor(session, order)
			res.ProviderStatus = status.ProviderStatus
		}
		return res, fmt.Errorf("apply %s to order %s: %w", target, session.OrderID, err)
	}
	r.recordSession(ctx, session, status.ProviderStatus, target)

	res = resultFor(session, order)
	res.ProviderStatus = status.ProviderStatus
	if target == domain.PaymentStatusPaid {
		res.CartCleared = r.clearCart(ctx, order, changed)
	}
	return res, nil
}

// ConfirmPaid marks an order paid without asking the provider, for payment
// methods that have no session. The transition always happens before the cart is cleared.
func (r *Reconciler) ConfirmPaid(ctx context.Context, order *domain.Order) (Result, error) {
	paid, changed, err := r.ledger.TransitionPaymentStatus(ctx, order.OrderID, domain.PaymentStatusPaid)
	if err != nil {
		return Result{Outcome: OutcomePending, OrderID: order.OrderID, PaymentStatus: order.PaymentStatus},
			fmt.Errorf("confirm order %s paid: %w", order.OrderID, err)
	}
	res := resultFor(nil, paid)
	res.CartCleared = r.clearCart(ctx, paid, changed)
	return res, nil
}

func (r *Reconciler) query(ctx context.Context, sessionID string) (domain.SessionStatus, error) {
	var lastErr error
	for try := 1; try <= r.cfg.TransportRetries; try++ {
		if try > 1 {
			if err := r.sleep(ctx, r.cfg.Interval); err != nil {
				return domain.SessionStatus{}, err
			}
		}

		status, err := r.queryOnce(ctx, sessionID)
		if err == nil {
			return status, nil
		}
		if ctx.Err() != nil {
			return domain.SessionStatus{}, ctx.Err()
		}
		if !errors.Is(err, domain.ErrGatewayTransport) {
			return domain.SessionStatus{}, err
		}
		lastErr = err
		r.log.DebugContext(ctx, "session status query failed", "session_id", sessionID, "try", try, "error", err)
	}
	return domain.SessionStatus{}, lastErr
}

func (r *Reconciler) queryOnce(ctx context.Context, sessionID string) (domain.SessionStatus, error) {
	if r.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
		defer cancel()
	}

	status, err := r.gateway.GetSessionStatus(ctx, sessionID)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrGatewayTransport) {
		err = fmt.Errorf("%w: %w", domain.ErrGatewayTransport, err)
	}
	return status, err
}

// clearCart runs only for the caller whose transition moved the order to paid.
func (r *Reconciler) clearCart(ctx context.Context, order *domain.Order, changed bool) bool {
	if !changed {
		return order.CartCleared
	}
	log := r.log.With("order_id", order.OrderID, "user_id", order.UserID)

	if err := r.carts.ClearForOrder(ctx, order.UserID, order.OrderID); err != nil {
		log.ErrorContext(ctx, "cart clear after payment failed, will retry", "error", err)
		return false
	}
	if err := r.ledger.MarkCartCleared(ctx, order.OrderID); err != nil {
		log.WarnContext(ctx, "mark cart cleared failed", "error", err)
	}
	return true
}

func (r *Reconciler) recordSession(ctx context.Context, session *domain.PaymentSession, provider domain.ProviderStatus, payment domain.PaymentStatus) {
	if r.sessions == nil || session.SessionID == "" {
		return
	}
	if err := r.sessions.UpdateSessionStatus(ctx, session.SessionID, provider, payment); err != nil {
		r.log.WarnContext(ctx, "record session status failed", "session_id", session.SessionID, "error", err)
	}
}

func pendingResult(session *domain.PaymentSession) Result {
	return Result{
		Outcome:        OutcomePending,
		SessionID:      session.SessionID,
		OrderID:        session.OrderID,
		ProviderStatus: session.ProviderStatus,
		PaymentStatus:  domain.PaymentStatusUnpaid,
	}
}

func resultFor(session *domain.PaymentSession, order *domain.Order) Result {
	res := Result{OrderID: order.OrderID, PaymentStatus: order.PaymentStatus, CartCleared: order.CartCleared}
	if session != nil {
		res.SessionID = session.SessionID
		res.ProviderStatus = session.ProviderStatus
	}
	res.Outcome = OutcomeFor(order.PaymentStatus)
	return res
}

// OutcomeFor maps a stored payment status onto a reconciliation outcome.
func OutcomeFor(s domain.PaymentStatus) Outcome {
	switch s {
	case domain.PaymentStatusPaid:
		return OutcomePaid
	case domain.PaymentStatusExpired:
		return OutcomeExpired
	case domain.PaymentStatusFailed:
		return OutcomeFailed
	default:
		return OutcomePending
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
