package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/afif1710/NexusMarket/internal/domain"
	"github.com/afif1710/NexusMarket/internal/payment"
	"github.com/afif1710/NexusMarket/internal/reconcile"
	"github.com/afif1710/NexusMarket/internal/repository"
)

type CheckoutConfig struct {
	Currency             string
	SessionTTL           time.Duration
	DirectPaymentMethods []string
	BackgroundReconcile  bool
}

type CartReader interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
}

type Reconciler interface {
	Poll(ctx context.Context, session *domain.PaymentSession) (reconcile.Result, error)
	Check(ctx context.Context, session *domain.PaymentSession) (reconcile.Result, error)
	Apply(ctx context.Context, session *domain.PaymentSession, status domain.SessionStatus) (reconcile.Result, error)
	ConfirmPaid(ctx context.Context, order *domain.Order) (reconcile.Result, error)
}

type OrderLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderRequest struct {
	Items           []OrderLine            `json:"line_items"`
	ShippingAddress domain.ShippingAddress `json:"shipping_address"`
	PaymentMethod   string                 `json:"payment_method"`
}

type CheckoutService struct {
	carts      CartReader
	catalog    repository.CatalogRepository
	ledger     *OrderLedger
	sessions   repository.SessionRepository
	gateway    payment.Gateway
	reconciler Reconciler
	cfg        CheckoutConfig
	log        *slog.Logger
	now        func() time.Time

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

func NewCheckoutService(
	carts CartReader,
	catalog repository.CatalogRepository,
	ledger *OrderLedger,
	sessions repository.SessionRepository,
	gateway payment.Gateway,
	reconciler Reconciler,
	cfg CheckoutConfig,
	log *slog.Logger,
) *CheckoutService {
	ctx, cancel := context.WithCancel(context.Background())
	return &CheckoutService{
		carts:      carts,
		catalog:    catalog,
		ledger:     ledger,
		sessions:   sessions,
		gateway:    gateway,
		reconciler: reconciler,
		cfg:        cfg,
		log:        log.With("component", "checkout"),
		now:        time.Now,
		bgCtx:      ctx,
		bgCancel:   cancel,
	}
}

// CreateOrder snapshots the requested lines (or the user's cart when none are
// given) from the catalog and stores a pending order. Direct payment methods
// are confirmed immediately: the order is marked paid, then the cart is cleared.
//
// When the order was stored but the direct confirmation failed, the stored
// order is returned together with the error so callers do not create it again.
func (s *CheckoutService) CreateOrder(ctx context.Context, userID string, req CreateOrderRequest) (*domain.Order, error) {
	lines := req.Items
	if len(lines) == 0 {
		cart, err := s.carts.GetCart(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("read cart: %w", err)
		}
		for _, it := range cart.Items {
			lines = append(lines, OrderLine{ProductID: it.ProductID, Quantity: it.Quantity})
		}
	}
	if len(lines) == 0 {
		return nil, domain.ErrEmptyCart
	}

	items, err := s.snapshot(ctx, lines)
	if err != nil {
		return nil, err
	}

	order, err := s.ledger.Create(ctx, userID, items, req.ShippingAddress, req.PaymentMethod)
	if err != nil {
		return nil, err
	}

	if !s.isDirect(order.PaymentMethod) {
		return order, nil
	}

	res, err := s.reconciler.ConfirmPaid(ctx, order)
	if err != nil {
		s.log.ErrorContext(ctx, "direct payment confirmation failed", "order_id", order.OrderID, "error", err)
		return order, err
	}
	s.log.InfoContext(ctx, "order paid by direct method", "order_id", order.OrderID, "method", order.PaymentMethod, "cart_cleared", res.CartCleared)
	return s.ledger.Get(ctx, order.OrderID)
}

// snapshot copies name, price and image from the catalog. Client prices are never trusted.
func (s *CheckoutService) snapshot(ctx context.Context, lines []OrderLine) ([]domain.OrderLineItem, error) {
	merged := make([]OrderLine, 0, len(lines))
	index := make(map[string]int, len(lines))
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		if l.Quantity < 1 {
			return nil, fmt.Errorf("%w: %s has quantity %d", domain.ErrInvalidQuantity, l.ProductID, l.Quantity)
		}
		if i, ok := index[l.ProductID]; ok {
			merged[i].Quantity += l.Quantity
			continue
		}
		index[l.ProductID] = len(merged)
		merged = append(merged, l)
		ids = append(ids, l.ProductID)
	}

	products, err := s.catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}

	items := make([]domain.OrderLineItem, 0, len(merged))
	for _, l := range merged {
		p, ok := products[l.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, l.ProductID)
		}
		if l.Quantity > p.Stock {
			return nil, fmt.Errorf("%w: insufficient stock for %s", domain.ErrInvalidQuantity, p.Name)
		}
		items = append(items, domain.OrderLineItem{
			ProductID:   p.ProductID,
			ProductName: p.Name,
			UnitPrice:   p.Price,
			Quantity:    l.Quantity,
			ImageRef:    p.Image,
		})
	}
	return items, nil
}

// CreatePaymentSession opens a provider checkout session for an unpaid order.
// With background reconciliation on, the session is also polled until it settles.
func (s *CheckoutService) CreatePaymentSession(ctx context.Context, userID, orderID, returnURL string) (*domain.PaymentSession, error) {
	order, err := s.ledger.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, domain.ErrForbidden
	}
	if s.isDirect(order.PaymentMethod) {
		return nil, fmt.Errorf("%w: %s orders do not use checkout sessions", domain.ErrInvalidPaymentMethod, order.PaymentMethod)
	}
	if order.Status != domain.OrderStatusPendingPayment || order.PaymentStatus != domain.PaymentStatusUnpaid {
		return nil, fmt.Errorf("%w: order %s is %s/%s", domain.ErrInvalidTransition, orderID, order.Status, order.PaymentStatus)
	}
	if strings.TrimSpace(returnURL) == "" {
		return nil, fmt.Errorf("%w: return_url is required", domain.ErrInvalidRequest)
	}

	created, err := s.gateway.CreateSession(ctx, domain.CreateSessionRequest{
		OrderID:   order.OrderID,
		UserID:    order.UserID,
		Amount:    order.Total,
		Currency:  s.cfg.Currency,
		ReturnURL: returnURL,
	})
	if err != nil {
		s.log.ErrorContext(ctx, "create payment session failed", "order_id", orderID, "error", err)
		return nil, err
	}

	now := s.now().UTC()
	expires := created.ExpiresAt
	if expires.IsZero() {
		expires = now.Add(s.cfg.SessionTTL)
	}
	session := &domain.PaymentSession{
		TransactionID:  shortID("txn_"),
		SessionID:      created.SessionID,
		OrderID:        order.OrderID,
		UserID:         order.UserID,
		Amount:         order.Total,
		Currency:       s.cfg.Currency,
		ProviderStatus: domain.ProviderStatusOpen,
		PaymentStatus:  domain.PaymentStatusUnpaid,
		CheckoutURL:    created.CheckoutURL,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      expires,
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "payment session created", "order_id", orderID, "session_id", session.SessionID)

	if s.cfg.BackgroundReconcile {
		s.pollInBackground(session)
	}
	return session, nil
}

// PaymentStatus runs one reconciliation step for the caller's session.
// Sessions that already settled are answered from the local record.
func (s *CheckoutService) PaymentStatus(ctx context.Context, userID, sessionID string) (reconcile.Result, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return reconcile.Result{}, err
	}
	if session.UserID != userID {
		return reconcile.Result{}, domain.ErrForbidden
	}

	if session.PaymentStatus.IsTerminal() {
		return reconcile.Result{
			Outcome:        reconcile.OutcomeFor(session.PaymentStatus),
			SessionID:      session.SessionID,
			OrderID:        session.OrderID,
			ProviderStatus: session.ProviderStatus,
			PaymentStatus:  session.PaymentStatus,
		}, nil
	}
	return s.reconciler.Check(ctx, session)
}

// HandleProviderUpdate reacts to a provider notification about sessionID. The
// notification only names the session; its state is read back from the
// gateway before anything is applied. Gateway errors are returned as they are
// so the provider redelivers.
func (s *CheckoutService) HandleProviderUpdate(ctx context.Context, sessionID string) (reconcile.Result, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return reconcile.Result{}, err
	}
	status, err := s.gateway.GetSessionStatus(ctx, sessionID)
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("confirm session %s with provider: %w", sessionID, err)
	}
	return s.reconciler.Apply(ctx, session, status)
}

func (s *CheckoutService) pollInBackground(session *domain.PaymentSession) {
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		res, err := s.reconciler.Poll(s.bgCtx, session)
		switch {
		case errors.Is(err, context.Canceled):
			s.log.Debug("background poll cancelled", "session_id", session.SessionID)
		case err != nil:
			s.log.Warn("background poll failed", "session_id", session.SessionID, "error", err)
		default:
			s.log.Info("background poll finished", "session_id", session.SessionID, "outcome", res.Outcome)
		}
	}()
}

// Close stops background polls and waits for them to return.
func (s *CheckoutService) Close() {
	s.bgCancel()
	s.bgWG.Wait()
}

func (s *CheckoutService) isDirect(method string) bool {
	for _, m := range s.cfg.DirectPaymentMethods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}
