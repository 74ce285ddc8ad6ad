package http

import (
	"context"
	"net/http"
	"sync"

	"github.com/afif1710/NexusMarket/internal/domain"
	"github.com/afif1710/NexusMarket/internal/reconcile"
	"github.com/afif1710/NexusMarket/internal/service"
)

type mockCarts struct {
	mu      sync.Mutex
	items   map[string][]domain.CartLine
	err     error
	added   []AddItemRequestDTO
	set     []domain.QuantityUpdate
	removed []string
	cleared []string
}

func newMockCarts() *mockCarts {
	return &mockCarts{items: map[string][]domain.CartLine{}}
}

func (m *mockCarts) View(_ context.Context, userID string) (*domain.CartView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	view := &domain.CartView{UserID: userID, Items: append([]domain.CartLine{}, m.items[userID]...)}
	for _, l := range view.Items {
		view.Total += l.Price.Mul(l.Quantity)
	}
	return view, nil
}

func (m *mockCarts) AddItem(_ context.Context, userID, productID string, qty int) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.added = append(m.added, AddItemRequestDTO{ProductID: productID, Quantity: qty})
	m.items[userID] = append(m.items[userID], domain.CartLine{ProductID: productID, Quantity: qty, Price: 1000})
	return &domain.Cart{UserID: userID}, nil
}

func (m *mockCarts) SetQuantities(_ context.Context, userID string, updates []domain.QuantityUpdate) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set = updates
	return &domain.Cart{UserID: userID}, m.err
}

func (m *mockCarts) RemoveItem(_ context.Context, userID, productID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, productID)
	return &domain.Cart{UserID: userID}, m.err
}

func (m *mockCarts) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, userID)
	delete(m.items, userID)
	return m.err
}

type mockCheckout struct {
	req   service.CreateOrderRequest
	order *domain.Order
	err   error
	// stored returns the order alongside err, as when confirmation failed after the insert
	stored bool
}

func (m *mockCheckout) CreateOrder(_ context.Context, userID string, req service.CreateOrderRequest) (*domain.Order, error) {
	m.req = req
	if m.err != nil && !m.stored {
		return nil, m.err
	}
	o := *m.order
	o.UserID = userID
	return &o, m.err
}

type mockOrderBook struct {
	orders      map[string]*domain.Order
	listedFor   domain.Principal
	listedLimit int
	err         error
}

func (m *mockOrderBook) Get(_ context.Context, orderID string) (*domain.Order, error) {
	o, ok := m.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

func (m *mockOrderBook) List(_ context.Context, p domain.Principal, limit int) ([]*domain.Order, error) {
	m.listedFor = p
	m.listedLimit = limit
	var out []*domain.Order
	for _, o := range m.orders {
		if p.Role == domain.RoleAdmin || o.UserID == p.UserID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockOrderBook) TransitionStatus(_ context.Context, orderID string, target domain.OrderStatus, tracking string) (*domain.Order, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	o, ok := m.orders[orderID]
	if !ok {
		return nil, false, domain.ErrOrderNotFound
	}
	o.Status = target
	o.TrackingNumber = tracking
	return o, true, nil
}

type mockPayments struct {
	mu         sync.Mutex
	session    *domain.PaymentSession
	result     reconcile.Result
	err        error
	updatedIDs []string
	statusHits int
}

func (m *mockPayments) CreatePaymentSession(_ context.Context, userID, orderID, returnURL string) (*domain.PaymentSession, error) {
	if m.err != nil {
		return nil, m.err
	}
	s := *m.session
	s.UserID, s.OrderID = userID, orderID
	return &s, nil
}

func (m *mockPayments) PaymentStatus(_ context.Context, _, sessionID string) (reconcile.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusHits++
	res := m.result
	res.SessionID = sessionID
	return res, m.err
}

func (m *mockPayments) HandleProviderUpdate(_ context.Context, sessionID string) (reconcile.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updatedIDs = append(m.updatedIDs, sessionID)
	return m.result, m.err
}

type mockStream struct {
	userID string
}

func (m *mockStream) Serve(w http.ResponseWriter, _ *http.Request, userID string) {
	m.userID = userID
	w.WriteHeader(http.StatusSwitchingProtocols)
}
