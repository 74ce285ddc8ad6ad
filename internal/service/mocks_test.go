package service

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/afif1710/NexusMarket/internal/cache"
	"github.com/afif1710/NexusMarket/internal/domain"
	"github.com/afif1710/NexusMarket/internal/reconcile"
	"github.com/afif1710/NexusMarket/internal/repository"
)

// mockCartRepository keeps carts in memory with the same version rules as Mongo.
type mockCartRepository struct {
	m         sync.Mutex
	carts     map[string]*domain.Cart
	err       error
	clearErr  error
	conflicts int // SaveCart fails with a conflict this many times first
	saves     int
}

func newMockCartRepository() *mockCartRepository {
	return &mockCartRepository{carts: map[string]*domain.Cart{}}
}

func (m *mockCartRepository) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.carts[userID]
	if !ok {
		return nil, domain.ErrCartNotFound
	}
	cp := *c
	cp.Items = append([]domain.CartItem(nil), c.Items...)
	return &cp, nil
}

func (m *mockCartRepository) SaveCart(_ context.Context, cart *domain.Cart, expectedVersion int64) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.conflicts > 0 {
		m.conflicts--
		return repository.ErrVersionConflict
	}
	cur, ok := m.carts[cart.UserID]
	switch {
	case expectedVersion == 0 && ok:
		return repository.ErrVersionConflict
	case expectedVersion != 0 && (!ok || cur.Version != expectedVersion):
		return repository.ErrVersionConflict
	}
	m.saves++
	cart.Version = expectedVersion + 1
	cp := *cart
	cp.Items = append([]domain.CartItem(nil), cart.Items...)
	m.carts[cart.UserID] = &cp
	return nil
}

func (m *mockCartRepository) ClearCart(_ context.Context, userID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.clearErr != nil {
		return m.clearErr
	}
	if c, ok := m.carts[userID]; ok && len(c.Items) > 0 {
		c.Items = []domain.CartItem{}
		c.Version++
	}
	return nil
}

func (m *mockCartRepository) ClearCartForOrder(_ context.Context, userID, orderID string) (bool, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if m.clearErr != nil {
		return false, m.clearErr
	}
	c, ok := m.carts[userID]
	if !ok {
		c = &domain.Cart{UserID: userID}
		m.carts[userID] = c
	}
	if slices.Contains(c.ClearedOrders, orderID) {
		return false, nil
	}
	c.Items = []domain.CartItem{}
	c.ClearedOrders = append(c.ClearedOrders, orderID)
	c.Version++
	return true, nil
}

func (m *mockCartRepository) put(userID string, items ...domain.CartItem) {
	m.m.Lock()
	defer m.m.Unlock()
	m.carts[userID] = &domain.Cart{UserID: userID, Items: items, Version: 1}
}

type mockCache struct {
	m       sync.Mutex
	entries map[string]*domain.Cart
	getErr  error
	deletes int
}

func newMockCache() *mockCache {
	return &mockCache{entries: map[string]*domain.Cart{}}
}

func (c *mockCache) Get(_ context.Context, userID string) (*domain.Cart, error) {
	c.m.Lock()
	defer c.m.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	e, ok := c.entries[userID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	cp := *e
	return &cp, nil
}

func (c *mockCache) Set(_ context.Context, userID string, cart *domain.Cart) error {
	c.m.Lock()
	defer c.m.Unlock()
	if cur, ok := c.entries[userID]; ok && cur.Version > cart.Version {
		return nil
	}
	cp := *cart
	cp.Items = append([]domain.CartItem(nil), cart.Items...)
	c.entries[userID] = &cp
	return nil
}

func (c *mockCache) Delete(_ context.Context, userID string) error {
	c.m.Lock()
	defer c.m.Unlock()
	c.deletes++
	delete(c.entries, userID)
	return nil
}

type mockCatalog struct {
	m        sync.Mutex
	products map[string]*domain.Product
}

func newMockCatalog(products ...*domain.Product) *mockCatalog {
	c := &mockCatalog{products: map[string]*domain.Product{}}
	for _, p := range products {
		c.products[p.ProductID] = p
	}
	return c
}

func (c *mockCatalog) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	c.m.Lock()
	defer c.m.Unlock()
	p, ok := c.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (c *mockCatalog) GetProducts(_ context.Context, ids []string) (map[string]*domain.Product, error) {
	c.m.Lock()
	defer c.m.Unlock()
	out := map[string]*domain.Product{}
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}

func (c *mockCatalog) setPrice(id string, price domain.Money) {
	c.m.Lock()
	defer c.m.Unlock()
	c.products[id].Price = price
}

// mockOrderRepository applies transitions as a compare-and-swap like the real stores.
type mockOrderRepository struct {
	m         sync.Mutex
	orders    map[string]*domain.Order
	events    []domain.OrderEvent
	createErr error
	applyErr  error
	dupes     int
	// interfere runs before the CAS check, simulating a concurrent writer.
	interfere func(o *domain.Order)
}

func newMockOrderRepository() *mockOrderRepository {
	return &mockOrderRepository{orders: map[string]*domain.Order{}}
}

func (m *mockOrderRepository) CreateOrder(_ context.Context, order *domain.Order, event domain.OrderEvent) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if m.dupes > 0 {
		m.dupes--
		return repository.ErrDuplicateOrder
	}
	if _, ok := m.orders[order.OrderID]; ok {
		return repository.ErrDuplicateOrder
	}
	cp := *order
	m.orders[order.OrderID] = &cp
	m.events = append(m.events, event)
	return nil
}

func (m *mockOrderRepository) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	m.m.Lock()
	defer m.m.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepository) ListOrdersByUser(_ context.Context, userID string, _ int) ([]*domain.Order, error) {
	m.m.Lock()
	defer m.m.Unlock()
	var out []*domain.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockOrderRepository) ListOrders(_ context.Context, _ int) ([]*domain.Order, error) {
	m.m.Lock()
	defer m.m.Unlock()
	var out []*domain.Order
	for _, o := range m.orders {
		cp := *o
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockOrderRepository) ApplyTransition(_ context.Context, orderID string, t repository.Transition) (bool, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if m.applyErr != nil {
		return false, m.applyErr
	}
	o, ok := m.orders[orderID]
	if !ok {
		return false, nil
	}
	if m.interfere != nil {
		fn := m.interfere
		m.interfere = nil
		fn(o)
	}
	if o.Status != t.FromStatus || o.PaymentStatus != t.FromPaymentStatus {
		return false, nil
	}
	o.Status = t.Status
	o.PaymentStatus = t.PaymentStatus
	o.UpdatedAt = t.At
	if t.TrackingNumber != "" {
		o.TrackingNumber = t.TrackingNumber
	}
	if t.PaidAt != nil {
		o.PaidAt = t.PaidAt
	}
	m.events = append(m.events, t.Event)
	return true, nil
}

func (m *mockOrderRepository) MarkCartCleared(_ context.Context, orderID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.CartCleared = true
	return nil
}

func (m *mockOrderRepository) FindCartClearPending(context.Context, time.Time, int) ([]*domain.Order, error) {
	return nil, nil
}

func (m *mockOrderRepository) RequestCartClear(context.Context, string, time.Time, domain.OrderEvent) error {
	return nil
}

func (m *mockOrderRepository) GetUnpublishedEvents(context.Context, int) ([]domain.OrderEvent, error) {
	return nil, nil
}

func (m *mockOrderRepository) MarkEventPublished(context.Context, domain.OrderEvent) error {
	return nil
}

func (m *mockOrderRepository) eventTypes() []string {
	m.m.Lock()
	defer m.m.Unlock()
	var out []string
	for _, e := range m.events {
		out = append(out, e.EventType)
	}
	return out
}

type mockSessionRepository struct {
	m        sync.Mutex
	sessions map[string]*domain.PaymentSession
}

func newMockSessionRepository() *mockSessionRepository {
	return &mockSessionRepository{sessions: map[string]*domain.PaymentSession{}}
}

func (m *mockSessionRepository) CreateSession(_ context.Context, s *domain.PaymentSession) error {
	m.m.Lock()
	defer m.m.Unlock()
	cp := *s
	m.sessions[s.SessionID] = &cp
	return nil
}

func (m *mockSessionRepository) GetSession(_ context.Context, id string) (*domain.PaymentSession, error) {
	m.m.Lock()
	defer m.m.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *mockSessionRepository) UpdateSessionStatus(_ context.Context, id string, provider domain.ProviderStatus, payment domain.PaymentStatus) error {
	m.m.Lock()
	defer m.m.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	if s.PaymentStatus == domain.PaymentStatusUnpaid || s.PaymentStatus == payment {
		s.ProviderStatus = provider
		s.PaymentStatus = payment
	}
	return nil
}

func (m *mockSessionRepository) ListOpenSessions(context.Context, time.Time, int) ([]*domain.PaymentSession, error) {
	return nil, nil
}

type mockGateway struct {
	m       sync.Mutex
	created []domain.CreateSessionRequest
	status  domain.SessionStatus
	err     error
}

func (g *mockGateway) CreateSession(_ context.Context, req domain.CreateSessionRequest) (domain.CreatedSession, error) {
	g.m.Lock()
	defer g.m.Unlock()
	if g.err != nil {
		return domain.CreatedSession{}, g.err
	}
	g.created = append(g.created, req)
	return domain.CreatedSession{SessionID: "cs_test_" + req.OrderID, CheckoutURL: "https://pay.test/" + req.OrderID}, nil
}

func (g *mockGateway) setStatus(st domain.SessionStatus) {
	g.m.Lock()
	defer g.m.Unlock()
	g.status = st
}

func (g *mockGateway) setErr(err error) {
	g.m.Lock()
	defer g.m.Unlock()
	g.err = err
}

func (g *mockGateway) GetSessionStatus(context.Context, string) (domain.SessionStatus, error) {
	g.m.Lock()
	defer g.m.Unlock()
	return g.status, g.err
}

type recordingObserver struct {
	m       sync.Mutex
	updates []domain.Order
}

func (o *recordingObserver) OrderUpdated(order *domain.Order) {
	o.m.Lock()
	defer o.m.Unlock()
	o.updates = append(o.updates, *order)
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

var _ reconcile.Gateway = (*mockGateway)(nil)
