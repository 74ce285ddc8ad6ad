package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/afif1710/NexusMarket/internal/domain"
)

type gatewayReply struct {
	status domain.SessionStatus
	err    error
}

// scriptedGateway answers with the queued replies in order, repeating the last one.
type scriptedGateway struct {
	mu      sync.Mutex
	replies []gatewayReply
	calls   int
}

func (g *scriptedGateway) GetSessionStatus(ctx context.Context, sessionID string) (domain.SessionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls
	if i >= len(g.replies) {
		i = len(g.replies) - 1
	}
	g.calls++
	return g.replies[i].status, g.replies[i].err
}

func (g *scriptedGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func open() gatewayReply {
	return gatewayReply{status: domain.SessionStatus{ProviderStatus: domain.ProviderStatusOpen}}
}

func complete() gatewayReply {
	return gatewayReply{status: domain.SessionStatus{ProviderStatus: domain.ProviderStatusComplete, Paid: true}}
}

func expired() gatewayReply {
	return gatewayReply{status: domain.SessionStatus{ProviderStatus: domain.ProviderStatusExpired}}
}

func transportErr() gatewayReply {
	return gatewayReply{err: errors.Join(domain.ErrGatewayTransport, errors.New("connection refused"))}
}

// memLedger applies the payment edges the way the order ledger does.
type memLedger struct {
	mu           sync.Mutex
	orders       map[string]*domain.Order
	transitions  int
	markedClear  int
	transitionFn func() error
}

func newMemLedger(orders ...*domain.Order) *memLedger {
	l := &memLedger{orders: map[string]*domain.Order{}}
	for _, o := range orders {
		l.orders[o.OrderID] = o
	}
	return l
}

func (l *memLedger) TransitionPaymentStatus(ctx context.Context, orderID string, target domain.PaymentStatus) (*domain.Order, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.transitionFn != nil {
		if err := l.transitionFn(); err != nil {
			return nil, false, err
		}
	}
	o, ok := l.orders[orderID]
	if !ok {
		return nil, false, domain.ErrOrderNotFound
	}
	cp := *o
	if o.PaymentStatus == target {
		return &cp, false, nil
	}
	if !o.PaymentStatus.CanTransitionTo(target) {
		return &cp, false, &domain.IllegalTransitionError{Kind: "payment", From: string(o.PaymentStatus), To: string(target)}
	}
	o.PaymentStatus = target
	o.Status = target.OrderStatusFor()
	l.transitions++
	cp = *o
	return &cp, true, nil
}

func (l *memLedger) MarkCartCleared(ctx context.Context, orderID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.orders[orderID].CartCleared = true
	l.markedClear++
	return nil
}

func (l *memLedger) order(id string) domain.Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.orders[id]
}

type memCarts struct {
	mu      sync.Mutex
	items   map[string]int
	clears  int
	err     error
	orderID string
}

func (c *memCarts) ClearForOrder(ctx context.Context, userID, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.clears++
	c.orderID = orderID
	c.items[userID] = 0
	return nil
}

type memSessions struct {
	mu      sync.Mutex
	updates []domain.PaymentStatus
}

func (s *memSessions) UpdateSessionStatus(ctx context.Context, sessionID string, provider domain.ProviderStatus, payment domain.PaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, payment)
	return nil
}

// recordingSleeper returns immediately and remembers every requested wait.
type recordingSleeper struct {
	mu     sync.Mutex
	waits  []time.Duration
	cancel context.CancelFunc
	after  int
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	n := len(s.waits)
	s.mu.Unlock()
	if s.cancel != nil && n >= s.after {
		s.cancel()
	}
	return ctx.Err()
}
