package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/afif1710/NexusMarket/internal/domain"
	"github.com/afif1710/NexusMarket/pkg/logger"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafkaGo.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafkaGo.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return kafkaGo.Message{}, io.EOF
	}
	m := r.queue[0]
	r.queue = r.queue[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafkaGo.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type fakeOrders struct {
	orders map[string]*domain.Order
	err    error
}

func (o *fakeOrders) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	if o.err != nil {
		return nil, o.err
	}
	order, ok := o.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

// fakeStock applies an order to each product at most once, like the catalog store.
type fakeStock struct {
	stock   map[string]int
	applied map[string]bool
	failOn  string
}

func (s *fakeStock) DecrementForOrder(_ context.Context, orderID string, items []domain.OrderLineItem) ([]domain.StockLevel, error) {
	var levels []domain.StockLevel
	for _, it := range items {
		key := orderID + "/" + it.ProductID
		if s.applied[key] {
			continue
		}
		if it.ProductID == s.failOn {
			return levels, errors.New("mongo down")
		}
		s.applied[key] = true
		s.stock[it.ProductID] -= it.Quantity
		levels = append(levels, domain.StockLevel{ProductID: it.ProductID, Stock: s.stock[it.ProductID]})
	}
	return levels, nil
}

type fakeLoyalty struct {
	points  map[string]int64
	applied map[string]bool
	err     error
}

func (l *fakeLoyalty) AwardForOrder(_ context.Context, userID, orderID string, points int64) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if l.applied[orderID] {
		return false, nil
	}
	l.applied[orderID] = true
	l.points[userID] += points
	return true, nil
}

type recordingNotifier struct {
	levels []domain.StockLevel
}

func (n *recordingNotifier) InventoryUpdated(level domain.StockLevel) {
	n.levels = append(n.levels, level)
}

type fixture struct {
	orders   *fakeOrders
	stock    *fakeStock
	loyalty  *fakeLoyalty
	notifier *recordingNotifier
}

func newFixture() *fixture {
	return &fixture{
		orders: &fakeOrders{orders: map[string]*domain.Order{
			"ord_1": {
				OrderID: "ord_1",
				UserID:  "u1",
				Items: []domain.OrderLineItem{
					{ProductID: "prod_001", Quantity: 2},
					{ProductID: "prod_002", Quantity: 1},
				},
				Total:         25999,
				Status:        domain.OrderStatusPaid,
				PaymentStatus: domain.PaymentStatusPaid,
			},
		}},
		stock:    &fakeStock{stock: map[string]int{"prod_001": 50, "prod_002": 30}, applied: map[string]bool{}},
		loyalty:  &fakeLoyalty{points: map[string]int64{}, applied: map[string]bool{}},
		notifier: &recordingNotifier{},
	}
}

func (f *fixture) consumer(reader MessageReader) *Consumer {
	return newConsumer(reader, f.orders, f.stock, f.loyalty, f.notifier, logger.Nop())
}

func message(t *testing.T, offset int64, eventType string, event domain.OrderEvent) kafkaGo.Message {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return kafkaGo.Message{
		Offset:  offset,
		Key:     []byte(event.OrderID),
		Value:   payload,
		Headers: []kafkaGo.Header{{Key: "event_type", Value: []byte(eventType)}},
	}
}

func paidMessage(t *testing.T, offset int64, orderID string) kafkaGo.Message {
	return message(t, offset, domain.EventOrderPaid, domain.OrderEvent{EventType: domain.EventOrderPaid, OrderID: orderID, UserID: "u1"})
}

func TestConsumer_PaidOrderDecrementsStockAndBroadcasts(t *testing.T) {
	f := newFixture()
	reader := &fakeReader{queue: []kafkaGo.Message{paidMessage(t, 3, "ord_1")}}

	require.NoError(t, f.consumer(reader).handleNext(context.Background()))

	assert.Equal(t, map[string]int{"prod_001": 48, "prod_002": 29}, f.stock.stock)
	assert.Equal(t, []domain.StockLevel{{ProductID: "prod_001", Stock: 48}, {ProductID: "prod_002", Stock: 29}}, f.notifier.levels)
	assert.Equal(t, int64(259), f.loyalty.points["u1"])
	assert.Equal(t, []int64{3}, reader.committed)
}

func TestConsumer_RedeliveryAppliesOnce(t *testing.T) {
	f := newFixture()
	reader := &fakeReader{queue: []kafkaGo.Message{paidMessage(t, 1, "ord_1"), paidMessage(t, 2, "ord_1")}}
	c := f.consumer(reader)

	require.NoError(t, c.handleNext(context.Background()))
	require.NoError(t, c.handleNext(context.Background()))

	assert.Equal(t, 48, f.stock.stock["prod_001"])
	assert.Len(t, f.notifier.levels, 2, "no broadcast when nothing changed")
	assert.Equal(t, int64(259), f.loyalty.points["u1"])
	assert.Equal(t, []int64{1, 2}, reader.committed)
}

func TestConsumer_PartialFailureIsRetriedWithoutDoubleCount(t *testing.T) {
	f := newFixture()
	f.stock.failOn = "prod_002"
	reader := &fakeReader{queue: []kafkaGo.Message{paidMessage(t, 5, "ord_1")}}
	c := f.consumer(reader)

	assert.Error(t, c.handleNext(context.Background()))
	assert.Empty(t, reader.committed)
	assert.Equal(t, []domain.StockLevel{{ProductID: "prod_001", Stock: 48}}, f.notifier.levels, "applied levels are still announced")
	assert.Empty(t, f.loyalty.points)

	f.stock.failOn = ""
	reader.queue = []kafkaGo.Message{paidMessage(t, 5, "ord_1")}
	require.NoError(t, c.handleNext(context.Background()))

	assert.Equal(t, map[string]int{"prod_001": 48, "prod_002": 29}, f.stock.stock)
	assert.Equal(t, int64(259), f.loyalty.points["u1"])
	assert.Equal(t, []int64{5}, reader.committed)
}

func TestConsumer_SkipsOtherEvents(t *testing.T) {
	f := newFixture()
	ev := domain.OrderEvent{EventType: domain.EventCartClearRequested, OrderID: "ord_1", UserID: "u1"}
	reader := &fakeReader{queue: []kafkaGo.Message{message(t, 8, domain.EventCartClearRequested, ev)}}

	require.NoError(t, f.consumer(reader).handleNext(context.Background()))
	assert.Equal(t, 50, f.stock.stock["prod_001"])
	assert.Empty(t, f.notifier.levels)
	assert.Equal(t, []int64{8}, reader.committed)
}

func TestConsumer_DropsUnusableEvents(t *testing.T) {
	f := newFixture()
	reader := &fakeReader{queue: []kafkaGo.Message{
		{Offset: 1, Value: []byte(`{not json`), Headers: []kafkaGo.Header{{Key: "event_type", Value: []byte(domain.EventOrderPaid)}}},
		paidMessage(t, 2, ""),
		paidMessage(t, 3, "ord_404"),
	}}
	c := f.consumer(reader)

	for range 3 {
		require.NoError(t, c.handleNext(context.Background()))
	}
	assert.Equal(t, 50, f.stock.stock["prod_001"])
	assert.Equal(t, []int64{1, 2, 3}, reader.committed)
}

func TestConsumer_OrderLookupFailureIsNotCommitted(t *testing.T) {
	f := newFixture()
	f.orders.err = errors.New("db down")
	reader := &fakeReader{queue: []kafkaGo.Message{paidMessage(t, 4, "ord_1")}}

	assert.Error(t, f.consumer(reader).handleNext(context.Background()))
	assert.Empty(t, reader.committed)
	assert.Equal(t, 50, f.stock.stock["prod_001"])
}

func TestConsumer_LoyaltyFailureIsNotCommitted(t *testing.T) {
	f := newFixture()
	f.loyalty.err = errors.New("db down")
	reader := &fakeReader{queue: []kafkaGo.Message{paidMessage(t, 6, "ord_1")}}

	assert.Error(t, f.consumer(reader).handleNext(context.Background()))
	assert.Empty(t, reader.committed)
}

func TestLoyaltyPoints(t *testing.T) {
	assert.Equal(t, int64(259), LoyaltyPoints(25999))
	assert.Equal(t, int64(0), LoyaltyPoints(99))
	assert.Equal(t, int64(1), LoyaltyPoints(100))
}

func TestConsumer_RunStopsWhenReaderCloses(t *testing.T) {
	f := newFixture()
	reader := &fakeReader{queue: []kafkaGo.Message{paidMessage(t, 1, "ord_1")}}
	c := f.consumer(reader)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the reader was exhausted")
	}
	assert.Equal(t, []int64{1}, reader.committed)
}
