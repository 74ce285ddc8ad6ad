// Package inventory consumes order.paid events. It takes the paid items out
// of catalog stock, announces the new levels and credits loyalty points.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/afif1710/NexusMarket/internal/domain"
	"github.com/segmentio/kafka-go"
)

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
}

type StockStore interface {
	DecrementForOrder(ctx context.Context, orderID string, items []domain.OrderLineItem) ([]domain.StockLevel, error)
}

type LoyaltyStore interface {
	AwardForOrder(ctx context.Context, userID, orderID string, points int64) (bool, error)
}

type Notifier interface {
	InventoryUpdated(level domain.StockLevel)
}

type Consumer struct {
	reader   MessageReader
	orders   OrderReader
	stock    StockStore
	loyalty  LoyaltyStore
	notifier Notifier
	log      *slog.Logger
	backoff  time.Duration
}

func NewConsumer(orders OrderReader, stock StockStore, loyalty LoyaltyStore, notifier Notifier, topic string, log *slog.Logger, brokers ...string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  "inventory-consumer",
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(reader, orders, stock, loyalty, notifier, log)
}

func newConsumer(reader MessageReader, orders OrderReader, stock StockStore, loyalty LoyaltyStore, notifier Notifier, log *slog.Logger) *Consumer {
	return &Consumer{
		reader:   reader,
		orders:   orders,
		stock:    stock,
		loyalty:  loyalty,
		notifier: notifier,
		log:      log.With("component", "inventory-consumer"),
		backoff:  time.Second,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.handleNext(ctx); err != nil && ctx.Err() == nil {
			if errors.Is(err, io.EOF) {
				return
			}
			c.log.WarnContext(ctx, "paid order not applied to inventory", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff):
			}
		}
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Warn("error closing reader", "error", err)
	}
}

// LoyaltyPoints is one point per whole currency unit of the order total.
func LoyaltyPoints(total domain.Money) int64 {
	return int64(total) / 100
}

// handleNext applies one message. Stock and points are guarded per order in
// the store, so a redelivery after a partial failure applies only what is left.
func (c *Consumer) handleNext(ctx context.Context) error {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return err
	}

	if eventType(m) != domain.EventOrderPaid {
		return c.reader.CommitMessages(ctx, m)
	}

	var event domain.OrderEvent
	if err := json.Unmarshal(m.Value, &event); err != nil || event.OrderID == "" {
		c.log.ErrorContext(ctx, "dropping malformed order.paid event", "offset", m.Offset, "error", err)
		return c.reader.CommitMessages(ctx, m)
	}

	order, err := c.orders.GetOrder(ctx, event.OrderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		c.log.ErrorContext(ctx, "dropping order.paid event for unknown order", "order_id", event.OrderID)
		return c.reader.CommitMessages(ctx, m)
	}
	if err != nil {
		return err
	}

	levels, err := c.stock.DecrementForOrder(ctx, order.OrderID, order.Items)
	for _, level := range levels {
		c.notifier.InventoryUpdated(level)
	}
	if err != nil {
		return err
	}

	if points := LoyaltyPoints(order.Total); points > 0 {
		awarded, err := c.loyalty.AwardForOrder(ctx, order.UserID, order.OrderID, points)
		if err != nil {
			return err
		}
		if awarded {
			c.log.InfoContext(ctx, "loyalty points awarded", "order_id", order.OrderID, "user_id", order.UserID, "points", points)
		}
	}

	c.log.InfoContext(ctx, "inventory updated for paid order", "order_id", order.OrderID, "products", len(levels))
	return c.reader.CommitMessages(ctx, m)
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}
