// Package poller consumes cart.clear_requested events and empties the cart of
// the paid order they name.
package poller

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

type CartClearer interface {
	ClearForOrder(ctx context.Context, userID, orderID string) error
}

type ClearMarker interface {
	MarkCartCleared(ctx context.Context, orderID string) error
}

type Poller struct {
	reader  MessageReader
	carts   CartClearer
	orders  ClearMarker
	log     *slog.Logger
	backoff time.Duration
}

func NewPoller(carts CartClearer, orders ClearMarker, topic string, log *slog.Logger, brokers ...string) *Poller {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  "cart-clear-consumer",
		MaxBytes: 10e6, // 10MB
	})
	return newPoller(reader, carts, orders, log)
}

func newPoller(reader MessageReader, carts CartClearer, orders ClearMarker, log *slog.Logger) *Poller {
	return &Poller{reader: reader, carts: carts, orders: orders, log: log.With("component", "cart-clear-poller"), backoff: time.Second}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := p.handleNext(ctx); err != nil && ctx.Err() == nil {
			if errors.Is(err, io.EOF) {
				return
			}
			p.log.WarnContext(ctx, "cart clear message not handled", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.backoff):
			}
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Warn("error closing reader", "error", err)
	}
}

// handleNext processes one message. The offset is committed only after the
// cart is cleared, so a failed clear is redelivered.
func (p *Poller) handleNext(ctx context.Context) error {
	m, err := p.reader.FetchMessage(ctx)
	if err != nil {
		return err
	}

	if eventType(m) != domain.EventCartClearRequested {
		return p.reader.CommitMessages(ctx, m)
	}

	var event domain.OrderEvent
	if err := json.Unmarshal(m.Value, &event); err != nil || event.UserID == "" || event.OrderID == "" {
		p.log.ErrorContext(ctx, "dropping malformed cart clear event", "offset", m.Offset, "error", err)
		return p.reader.CommitMessages(ctx, m)
	}

	if err := p.carts.ClearForOrder(ctx, event.UserID, event.OrderID); err != nil {
		return err
	}
	if err := p.orders.MarkCartCleared(ctx, event.OrderID); err != nil {
		p.log.WarnContext(ctx, "mark cart cleared failed", "order_id", event.OrderID, "error", err)
	}
	p.log.InfoContext(ctx, "cart cleared for paid order", "order_id", event.OrderID, "user_id", event.UserID)
	return p.reader.CommitMessages(ctx, m)
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}
