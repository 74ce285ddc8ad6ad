// Package publisher relays order events from the outbox to Kafka and requests
// cart clears for paid orders whose cart was never emptied.
package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/afif1710/NexusMarket/internal/domain"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// OutboxRepository is the part of the order store the poller needs.
type OutboxRepository interface {
	GetUnpublishedEvents(ctx context.Context, limit int) ([]domain.OrderEvent, error)
	MarkEventPublished(ctx context.Context, event domain.OrderEvent) error
	FindCartClearPending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Order, error)
	RequestCartClear(ctx context.Context, orderID string, at time.Time, event domain.OrderEvent) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Topic        string
	EventTick    time.Duration
	RecoveryTick time.Duration
	// ClearGrace is how long a paid order may keep a full cart before a clear is requested.
	ClearGrace time.Duration
	BatchSize  int
}

func DefaultConfig(topic string) Config {
	return Config{
		Topic:        topic,
		EventTick:    time.Second,
		RecoveryTick: 5 * time.Second,
		ClearGrace:   30 * time.Second,
		BatchSize:    100,
	}
}

type OutboxPoller struct {
	cfg    Config
	repo   OutboxRepository
	writer MessageWriter
	log    *slog.Logger
	now    func() time.Time
}

func NewOutboxPoller(repo OutboxRepository, cfg Config, log *slog.Logger, brokers ...string) *OutboxPoller {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return newOutboxPoller(repo, w, cfg, log)
}

func newOutboxPoller(repo OutboxRepository, w MessageWriter, cfg Config, log *slog.Logger) *OutboxPoller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &OutboxPoller{cfg: cfg, repo: repo, writer: w, log: log.With("component", "outbox"), now: time.Now}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.cfg.EventTick)
	recoveryTicker := time.NewTicker(p.cfg.RecoveryTick)
	defer eventTicker.Stop()
	defer recoveryTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-recoveryTicker.C:
			p.requestPendingCartClears(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) Close() error {
	return p.writer.Close()
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	events, err := p.repo.GetUnpublishedEvents(ctx, p.cfg.BatchSize)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to fetch outbox events", "error", err)
		return
	}

	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			p.log.WarnContext(ctx, "failed to publish event", "event_id", event.EventID, "order_id", event.OrderID, "error", err)
			continue
		}
		if err := p.repo.MarkEventPublished(ctx, event); err != nil {
			p.log.WarnContext(ctx, "failed to mark event published", "event_id", event.EventID, "error", err)
		}
	}
}

// requestPendingCartClears finds paid orders whose cart clear failed or never
// ran and queues a cart.clear_requested event for each.
func (p *OutboxPoller) requestPendingCartClears(ctx context.Context) {
	now := p.now().UTC()
	orders, err := p.repo.FindCartClearPending(ctx, now.Add(-p.cfg.ClearGrace), p.cfg.BatchSize)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to find orders pending cart clear", "error", err)
		return
	}

	for _, o := range orders {
		event := domain.OrderEvent{
			EventID:       uuid.NewString(),
			EventType:     domain.EventCartClearRequested,
			OrderID:       o.OrderID,
			UserID:        o.UserID,
			Status:        o.Status,
			PaymentStatus: o.PaymentStatus,
			Total:         o.Total,
			OccurredAt:    now,
		}
		if err := p.repo.RequestCartClear(ctx, o.OrderID, now, event); err != nil {
			p.log.WarnContext(ctx, "failed to request cart clear", "order_id", o.OrderID, "error", err)
			continue
		}
		p.log.InfoContext(ctx, "cart clear requested", "order_id", o.OrderID, "user_id", o.UserID)
	}
}

func (p *OutboxPoller) publish(ctx context.Context, event domain.OrderEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(event.OrderID), // per-order ordering
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}
