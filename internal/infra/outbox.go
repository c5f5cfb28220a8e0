package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/reflink/platform/internal/domain"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultBatchSize    = 100
)

// OutboxSource reads and acknowledges rows from the event_outbox table.
type OutboxSource interface {
	FetchUnpublished(ctx context.Context, limit int) ([]domain.OutboxDraft, error)
	MarkPublished(ctx context.Context, ids []int64) error
}

// Publisher sends one message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// NotificationMessage is the value written to the notification topic.
type NotificationMessage struct {
	EventID       uuid.UUID            `json:"event_id"`
	AggregateType domain.AggregateType `json:"aggregate_type"`
	AggregateID   string               `json:"aggregate_id"`
	EventType     domain.EventType     `json:"event_type"`
	Payload       json.RawMessage      `json:"payload"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

func newNotificationMessage(d domain.OutboxDraft) NotificationMessage {
	payload := d.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return NotificationMessage{
		EventID:       d.EventID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       payload,
		OccurredAt:    d.OccurredAt,
	}
}

// OutboxPoller relays outbox rows to the notification topic, keyed by affiliate.
// Delivery is at least once: a row is acknowledged only after the broker accepts it.
type OutboxPoller struct {
	source    OutboxSource
	producer  Publisher
	topic     string
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

func NewOutboxPoller(source OutboxSource, producer Publisher, topic string, logger *slog.Logger) *OutboxPoller {
	return &OutboxPoller{
		source:    source,
		producer:  producer,
		topic:     topic,
		logger:    logger.With("component", "outbox_relay"),
		interval:  defaultPollInterval,
		batchSize: defaultBatchSize,
	}
}

// WithInterval sets the poll interval. Non-positive values are ignored.
func (p *OutboxPoller) WithInterval(d time.Duration) *OutboxPoller {
	if d > 0 {
		p.interval = d
	}
	return p
}

// Start polls until ctx is cancelled.
func (p *OutboxPoller) Start(ctx context.Context) {
	p.logger.Info("outbox relay started", "interval", p.interval, "batch_size", p.batchSize, "topic", p.topic)

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Info("outbox relay stopped")
				return
			case <-ticker.C:
				if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
					p.logger.Error("outbox poll failed", "error", err)
				}
			}
		}
	}()
}

// Poll relays one batch in id order and returns how many rows were acknowledged.
// Once a partition key fails, its later rows in the batch are held back so an
// affiliate never sees events out of order; they are retried on the next poll.
func (p *OutboxPoller) Poll(ctx context.Context) (int, error) {
	batch, err := p.source.FetchUnpublished(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch outbox: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	var (
		acked   = make([]int64, 0, len(batch))
		blocked = make(map[string]bool)
	)
	for _, d := range batch {
		if blocked[d.PartitionKey] {
			continue
		}
		value, err := json.Marshal(newNotificationMessage(d))
		if err != nil {
			p.logger.Error("outbox row not encodable", "event_id", d.EventID, "error", err)
			blocked[d.PartitionKey] = true
			continue
		}
		if err := p.producer.Publish(ctx, p.topic, []byte(d.PartitionKey), value); err != nil {
			p.logger.Warn("publish failed, holding key", "event_id", d.EventID, "key", d.PartitionKey, "error", err)
			blocked[d.PartitionKey] = true
			continue
		}
		acked = append(acked, d.ID)
	}

	if len(acked) == 0 {
		return 0, nil
	}
	if err := p.source.MarkPublished(ctx, acked); err != nil {
		return 0, fmt.Errorf("mark published: %w", err)
	}
	p.logger.Debug("outbox batch relayed", "published", len(acked), "fetched", len(batch), "held_keys", len(blocked))
	return len(acked), nil
}
