package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitaqr/go-eds/internal/realtime"
)

// EventPublisher adapts the outbox table to the realtime publisher
// contract: events are written durably here and carried to the broker by
// the relay, so a broker outage never fails an alert.
type EventPublisher struct {
	pool  *pgxpool.Pool
	topic string
}

// NewEventPublisher creates a publisher that writes events destined for the
// given Kafka topic.
func NewEventPublisher(pool *pgxpool.Pool, topic string) *EventPublisher {
	return &EventPublisher{pool: pool, topic: topic}
}

// Publish stores one realtime event in the outbox. The payload is the full
// realtime envelope so the consumer can rebuild the message; the channel
// key doubles as the Kafka message key so per-channel ordering survives the
// broker hop.
func (p *EventPublisher) Publish(ctx context.Context, channelKey, event string, payload interface{}) error {
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	envelope, err := json.Marshal(&realtime.Message{
		Topic:     channelKey,
		Event:     event,
		Payload:   rawPayload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	entry := &OutboxEntry{
		AggregateID:   channelKey,
		AggregateType: "realtime-channel",
		EventType:     event,
		Payload:       envelope,
		KafkaTopic:    p.topic,
		KafkaKey:      channelKey,
	}
	if err := Write(ctx, p.pool, entry); err != nil {
		return fmt.Errorf("publish %s to outbox: %w", event, err)
	}
	return nil
}
