// Package postgres provides PostgreSQL infrastructure components.
// Implements the transactional outbox pattern so alert events reach the
// broker even when the broker is down at trigger time.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// outboxLockID serializes relay processors across instances.
const outboxLockID = int64(720437201)

// OutboxEntry is one durably stored alert event awaiting relay to the broker.
type OutboxEntry struct {
	ID            int64
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       json.RawMessage
	KafkaTopic    string
	KafkaKey      string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	RetryCount    int
	LastError     *string
}

// OutboxConfig holds configuration for the outbox relay.
type OutboxConfig struct {
	// BatchSize is the number of entries relayed per poll.
	BatchSize int
	// PollInterval is how often to poll for new entries. Alert events are
	// latency-sensitive, so this stays well under a second.
	PollInterval time.Duration
	// MaxRetries is how many publish failures an entry gets before it is
	// diverted to the dead letter topic.
	MaxRetries int
	// SweepInterval is how often exhausted entries are diverted and old
	// processed rows deleted.
	SweepInterval time.Duration
	// RetainProcessed is how long processed rows are kept for inspection.
	RetainProcessed time.Duration
	// DeadLetterTopic receives entries that exhausted their retries.
	DeadLetterTopic string
}

// DefaultOutboxConfig returns sensible defaults.
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		BatchSize:       100,
		PollInterval:    100 * time.Millisecond,
		MaxRetries:      5,
		SweepInterval:   time.Minute,
		RetainProcessed: 24 * time.Hour,
		DeadLetterTopic: "dead.letter",
	}
}

// OutboxPublisher is the broker side of the relay.
type OutboxPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Outbox polls the outbox table and relays stored events to the broker.
type Outbox struct {
	pool      *pgxpool.Pool
	config    OutboxConfig
	publisher OutboxPublisher
	logger    *zap.Logger
	tracer    trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOutbox creates a new outbox relay.
func NewOutbox(pool *pgxpool.Pool, publisher OutboxPublisher, cfg OutboxConfig, logger *zap.Logger) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DeadLetterTopic == "" {
		cfg.DeadLetterTopic = "dead.letter"
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Outbox{
		pool:      pool,
		config:    cfg,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("outbox"),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Write inserts an entry after the caller's domain write has committed.
// The alert row is the source of truth; the outbox entry only carries the
// event, so inserting it post-commit is safe and keeps trigger latency low.
func Write(ctx context.Context, pool *pgxpool.Pool, entry *OutboxEntry) error {
	query := `
		INSERT INTO outbox (aggregate_id, aggregate_type, event_type, payload, kafka_topic, kafka_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := pool.QueryRow(ctx, query,
		entry.AggregateID,
		entry.AggregateType,
		entry.EventType,
		entry.Payload,
		entry.KafkaTopic,
		entry.KafkaKey,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to write outbox entry: %w", err)
	}

	return nil
}

// Start begins polling and relaying outbox entries.
func (o *Outbox) Start() {
	go o.relayLoop()
	o.logger.Info("outbox relay started",
		zap.Int("batch_size", o.config.BatchSize),
		zap.Duration("poll_interval", o.config.PollInterval))
}

// Stop gracefully stops the relay.
func (o *Outbox) Stop() {
	o.cancel()
	<-o.done
	o.logger.Info("outbox relay stopped")
}

func (o *Outbox) relayLoop() {
	defer close(o.done)

	poll := time.NewTicker(o.config.PollInterval)
	defer poll.Stop()
	sweep := time.NewTicker(o.config.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-poll.C:
			o.relayBatch()
		case <-sweep.C:
			o.sweep()
		}
	}
}

// relayBatch publishes one batch of pending entries under an advisory lock,
// so only one relay instance drains the table at a time.
func (o *Outbox) relayBatch() {
	ctx, span := o.tracer.Start(o.ctx, "outbox_relay_batch")
	defer span.End()

	// Session advisory locks must be released on the connection that took
	// them, so the lock holds a dedicated connection for the batch.
	conn, err := o.pool.Acquire(ctx)
	if err != nil {
		o.logger.Error("failed to acquire lock connection", zap.Error(err))
		span.RecordError(err)
		return
	}
	defer conn.Release()

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", outboxLockID).Scan(&acquired); err != nil || !acquired {
		return
	}
	defer conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", outboxLockID)

	entries, err := o.fetchPending(ctx)
	if err != nil {
		o.logger.Error("failed to fetch outbox entries", zap.Error(err))
		span.RecordError(err)
		return
	}
	if len(entries) == 0 {
		return
	}

	span.SetAttributes(attribute.Int("batch_size", len(entries)))

	for _, entry := range entries {
		if err := o.relayEntry(ctx, entry); err != nil {
			o.logger.Error("failed to relay outbox entry",
				zap.Int64("id", entry.ID),
				zap.String("event_type", entry.EventType),
				zap.Error(err))
		}
	}
}

func (o *Outbox) fetchPending(ctx context.Context) ([]*OutboxEntry, error) {
	query := `
		SELECT id, aggregate_id, aggregate_type, event_type, payload,
		       kafka_topic, kafka_key, created_at, retry_count, last_error
		FROM outbox
		WHERE processed_at IS NULL
		  AND retry_count < $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	rows, err := o.pool.Query(ctx, query, o.config.MaxRetries, o.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var entries []*OutboxEntry
	for rows.Next() {
		entry := &OutboxEntry{}
		err := rows.Scan(
			&entry.ID, &entry.AggregateID, &entry.AggregateType,
			&entry.EventType, &entry.Payload, &entry.KafkaTopic,
			&entry.KafkaKey, &entry.CreatedAt, &entry.RetryCount, &entry.LastError,
		)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// relayEntry publishes a single entry and marks it processed. A publish
// failure bumps the retry count; the entry is retried on the next poll
// until MaxRetries, then swept to the dead letter topic.
func (o *Outbox) relayEntry(ctx context.Context, entry *OutboxEntry) error {
	ctx, span := o.tracer.Start(ctx, "outbox_relay_entry",
		trace.WithAttributes(
			attribute.Int64("entry_id", entry.ID),
			attribute.String("event_type", entry.EventType),
			attribute.String("aggregate_id", entry.AggregateID),
		))
	defer span.End()

	if err := o.publisher.Publish(ctx, entry.KafkaTopic, entry.KafkaKey, entry.Payload); err != nil {
		updateQuery := `
			UPDATE outbox
			SET retry_count = retry_count + 1, last_error = $1, updated_at = NOW()
			WHERE id = $2
		`
		if _, updateErr := o.pool.Exec(ctx, updateQuery, err.Error(), entry.ID); updateErr != nil {
			o.logger.Error("failed to update retry count", zap.Error(updateErr))
		}
		span.RecordError(err)
		return fmt.Errorf("publish failed: %w", err)
	}

	markQuery := `
		UPDATE outbox
		SET processed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	if _, err := o.pool.Exec(ctx, markQuery, entry.ID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to mark processed: %w", err)
	}

	o.logger.Debug("outbox entry relayed",
		zap.Int64("id", entry.ID),
		zap.String("topic", entry.KafkaTopic))

	return nil
}

// sweep diverts exhausted entries to the dead letter topic and prunes old
// processed rows.
func (o *Outbox) sweep() {
	ctx, span := o.tracer.Start(o.ctx, "outbox_sweep")
	defer span.End()

	diverted, err := o.divertExhausted(ctx)
	if err != nil {
		o.logger.Error("dead letter sweep failed", zap.Error(err))
		span.RecordError(err)
	} else if diverted > 0 {
		o.logger.Warn("outbox entries moved to dead letter",
			zap.Int64("count", diverted),
			zap.String("topic", o.config.DeadLetterTopic))
	}

	pruned, err := o.pruneProcessed(ctx)
	if err != nil {
		o.logger.Error("outbox prune failed", zap.Error(err))
		span.RecordError(err)
	} else if pruned > 0 {
		o.logger.Debug("pruned processed outbox entries", zap.Int64("count", pruned))
	}
}

// divertExhausted wraps entries past MaxRetries in a dead letter envelope
// and publishes them so the original event and its failure history survive
// for manual replay.
func (o *Outbox) divertExhausted(ctx context.Context) (int64, error) {
	query := `
		SELECT id, aggregate_id, aggregate_type, event_type, payload,
		       kafka_topic, kafka_key, created_at, retry_count, last_error
		FROM outbox
		WHERE processed_at IS NULL
		  AND retry_count >= $1
		FOR UPDATE SKIP LOCKED
	`

	rows, err := o.pool.Query(ctx, query, o.config.MaxRetries)
	if err != nil {
		return 0, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var exhausted []*OutboxEntry
	for rows.Next() {
		entry := &OutboxEntry{}
		err := rows.Scan(
			&entry.ID, &entry.AggregateID, &entry.AggregateType,
			&entry.EventType, &entry.Payload, &entry.KafkaTopic,
			&entry.KafkaKey, &entry.CreatedAt, &entry.RetryCount, &entry.LastError,
		)
		if err != nil {
			return 0, fmt.Errorf("scan failed: %w", err)
		}
		exhausted = append(exhausted, entry)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var count int64
	for _, entry := range exhausted {
		envelope, err := json.Marshal(map[string]interface{}{
			"original_topic": entry.KafkaTopic,
			"event_type":     entry.EventType,
			"aggregate_id":   entry.AggregateID,
			"payload":        entry.Payload,
			"retry_count":    entry.RetryCount,
			"last_error":     entry.LastError,
			"created_at":     entry.CreatedAt,
		})
		if err != nil {
			o.logger.Error("failed to build dead letter envelope",
				zap.Int64("id", entry.ID), zap.Error(err))
			continue
		}

		if err := o.publisher.Publish(ctx, o.config.DeadLetterTopic, entry.KafkaKey, envelope); err != nil {
			o.logger.Error("failed to publish to dead letter",
				zap.Int64("id", entry.ID), zap.Error(err))
			continue
		}

		if _, err := o.pool.Exec(ctx,
			"UPDATE outbox SET processed_at = NOW(), updated_at = NOW() WHERE id = $1", entry.ID); err != nil {
			o.logger.Error("failed to mark dead letter entry",
				zap.Int64("id", entry.ID), zap.Error(err))
			continue
		}

		count++
	}

	return count, nil
}

func (o *Outbox) pruneProcessed(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM outbox
		WHERE processed_at IS NOT NULL
		  AND processed_at < NOW() - $1::interval
	`

	result, err := o.pool.Exec(ctx, query, o.config.RetainProcessed.String())
	if err != nil {
		return 0, fmt.Errorf("prune failed: %w", err)
	}

	return result.RowsAffected(), nil
}
