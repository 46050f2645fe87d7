package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/vitaqr/go-eds/internal/domain/alert"
	"github.com/vitaqr/go-eds/internal/notify"
)

// AuditRecordStore wraps a record store and mirrors every notification
// attempt into the outbox bound for the audit topic. The Postgres record is
// authoritative; the audit copy exists so compliance consumers can follow
// delivery outcomes without read access to the dispatch database.
type AuditRecordStore struct {
	inner  notify.RecordStore
	pool   *pgxpool.Pool
	topic  string
	logger *zap.Logger
}

// NewAuditRecordStore decorates inner with audit mirroring to topic.
func NewAuditRecordStore(inner notify.RecordStore, pool *pgxpool.Pool, topic string, logger *zap.Logger) *AuditRecordStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditRecordStore{inner: inner, pool: pool, topic: topic, logger: logger}
}

// CreateNotificationRecord persists the record, then best-effort mirrors it.
// A failed mirror never fails the delivery path.
func (s *AuditRecordStore) CreateNotificationRecord(ctx context.Context, rec *alert.NotificationRecord) error {
	if err := s.inner.CreateNotificationRecord(ctx, rec); err != nil {
		return err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		s.logger.Warn("audit record marshal failed",
			zap.String("record_id", rec.ID.String()), zap.Error(err))
		return nil
	}

	entry := &OutboxEntry{
		AggregateID:   rec.ID.String(),
		AggregateType: "notification-record",
		EventType:     "notification." + rec.Status,
		Payload:       payload,
		KafkaTopic:    s.topic,
		KafkaKey:      rec.Recipient,
	}
	if err := Write(ctx, s.pool, entry); err != nil {
		s.logger.Warn("audit record outbox write failed",
			zap.String("record_id", rec.ID.String()), zap.Error(err))
	}
	return nil
}
