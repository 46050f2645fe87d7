package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Repository persists panic alerts and notification records.
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{pool: pool, logger: logger}
}

// Create persists a new alert with its facility snapshot.
func (r *Repository) Create(ctx context.Context, a *PanicAlert) error {
	facilities, err := json.Marshal(a.Facilities)
	if err != nil {
		return fmt.Errorf("marshal facility snapshot: %w", err)
	}

	query := `
		INSERT INTO panic_alerts
		(id, user_id, lat, lng, accuracy, message, status, facilities, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.pool.Exec(ctx, query,
		a.ID, a.UserID, a.Lat, a.Lng, a.Accuracy, a.Message, a.Status, facilities, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// AttachDeliveries writes the delivery snapshot onto an existing alert. This
// is the single post-dispatch mutation the lifecycle allows.
func (r *Repository) AttachDeliveries(ctx context.Context, id uuid.UUID, deliveries []DeliveryOutcome) error {
	payload, err := json.Marshal(deliveries)
	if err != nil {
		return fmt.Errorf("marshal delivery snapshot: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE panic_alerts SET deliveries = $1 WHERE id = $2 AND deliveries IS NULL`,
		payload, id,
	)
	if err != nil {
		return fmt.Errorf("attach deliveries: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %s missing or delivery snapshot already attached", id)
	}
	return nil
}

// Cancel transitions an alert to CANCELLED. The WHERE clause enforces
// ownership and the ACTIVE precondition in one statement, so all misses
// collapse into the single ErrNotFoundOrInactive kind.
func (r *Repository) Cancel(ctx context.Context, id, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE panic_alerts
		SET status = $1, cancelled_at = NOW()
		WHERE id = $2 AND user_id = $3 AND status = $4
	`, StatusCancelled, id, userID, StatusActive)
	if err != nil {
		return fmt.Errorf("cancel alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFoundOrInactive
	}
	return nil
}

// GetByID loads one alert owned by userID.
func (r *Repository) GetByID(ctx context.Context, id, userID uuid.UUID) (*PanicAlert, error) {
	row := r.pool.QueryRow(ctx, selectAlert+` WHERE id = $1 AND user_id = $2`, id, userID)
	a, err := scanAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFoundOrInactive
	}
	return a, err
}

// ListActive returns the user's active alerts, newest first.
func (r *Repository) ListActive(ctx context.Context, userID uuid.UUID) ([]*PanicAlert, error) {
	rows, err := r.pool.Query(ctx,
		selectAlert+` WHERE user_id = $1 AND status = $2 ORDER BY created_at DESC`,
		userID, StatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

// ListHistory returns the user's most recent alerts regardless of status.
func (r *Repository) ListHistory(ctx context.Context, userID uuid.UUID, limit int) ([]*PanicAlert, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx,
		selectAlert+` WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list alert history: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

const selectAlert = `
	SELECT id, user_id, lat, lng, accuracy, message, status,
	       facilities, deliveries, created_at, cancelled_at
	FROM panic_alerts
`

func scanAlert(row pgx.Row) (*PanicAlert, error) {
	a := &PanicAlert{}
	var facilities, deliveries []byte
	err := row.Scan(
		&a.ID, &a.UserID, &a.Lat, &a.Lng, &a.Accuracy, &a.Message, &a.Status,
		&facilities, &deliveries, &a.CreatedAt, &a.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	if len(facilities) > 0 {
		if err := json.Unmarshal(facilities, &a.Facilities); err != nil {
			return nil, fmt.Errorf("decode facility snapshot: %w", err)
		}
	}
	if len(deliveries) > 0 {
		if err := json.Unmarshal(deliveries, &a.Deliveries); err != nil {
			return nil, fmt.Errorf("decode delivery snapshot: %w", err)
		}
	}
	return a, nil
}

func scanAlerts(rows pgx.Rows) ([]*PanicAlert, error) {
	var alerts []*PanicAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// CreateNotificationRecord appends one delivery-attempt record to the audit
// store. Audit completeness must not depend on send success, so callers
// write a record for every attempt.
func (r *Repository) CreateNotificationRecord(ctx context.Context, rec *NotificationRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal record metadata: %w", err)
	}

	query := `
		INSERT INTO notification_records
		(id, recipient, type, channel, body, status, message_id, error, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.pool.Exec(ctx, query,
		rec.ID, rec.Recipient, rec.Type, rec.Channel, rec.Body,
		rec.Status, rec.MessageID, rec.Error, metadata, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification record: %w", err)
	}
	return nil
}
