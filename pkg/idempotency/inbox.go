// Package idempotency deduplicates panic triggers. Keys are deterministic,
// Hash(userID + rounded coords + minute bucket), so a panic button mashed
// repeatedly produces one alert, not five, while a later emergency from the
// same spot still goes through.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Status is the processing state of an inbox row.
type Status string

const (
	StatusStarted     Status = "STARTED"
	StatusFinished    Status = "FINISHED"
	StatusRecoverable Status = "RECOVERABLE"
	StatusFailed      Status = "FAILED"
)

// ErrInProgress means another replica holds this key mid-flight.
var ErrInProgress = errors.New("trigger in progress by another handler")

// ErrDuplicate means the key exists in a state that forbids reprocessing.
var ErrDuplicate = errors.New("duplicate trigger: already processed")

// InboxEntry is one stored trigger outcome.
type InboxEntry struct {
	IdempotencyKey string
	HandlerName    string
	Status         Status
	Payload        json.RawMessage
	Result         json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      *time.Time
}

// InboxConfig holds configuration for the inbox
type InboxConfig struct {
	// DefaultTTL bounds how long a stored result is replayed.
	DefaultTTL time.Duration
	// CleanupInterval is how often expired rows are purged.
	CleanupInterval time.Duration
	// RecoveryTimeout is the age after which a STARTED row is presumed
	// orphaned by a crashed replica and reopened.
	RecoveryTimeout time.Duration
}

// DefaultInboxConfig returns sensible defaults
func DefaultInboxConfig() InboxConfig {
	return InboxConfig{
		DefaultTTL:      24 * time.Hour,
		CleanupInterval: 1 * time.Hour,
		RecoveryTimeout: 2 * time.Minute,
	}
}

// Inbox manages idempotent trigger processing over Postgres.
type Inbox struct {
	pool   *pgxpool.Pool
	config InboxConfig
	logger *zap.Logger
	tracer trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewInbox creates a new inbox manager
func NewInbox(pool *pgxpool.Pool, cfg InboxConfig, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Inbox{
		pool:   pool,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("trigger-inbox"),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// GenerateKey creates a deterministic idempotency key for a panic trigger.
// Coordinates are rounded to ~11m and the timestamp truncated to the
// minute, so rapid retriggers from the same spot dedupe while a genuine
// second emergency elsewhere does not.
func GenerateKey(userID string, lat, lng float64, timestamp time.Time) string {
	parts := []string{
		userID,
		fmt.Sprintf("%.4f", lat),
		fmt.Sprintf("%.4f", lng),
		timestamp.Truncate(time.Minute).Format(time.RFC3339),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// ProcessResult reports how a key was handled.
type ProcessResult struct {
	IsNew        bool
	WasRecovered bool
	Result       json.RawMessage
}

// ProcessFunc is the function signature for idempotent handlers
type ProcessFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Process runs fn at most once per key. A FINISHED key replays the stored
// result without calling fn; a STARTED key younger than RecoveryTimeout
// returns ErrInProgress; an orphaned or RECOVERABLE key is reopened.
func (i *Inbox) Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn ProcessFunc) (*ProcessResult, error) {
	ctx, span := i.tracer.Start(ctx, "inbox_process",
		trace.WithAttributes(
			attribute.String("idempotency_key", key),
			attribute.String("handler", handlerName),
		))
	defer span.End()

	entry, err := i.getEntry(ctx, key)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to check inbox: %w", err)
	}

	if entry != nil {
		switch entry.Status {
		case StatusFinished:
			span.SetAttributes(attribute.Bool("duplicate", true))
			return &ProcessResult{IsNew: false, Result: entry.Result}, nil

		case StatusFailed:
			span.SetAttributes(attribute.Bool("previously_failed", true))
			return nil, fmt.Errorf("trigger previously failed permanently: %s", key)

		case StatusStarted:
			if time.Since(entry.UpdatedAt) <= i.config.RecoveryTimeout {
				return nil, ErrInProgress
			}
			// Orphaned by a crashed replica; reopen and reprocess.
			if err := i.markStatus(ctx, key, StatusRecoverable, nil, ""); err != nil {
				return nil, fmt.Errorf("failed to reopen stale entry: %w", err)
			}

		case StatusRecoverable:
			span.SetAttributes(attribute.Bool("recovered", true))
		}
	}

	if err := i.claim(ctx, key, handlerName, payload); err != nil {
		return nil, err
	}

	result, handlerErr := fn(ctx, payload)
	if handlerErr != nil {
		// Validation-class failures would fail identically on retry.
		status := StatusRecoverable
		if isTerminalError(handlerErr) {
			status = StatusFailed
		}
		if err := i.markStatus(ctx, key, status, nil, handlerErr.Error()); err != nil {
			i.logger.Error("failed to mark error status", zap.Error(err))
		}
		span.RecordError(handlerErr)
		return nil, handlerErr
	}

	// A failed FINISHED write is logged, not returned: the alert went out.
	if err := i.markStatus(ctx, key, StatusFinished, result, ""); err != nil {
		i.logger.Error("failed to mark finished", zap.Error(err))
	}

	return &ProcessResult{
		IsNew:        entry == nil,
		WasRecovered: entry != nil && entry.Status == StatusRecoverable,
		Result:       result,
	}, nil
}

func (i *Inbox) getEntry(ctx context.Context, key string) (*InboxEntry, error) {
	query := `
		SELECT idempotency_key, handler_name, status, payload, result, created_at, updated_at, expires_at
		FROM inbox
		WHERE idempotency_key = $1
	`
	entry := &InboxEntry{}
	err := i.pool.QueryRow(ctx, query, key).Scan(
		&entry.IdempotencyKey, &entry.HandlerName, &entry.Status,
		&entry.Payload, &entry.Result, &entry.CreatedAt, &entry.UpdatedAt, &entry.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// claim inserts the key as STARTED, or reopens it when RECOVERABLE. The
// conditional upsert makes claiming race-safe across replicas.
func (i *Inbox) claim(ctx context.Context, key, handlerName string, payload json.RawMessage) error {
	query := `
		INSERT INTO inbox (idempotency_key, handler_name, status, payload, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET status = $3, updated_at = NOW()
		WHERE inbox.status IN ('RECOVERABLE')
		RETURNING idempotency_key
	`
	var returned string
	err := i.pool.QueryRow(ctx, query,
		key, handlerName, StatusStarted, payload, time.Now().Add(i.config.DefaultTTL)).Scan(&returned)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict with a row we may not reopen; someone else won the race.
		return ErrDuplicate
	}
	return err
}

func (i *Inbox) markStatus(ctx context.Context, key string, status Status, result json.RawMessage, errMsg string) error {
	if errMsg != "" && result == nil {
		result, _ = json.Marshal(map[string]string{"error": errMsg})
	}
	_, err := i.pool.Exec(ctx, `
		UPDATE inbox
		SET status = $1, result = $2, updated_at = NOW()
		WHERE idempotency_key = $3
	`, status, result, key)
	return err
}

// StartCleanup starts the background purge of expired rows.
func (i *Inbox) StartCleanup() {
	go i.cleanupLoop()
	i.logger.Info("inbox cleanup started", zap.Duration("interval", i.config.CleanupInterval))
}

// Stop stops the cleanup goroutine.
func (i *Inbox) Stop() {
	i.cancel()
	<-i.done
	i.logger.Info("inbox stopped")
}

func (i *Inbox) cleanupLoop() {
	defer close(i.done)

	ticker := time.NewTicker(i.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.ctx.Done():
			return
		case <-ticker.C:
			if err := i.cleanup(i.ctx); err != nil {
				i.logger.Error("inbox cleanup failed", zap.Error(err))
			}
		}
	}
}

func (i *Inbox) cleanup(ctx context.Context) error {
	result, err := i.pool.Exec(ctx, `DELETE FROM inbox WHERE expires_at < NOW()`)
	if err != nil {
		return err
	}
	if result.RowsAffected() > 0 {
		i.logger.Info("inbox cleanup completed", zap.Int64("deleted", result.RowsAffected()))
	}
	return nil
}

// isTerminalError reports whether retrying could ever succeed. Validation
// and authorization failures are deterministic; everything else is assumed
// transient.
func isTerminalError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, phrase := range []string{"validation", "invalid", "not found", "unauthorized", "forbidden"} {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
