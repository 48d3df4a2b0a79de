// Package audit persists Notification Audit Records via Postgres,
// built on the shared platform/db connection-pool helper.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nphies/claims-core/internal/platform/db"
	"github.com/nphies/claims-core/internal/teamsevent"
)

// Store persists and retrieves Notification Audit Records.
type Store struct {
	pool *pgxpool.Pool
}

// NewPool constructs the audit database's connection pool via the shared
// platform/db pool builder.
func NewPool(ctx context.Context, databaseURL string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, databaseURL, maxConns, minConns)
}

// New wraps an existing pool as a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Record inserts a Notification Audit Record.
func (s *Store) Record(ctx context.Context, rec teamsevent.AuditRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_audit_records
			(id, correlation_id, event_type, priority, webhook_url, status_code, success, sent_at, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ID, rec.CorrelationID, string(rec.EventType), string(rec.Priority), rec.WebhookURL,
		rec.StatusCode, rec.Success, rec.SentAt, rec.Error)
	if err != nil {
		return fmt.Errorf("record notification audit: %w", err)
	}
	return nil
}

// Acknowledge sets acknowledgedBy/acknowledgedAt on the record with the
// given id, recording a stakeholder's response to a Teams action card.
func (s *Store) Acknowledge(ctx context.Context, id, acknowledgedBy string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE notification_audit_records
		SET acknowledged_by = $1, acknowledged_at = $2
		WHERE id = $3
	`, acknowledgedBy, now, id)
	if err != nil {
		return fmt.Errorf("acknowledge notification audit %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("acknowledge notification audit %s: not found", id)
	}
	return nil
}

// Get fetches a single record by id.
func (s *Store) Get(ctx context.Context, id string) (teamsevent.AuditRecord, error) {
	var rec teamsevent.AuditRecord
	var eventType, priority string
	row := s.pool.QueryRow(ctx, `
		SELECT id, correlation_id, event_type, priority, webhook_url, status_code, success, sent_at, error, acknowledged_by, acknowledged_at
		FROM notification_audit_records WHERE id = $1
	`, id)
	if err := row.Scan(&rec.ID, &rec.CorrelationID, &eventType, &priority, &rec.WebhookURL,
		&rec.StatusCode, &rec.Success, &rec.SentAt, &rec.Error, &rec.AcknowledgedBy, &rec.AcknowledgedAt); err != nil {
		return teamsevent.AuditRecord{}, fmt.Errorf("get notification audit %s: %w", id, err)
	}
	rec.EventType = teamsevent.EventType(eventType)
	rec.Priority = teamsevent.Priority(priority)
	return rec, nil
}
