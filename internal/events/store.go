package events

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amityvox/notifyd/internal/models"
)

// PostgresDeadLetterStore persists dead-lettered events to the dead_letters
// table, backing the Consumer's DeadLetterWriter dependency and the admin
// surface's read path over the same rows.
type PostgresDeadLetterStore struct {
	pool *pgxpool.Pool
}

// NewPostgresDeadLetterStore constructs a store.
func NewPostgresDeadLetterStore(pool *pgxpool.Pool) *PostgresDeadLetterStore {
	return &PostgresDeadLetterStore{pool: pool}
}

// Write inserts dl. Implements DeadLetterWriter.
func (s *PostgresDeadLetterStore) Write(ctx context.Context, dl *models.DeadLetter) error {
	if dl.ID.IsZero() {
		dl.ID = models.NewID()
	}
	const ins = `INSERT INTO dead_letters (id, topic, tenant_id, event_type, reason, raw_event, created_at)
	             VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, now())`
	_, err := s.pool.Exec(ctx, ins, dl.ID, dl.Topic, dl.TenantID, dl.EventType, dl.Reason, dl.RawEvent)
	if err != nil {
		return fmt.Errorf("events: inserting dead letter: %w", err)
	}
	return nil
}

// List returns the most recent dead letters for a tenant, newest first,
// for the admin surface's read-only dead-letter listing.
func (s *PostgresDeadLetterStore) List(ctx context.Context, tenantID string, limit int) ([]*models.DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `SELECT id, topic, tenant_id, event_type, reason, raw_event, created_at
	           FROM dead_letters WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, q, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("events: listing dead letters: %w", err)
	}
	defer rows.Close()

	var out []*models.DeadLetter
	for rows.Next() {
		dl := &models.DeadLetter{}
		var tenant, eventType *string
		if err := rows.Scan(&dl.ID, &dl.Topic, &tenant, &eventType, &dl.Reason, &dl.RawEvent, &dl.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scanning dead letter: %w", err)
		}
		if tenant != nil {
			dl.TenantID = *tenant
		}
		if eventType != nil {
			dl.EventType = *eventType
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}
