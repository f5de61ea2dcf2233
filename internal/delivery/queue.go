// Package delivery implements the Delivery Queue and Worker Pool (§4.5): a
// Postgres-backed queue of DeliveryRecords claimed with SKIP LOCKED,
// processed by a fixed pool of workers against per-channel Senders, with
// exponential-jittered backoff and a lease-reclaim sweeper for workers that
// die mid-send.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amityvox/notifyd/internal/models"
)

// Queue is the Postgres-backed delivery queue.
type Queue struct {
	pool *pgxpool.Pool
}

// New constructs a Queue.
func New(pool *pgxpool.Pool) *Queue {
	return &Queue{pool: pool}
}

// Enqueue inserts a delivery record in PENDING state, ready for immediate
// claim. Implements handlers.Queue. A duplicate idempotency key for the
// tenant is treated as already-enqueued, not an error, per §4.2's
// idempotency-key invariant.
func (q *Queue) Enqueue(ctx context.Context, rec *models.DeliveryRecord) error {
	if rec.ID.IsZero() {
		rec.ID = models.NewID()
	}
	ctxJSON, err := json.Marshal(rec.Context)
	if err != nil {
		return fmt.Errorf("delivery: marshaling context: %w", err)
	}
	maxRetries := rec.MaxRetries
	if maxRetries <= 0 {
		maxRetries = models.DefaultMaxRetries
	}

	const q1 = `INSERT INTO delivery_records
		(id, tenant_id, channel, recipient, content_subject, content_body, content_data, context, state, max_retries, idempotency_key, created_at, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'PENDING', $9, NULLIF($10, ''), now(), now())
		ON CONFLICT (tenant_id, idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING`

	var contentData interface{}
	if rec.Content.Data != nil {
		dataJSON, err := json.Marshal(rec.Content.Data)
		if err != nil {
			return fmt.Errorf("delivery: marshaling content data: %w", err)
		}
		contentData = dataJSON
	}

	_, err = q.pool.Exec(ctx, q1, rec.ID, rec.TenantID, string(rec.Channel), rec.Recipient,
		rec.Content.Subject, rec.Content.Body, contentData, ctxJSON, maxRetries, rec.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("delivery: inserting record: %w", err)
	}
	return nil
}

// Claim atomically takes up to n claimable records (PENDING or RETRYING,
// next_attempt_at due) using FOR UPDATE SKIP LOCKED so concurrent workers
// and instances never double-claim a row, then marks them claimed in the
// same transaction.
func (q *Queue) Claim(ctx context.Context, n int) ([]*models.DeliveryRecord, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("delivery: begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const selectQ = `SELECT id FROM delivery_records
		WHERE state IN ('PENDING', 'RETRYING') AND next_attempt_at <= now() AND deleted_at IS NULL
		ORDER BY next_attempt_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, selectQ, n)
	if err != nil {
		return nil, fmt.Errorf("delivery: selecting claimable records: %w", err)
	}
	var ids []models.ID
	for rows.Next() {
		var id models.ID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("delivery: scanning claim id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if len(ids) == 0 {
		return nil, tx.Commit(ctx)
	}

	const updateQ = `UPDATE delivery_records SET claimed_at = now() WHERE id = ANY($1)
		RETURNING id, tenant_id, channel, recipient, content_subject, content_body, content_data, context,
		          state, retry_count, max_retries, failure_reason, provider_response, idempotency_key,
		          created_at, sent_at, next_attempt_at, claimed_at, deleted_at`

	rows, err = tx.Query(ctx, updateQ, ids)
	if err != nil {
		return nil, fmt.Errorf("delivery: claiming records: %w", err)
	}
	defer rows.Close()

	var records []*models.DeliveryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("delivery: commit claim tx: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.DeliveryRecord, error) {
	rec := &models.DeliveryRecord{}
	var contentData []byte
	var ctxData []byte
	var failureReason *string

	err := row.Scan(&rec.ID, &rec.TenantID, &rec.Channel, &rec.Recipient, &rec.Content.Subject, &rec.Content.Body,
		&contentData, &ctxData, &rec.State, &rec.RetryCount, &rec.MaxRetries, &failureReason, &rec.ProviderResponse,
		&rec.IdempotencyKey, &rec.CreatedAt, &rec.SentAt, &rec.NextAttemptAt, &rec.ClaimedAt, &rec.DeletedAt)
	if err != nil {
		return nil, fmt.Errorf("delivery: scanning record: %w", err)
	}
	if failureReason != nil {
		rec.FailureReason = models.FailureReason(*failureReason)
	}
	if len(contentData) > 0 {
		if err := json.Unmarshal(contentData, &rec.Content.Data); err != nil {
			return nil, fmt.Errorf("delivery: unmarshaling content data: %w", err)
		}
	}
	if len(ctxData) > 0 {
		if err := json.Unmarshal(ctxData, &rec.Context); err != nil {
			return nil, fmt.Errorf("delivery: unmarshaling context: %w", err)
		}
	}
	return rec, nil
}

// MarkSuccess transitions a record to SUCCESS.
func (q *Queue) MarkSuccess(ctx context.Context, id models.ID, providerResponse string) error {
	const u = `UPDATE delivery_records SET state = 'SUCCESS', sent_at = now(), provider_response = $2, claimed_at = NULL WHERE id = $1`
	_, err := q.pool.Exec(ctx, u, id, providerResponse)
	if err != nil {
		return fmt.Errorf("delivery: marking success: %w", err)
	}
	return nil
}

// MarkRetry transitions a record to RETRYING with the next attempt
// scheduled at nextAttempt, or to FAILED if retryCount has reached
// maxRetries.
func (q *Queue) MarkRetry(ctx context.Context, id models.ID, reason models.FailureReason, providerResponse string, nextAttempt time.Time) error {
	const u = `UPDATE delivery_records SET
			state = CASE WHEN retry_count + 1 >= max_retries THEN 'FAILED' ELSE 'RETRYING' END,
			retry_count = retry_count + 1,
			failure_reason = $2,
			provider_response = $3,
			next_attempt_at = $4,
			claimed_at = NULL
		WHERE id = $1`
	_, err := q.pool.Exec(ctx, u, id, string(reason), providerResponse, nextAttempt)
	if err != nil {
		return fmt.Errorf("delivery: marking retry: %w", err)
	}
	return nil
}

// MarkFailed transitions a record directly to FAILED, for non-retriable
// failures (AUTH_ERROR, CONTENT_ERROR) that should not wait for
// max_retries.
func (q *Queue) MarkFailed(ctx context.Context, id models.ID, reason models.FailureReason, providerResponse string) error {
	const u = `UPDATE delivery_records SET state = 'FAILED', failure_reason = $2, provider_response = $3, claimed_at = NULL WHERE id = $1`
	_, err := q.pool.Exec(ctx, u, id, string(reason), providerResponse)
	if err != nil {
		return fmt.Errorf("delivery: marking failed: %w", err)
	}
	return nil
}

// ReclaimExpiredLeases reverts records claimed longer than leaseTimeout back
// to RETRYING with retry_count incremented (or FAILED if that exhausts
// max_retries), so a worker that died mid-send spends an attempt instead of
// looping through claim-crash-reclaim forever.
func (q *Queue) ReclaimExpiredLeases(ctx context.Context, leaseTimeout time.Duration) (int64, error) {
	const u = `UPDATE delivery_records SET
			state = CASE WHEN retry_count + 1 >= max_retries THEN 'FAILED' ELSE 'RETRYING' END,
			retry_count = retry_count + 1,
			claimed_at = NULL
		WHERE state IN ('PENDING', 'RETRYING') AND claimed_at IS NOT NULL AND claimed_at < now() - $1::interval`
	tag, err := q.pool.Exec(ctx, u, leaseTimeout.String())
	if err != nil {
		return 0, fmt.Errorf("delivery: reclaiming expired leases: %w", err)
	}
	return tag.RowsAffected(), nil
}
