// Package devices implements registration and lookup of push-capable
// device tokens, the persistence backing the admin REST surface's
// POST /devices endpoint.
package devices

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amityvox/notifyd/internal/models"
)

// Store is the Postgres-backed device token registry.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Register upserts a device token for (tenant, token), reactivating it if
// it was previously deactivated.
func (s *Store) Register(ctx context.Context, tenantID, userID, platform, token string) (*models.DeviceToken, error) {
	dt := &models.DeviceToken{
		ID:        models.NewID(),
		TenantID:  tenantID,
		UserID:    userID,
		Platform:  platform,
		Token:     token,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}

	const ins = `INSERT INTO device_tokens (id, tenant_id, user_id, platform, token, active, created_at)
	             VALUES ($1, $2, $3, $4, $5, true, $6)
	             ON CONFLICT (tenant_id, token) DO UPDATE SET user_id = $3, platform = $4, active = true
	             RETURNING id, created_at`
	row := s.pool.QueryRow(ctx, ins, dt.ID, dt.TenantID, dt.UserID, dt.Platform, dt.Token, dt.CreatedAt)
	if err := row.Scan(&dt.ID, &dt.CreatedAt); err != nil {
		return nil, fmt.Errorf("devices: registering token: %w", err)
	}
	return dt, nil
}

// ForUser lists every active device token registered for (tenant, user).
func (s *Store) ForUser(ctx context.Context, tenantID, userID string) ([]*models.DeviceToken, error) {
	const q = `SELECT id, tenant_id, user_id, platform, token, active, created_at, last_used_at
	           FROM device_tokens WHERE tenant_id = $1 AND user_id = $2 AND active`
	rows, err := s.pool.Query(ctx, q, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("devices: listing tokens: %w", err)
	}
	defer rows.Close()

	var out []*models.DeviceToken
	for rows.Next() {
		dt := &models.DeviceToken{}
		if err := rows.Scan(&dt.ID, &dt.TenantID, &dt.UserID, &dt.Platform, &dt.Token, &dt.Active, &dt.CreatedAt, &dt.LastUsedAt); err != nil {
			return nil, fmt.Errorf("devices: scanning token: %w", err)
		}
		out = append(out, dt)
	}
	return out, rows.Err()
}

// Deactivate marks a token inactive, e.g. after a provider reports it
// unregistered.
func (s *Store) Deactivate(ctx context.Context, tenantID, token string) error {
	const u = `UPDATE device_tokens SET active = false WHERE tenant_id = $1 AND token = $2`
	tag, err := s.pool.Exec(ctx, u, tenantID, token)
	if err != nil {
		return fmt.Errorf("devices: deactivating token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
