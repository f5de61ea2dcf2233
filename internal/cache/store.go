package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amityvox/notifyd/internal/crypto"
	"github.com/amityvox/notifyd/internal/models"
)

// PostgresCredentialStore is the CredentialStore backed by the credentials
// table, decrypting secrets through a SecretsBox on read and encrypting on
// write. It implements the cache package's CredentialStore interface.
type PostgresCredentialStore struct {
	pool *pgxpool.Pool
	box  *crypto.SecretsBox
}

// NewPostgresCredentialStore constructs a store.
func NewPostgresCredentialStore(pool *pgxpool.Pool, box *crypto.SecretsBox) *PostgresCredentialStore {
	return &PostgresCredentialStore{pool: pool, box: box}
}

// ActiveCredential returns the active credential for (tenant, channel), or
// nil if none exists.
func (s *PostgresCredentialStore) ActiveCredential(ctx context.Context, tenantID string, channel models.Channel) (*models.Credential, error) {
	const q = `SELECT id, tenant_id, channel, secrets, custom, active, created_at, updated_at
	           FROM credentials WHERE tenant_id = $1 AND channel = $2 AND active LIMIT 1`

	var id models.ID
	var cipher []byte
	cred := &models.Credential{}
	row := s.pool.QueryRow(ctx, q, tenantID, string(channel))
	if err := row.Scan(&id, &cred.TenantID, &cred.Channel, &cipher, &cred.Custom, &cred.Active, &cred.CreatedAt, &cred.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache/store: querying active credential: %w", err)
	}
	cred.ID = id

	secrets, err := s.box.DecryptSecrets(cipher)
	if err != nil {
		return nil, fmt.Errorf("cache/store: decrypting credential %s: %w", id, err)
	}
	cred.Secrets = secrets
	return cred, nil
}

// CreateAutoCredential inserts a system-generated credential, deactivating
// any prior active row for the (tenant, channel) pair in the same
// transaction so the partial unique index on active rows is never
// violated.
func (s *PostgresCredentialStore) CreateAutoCredential(ctx context.Context, tenantID string, channel models.Channel, secrets map[string]string) (*models.Credential, error) {
	cipher, err := s.box.EncryptSecrets(secrets)
	if err != nil {
		return nil, fmt.Errorf("cache/store: encrypting credential secrets: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache/store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE credentials SET active = false, updated_at = now() WHERE tenant_id = $1 AND channel = $2 AND active`, tenantID, string(channel)); err != nil {
		return nil, fmt.Errorf("cache/store: deactivating prior credential: %w", err)
	}

	id := models.NewID()
	now := time.Now().UTC()
	const ins = `INSERT INTO credentials (id, tenant_id, channel, secrets, custom, active, created_at, updated_at)
	             VALUES ($1, $2, $3, $4, false, true, $5, $5)`
	if _, err := tx.Exec(ctx, ins, id, tenantID, string(channel), cipher, now); err != nil {
		return nil, fmt.Errorf("cache/store: inserting auto credential: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("cache/store: commit tx: %w", err)
	}

	return &models.Credential{
		ID:        id,
		TenantID:  tenantID,
		Channel:   channel,
		Secrets:   secrets,
		Custom:    false,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// List returns every credential on record for a tenant, active or not.
func (s *PostgresCredentialStore) List(ctx context.Context, tenantID string) ([]*models.Credential, error) {
	const q = `SELECT id, tenant_id, channel, secrets, custom, active, created_at, updated_at
	           FROM credentials WHERE tenant_id = $1 ORDER BY channel`
	rows, err := s.pool.Query(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("cache/store: listing credentials: %w", err)
	}
	defer rows.Close()

	var out []*models.Credential
	for rows.Next() {
		cred := &models.Credential{}
		var cipher []byte
		if err := rows.Scan(&cred.ID, &cred.TenantID, &cred.Channel, &cipher, &cred.Custom, &cred.Active, &cred.CreatedAt, &cred.UpdatedAt); err != nil {
			return nil, fmt.Errorf("cache/store: scanning credential: %w", err)
		}
		secrets, err := s.box.DecryptSecrets(cipher)
		if err != nil {
			return nil, fmt.Errorf("cache/store: decrypting credential %s: %w", cred.ID, err)
		}
		cred.Secrets = secrets
		out = append(out, cred)
	}
	return out, rows.Err()
}

// Upsert creates or replaces the active custom credential for (tenant,
// channel), per §6's "POST upserts by channel" contract.
func (s *PostgresCredentialStore) Upsert(ctx context.Context, tenantID string, channel models.Channel, secrets map[string]string) (*models.Credential, error) {
	cipher, err := s.box.EncryptSecrets(secrets)
	if err != nil {
		return nil, fmt.Errorf("cache/store: encrypting credential secrets: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache/store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE credentials SET active = false, updated_at = now() WHERE tenant_id = $1 AND channel = $2 AND active`, tenantID, string(channel)); err != nil {
		return nil, fmt.Errorf("cache/store: deactivating prior credential: %w", err)
	}

	id := models.NewID()
	now := time.Now().UTC()
	const ins = `INSERT INTO credentials (id, tenant_id, channel, secrets, custom, active, created_at, updated_at)
	             VALUES ($1, $2, $3, $4, true, true, $5, $5)`
	if _, err := tx.Exec(ctx, ins, id, tenantID, string(channel), cipher, now); err != nil {
		return nil, fmt.Errorf("cache/store: inserting credential: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("cache/store: commit tx: %w", err)
	}

	return &models.Credential{
		ID:        id,
		TenantID:  tenantID,
		Channel:   channel,
		Secrets:   secrets,
		Custom:    true,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Update replaces the secrets of an existing credential row by id.
func (s *PostgresCredentialStore) Update(ctx context.Context, id models.ID, secrets map[string]string) (*models.Credential, error) {
	cipher, err := s.box.EncryptSecrets(secrets)
	if err != nil {
		return nil, fmt.Errorf("cache/store: encrypting credential secrets: %w", err)
	}

	const u = `UPDATE credentials SET secrets = $2, updated_at = now() WHERE id = $1
	           RETURNING id, tenant_id, channel, custom, active, created_at, updated_at`
	cred := &models.Credential{Secrets: secrets}
	row := s.pool.QueryRow(ctx, u, id, cipher)
	if err := row.Scan(&cred.ID, &cred.TenantID, &cred.Channel, &cred.Custom, &cred.Active, &cred.CreatedAt, &cred.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("cache/store: credential %s: %w", id, pgx.ErrNoRows)
		}
		return nil, fmt.Errorf("cache/store: updating credential: %w", err)
	}
	return cred, nil
}

// PostgresTemplateStore is the TemplateStore backed by the templates table.
// It implements handlers.TemplateStore.
type PostgresTemplateStore struct {
	pool *pgxpool.Pool
}

// NewPostgresTemplateStore constructs a store.
func NewPostgresTemplateStore(pool *pgxpool.Pool) *PostgresTemplateStore {
	return &PostgresTemplateStore{pool: pool}
}

// Active returns the active (tenant, name, channel) template, or nil if
// none exists — a nil, nil result is not an error; callers treat it as a
// permanent, non-retriable miss.
func (s *PostgresTemplateStore) Active(ctx context.Context, tenantID, name string, channel models.Channel) (*models.Template, error) {
	const q = `SELECT id, tenant_id, name, channel, subject, body, data, version, placeholders, active, created_at, updated_at
	           FROM templates WHERE tenant_id = $1 AND name = $2 AND channel = $3 AND active LIMIT 1`

	tmpl := &models.Template{}
	var id models.ID
	row := s.pool.QueryRow(ctx, q, tenantID, name, string(channel))
	if err := row.Scan(&id, &tmpl.TenantID, &tmpl.Name, &tmpl.Channel, &tmpl.Subject, &tmpl.Body, &tmpl.Data, &tmpl.Version, &tmpl.Placeholders, &tmpl.Active, &tmpl.CreatedAt, &tmpl.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache/store: querying active template: %w", err)
	}
	tmpl.ID = id
	return tmpl, nil
}

// List returns every template on record for a tenant.
func (s *PostgresTemplateStore) List(ctx context.Context, tenantID string) ([]*models.Template, error) {
	const q = `SELECT id, tenant_id, name, channel, subject, body, data, version, placeholders, active, created_at, updated_at
	           FROM templates WHERE tenant_id = $1 ORDER BY name, channel, version DESC`
	rows, err := s.pool.Query(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("cache/store: listing templates: %w", err)
	}
	defer rows.Close()

	var out []*models.Template
	for rows.Next() {
		tmpl := &models.Template{}
		if err := rows.Scan(&tmpl.ID, &tmpl.TenantID, &tmpl.Name, &tmpl.Channel, &tmpl.Subject, &tmpl.Body, &tmpl.Data, &tmpl.Version, &tmpl.Placeholders, &tmpl.Active, &tmpl.CreatedAt, &tmpl.UpdatedAt); err != nil {
			return nil, fmt.Errorf("cache/store: scanning template: %w", err)
		}
		out = append(out, tmpl)
	}
	return out, rows.Err()
}

// Create inserts a new active template version, deactivating any prior
// active (tenant, name, channel) row so the partial unique index holds.
func (s *PostgresTemplateStore) Create(ctx context.Context, tmpl *models.Template) (*models.Template, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache/store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var priorVersion int
	err = tx.QueryRow(ctx, `SELECT version FROM templates WHERE tenant_id = $1 AND name = $2 AND channel = $3 AND active`,
		tmpl.TenantID, tmpl.Name, string(tmpl.Channel)).Scan(&priorVersion)
	switch {
	case err == nil:
		if _, err := tx.Exec(ctx, `UPDATE templates SET active = false, updated_at = now() WHERE tenant_id = $1 AND name = $2 AND channel = $3 AND active`,
			tmpl.TenantID, tmpl.Name, string(tmpl.Channel)); err != nil {
			return nil, fmt.Errorf("cache/store: deactivating prior template: %w", err)
		}
		tmpl.Version = priorVersion + 1
	case errors.Is(err, pgx.ErrNoRows):
		tmpl.Version = 1
	default:
		return nil, fmt.Errorf("cache/store: checking prior template version: %w", err)
	}

	tmpl.ID = models.NewID()
	now := time.Now().UTC()
	tmpl.CreatedAt, tmpl.UpdatedAt, tmpl.Active = now, now, true

	const ins = `INSERT INTO templates (id, tenant_id, name, channel, subject, body, data, version, placeholders, active, created_at, updated_at)
	             VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, true, $10, $10)`
	if _, err := tx.Exec(ctx, ins, tmpl.ID, tmpl.TenantID, tmpl.Name, string(tmpl.Channel), tmpl.Subject, tmpl.Body, tmpl.Data, tmpl.Version, tmpl.Placeholders, now); err != nil {
		return nil, fmt.Errorf("cache/store: inserting template: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("cache/store: commit tx: %w", err)
	}
	return tmpl, nil
}

// Update edits an existing template's content in place, without bumping its
// version or changing which row is active.
func (s *PostgresTemplateStore) Update(ctx context.Context, id models.ID, subject, body string, data map[string]interface{}, placeholders []string) (*models.Template, error) {
	const u = `UPDATE templates SET subject = $2, body = $3, data = $4, placeholders = $5, updated_at = now()
	           WHERE id = $1
	           RETURNING id, tenant_id, name, channel, subject, body, data, version, placeholders, active, created_at, updated_at`
	tmpl := &models.Template{}
	row := s.pool.QueryRow(ctx, u, id, subject, body, data, placeholders)
	if err := row.Scan(&tmpl.ID, &tmpl.TenantID, &tmpl.Name, &tmpl.Channel, &tmpl.Subject, &tmpl.Body, &tmpl.Data, &tmpl.Version, &tmpl.Placeholders, &tmpl.Active, &tmpl.CreatedAt, &tmpl.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("cache/store: template %s: %w", id, pgx.ErrNoRows)
		}
		return nil, fmt.Errorf("cache/store: updating template: %w", err)
	}
	return tmpl, nil
}

// Delete deactivates a template so it is no longer resolved for rendering,
// without removing its history.
func (s *PostgresTemplateStore) Delete(ctx context.Context, id models.ID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE templates SET active = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("cache/store: deleting template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
