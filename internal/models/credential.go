package models

import "time"

// Credential holds the secrets needed to send over one channel for one
// tenant. Secret field values are encrypted at rest; Secrets here holds the
// decrypted, in-memory view handed out by the cache.
type Credential struct {
	ID        ID                `json:"id"`
	TenantID  string            `json:"tenant_id"`
	Channel   Channel           `json:"channel"`
	Secrets   map[string]string `json:"secrets"`
	Custom    bool              `json:"custom"`
	Active    bool              `json:"active"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// TenantBranding is the per-tenant visual identity fetched from the identity
// service and cached with positive/negative TTLs.
type TenantBranding struct {
	TenantID       string `json:"tenant_id"`
	Name           string `json:"name"`
	LogoURL        string `json:"logo_url"`
	PrimaryColor   string `json:"primary_color"`
	SecondaryColor string `json:"secondary_color"`
	EmailFrom      string `json:"email_from"`
	About          string `json:"about"`
}

// FallbackBranding synthesises a tenant-id-prefixed default when the
// identity service has no branding on record (or the lookup failed and the
// negative cache is in effect).
func FallbackBranding(tenantID string) TenantBranding {
	prefix := tenantID
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return TenantBranding{
		TenantID:       tenantID,
		Name:           "Tenant " + prefix,
		PrimaryColor:   "#2563eb",
		SecondaryColor: "#1e293b",
		EmailFrom:      "notifications@example.com",
	}
}

// Template is a (tenant, name, channel) versioned render source.
type Template struct {
	ID           ID                     `json:"id"`
	TenantID     string                 `json:"tenant_id"`
	Name         string                 `json:"name"`
	Channel      Channel                `json:"channel"`
	Subject      string                 `json:"subject,omitempty"`
	Body         string                 `json:"body"`
	Data         map[string]interface{} `json:"data,omitempty"`
	Version      int                    `json:"version"`
	Placeholders []string               `json:"placeholders"`
	Active       bool                   `json:"active"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}
