package models

import "time"

// DeviceToken registers one push-capable device for a (tenant, user).
type DeviceToken struct {
	ID         ID         `json:"id"`
	TenantID   string     `json:"tenant_id"`
	UserID     string     `json:"user_id"`
	Platform   string     `json:"platform"`
	Token      string     `json:"token"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}
