package models

import "time"

// DeliveryState is the state machine driven by the worker pool.
type DeliveryState string

const (
	DeliveryPending  DeliveryState = "PENDING"
	DeliveryRetrying DeliveryState = "RETRYING"
	DeliverySuccess  DeliveryState = "SUCCESS"
	DeliveryFailed   DeliveryState = "FAILED"
)

// InFlight reports whether a record in this state may still be claimed or
// retried; terminal states are SUCCESS and FAILED.
func (s DeliveryState) InFlight() bool {
	return s == DeliveryPending || s == DeliveryRetrying
}

func (s DeliveryState) Terminal() bool {
	return s == DeliverySuccess || s == DeliveryFailed
}

// FailureReason classifies why a send attempt failed, per the taxonomy in
// the component design for channel senders.
type FailureReason string

const (
	FailureAuth     FailureReason = "AUTH_ERROR"
	FailureContent  FailureReason = "CONTENT_ERROR"
	FailureNetwork  FailureReason = "NETWORK_ERROR"
	FailureProvider FailureReason = "PROVIDER_ERROR"
	FailureInternal FailureReason = "INTERNAL_ERROR"
)

// Retriable reports whether a failure reason is retriable by default.
// AUTH_ERROR and CONTENT_ERROR are never retriable; callers that need a
// per-channel non-retriable override within PROVIDER_ERROR (FCM
// UNREGISTERED, SMTP 5xx, SMS 21211) pass that decision in explicitly rather
// than relying on this default.
func (r FailureReason) Retriable() bool {
	switch r {
	case FailureAuth, FailureContent:
		return false
	default:
		return true
	}
}

// RenderedContent is the concrete {subject, body, data} triple produced by
// the renderer, snapshotted onto the delivery record at creation time.
type RenderedContent struct {
	Subject string                 `json:"subject,omitempty"`
	Body    string                 `json:"body"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// DeliveryRecord is one (event-handler decision, channel, recipient) row.
type DeliveryRecord struct {
	ID               ID                     `json:"id"`
	TenantID         string                 `json:"tenant_id"`
	Channel          Channel                `json:"channel"`
	Recipient        string                 `json:"recipient"`
	Content          RenderedContent        `json:"content"`
	Context          map[string]interface{} `json:"context"`
	State            DeliveryState          `json:"state"`
	RetryCount       int                    `json:"retry_count"`
	MaxRetries       int                    `json:"max_retries"`
	FailureReason    FailureReason          `json:"failure_reason,omitempty"`
	ProviderResponse string                 `json:"provider_response,omitempty"`
	IdempotencyKey   string                 `json:"idempotency_key,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	SentAt           *time.Time             `json:"sent_at,omitempty"`
	NextAttemptAt    time.Time              `json:"next_attempt_at"`
	ClaimedAt        *time.Time             `json:"claimed_at,omitempty"`
	DeletedAt        *time.Time             `json:"deleted_at,omitempty"`
}

// DefaultMaxRetries is applied to every record unless a caller overrides it.
const DefaultMaxRetries = 3
