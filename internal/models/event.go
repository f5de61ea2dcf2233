package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is the immutable envelope read off the event log. event_type is a
// dotted-path string such as "user.login.failed".
type Event struct {
	EventType string                 `json:"event_type"`
	TenantID  string                 `json:"tenant_id"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks the envelope fields the consumer must reject on.
func (e Event) Validate() error {
	if e.EventType == "" {
		return fmt.Errorf("event: missing event_type")
	}
	if e.TenantID == "" {
		return fmt.Errorf("event: missing tenant_id")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event: missing timestamp")
	}
	return nil
}

// EventID returns the producer-supplied idempotency key, if any, from
// metadata.event_id.
func (e Event) EventID() string {
	if e.Metadata == nil {
		return ""
	}
	if v, ok := e.Metadata["event_id"].(string); ok {
		return v
	}
	return ""
}

// DecodeEvent decodes a raw event-log message body into an Event.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("event: decode: %w", err)
	}
	return e, nil
}

// DeadLetter records an event the consumer could not dispatch (a malformed
// or invalid envelope, or a non-retriable dispatch failure such as a missing
// template) so it is queryable from the admin surface rather than only
// appearing in logs.
type DeadLetter struct {
	ID        ID        `json:"id"`
	Topic     string    `json:"topic"`
	TenantID  string    `json:"tenant_id,omitempty"`
	EventType string    `json:"event_type,omitempty"`
	Reason    string    `json:"reason"`
	RawEvent  []byte    `json:"raw_event"`
	CreatedAt time.Time `json:"created_at"`
}
