package senders

import (
	"context"
	"fmt"

	"github.com/amityvox/notifyd/internal/models"
)

// Broadcaster is the subset of the WebSocket Hub the in-app sender needs:
// push a notification frame to every connection a user currently has open.
type Broadcaster interface {
	BroadcastNotification(ctx context.Context, tenantID, userID string, content models.RenderedContent) (delivered bool, err error)
}

// InAppSender "sends" by pushing directly to the WebSocket Hub. recipient
// is a user ID, not an address. A disconnected recipient is not a failure:
// the record is marked SUCCESS once persisted, since in-app notifications
// are meant to be read later from the notification list, not strictly at
// delivery time.
type InAppSender struct {
	hub Broadcaster
}

// NewInAppSender constructs an InAppSender wired to the hub.
func NewInAppSender(hub Broadcaster) *InAppSender {
	return &InAppSender{hub: hub}
}

// Send implements Sender.
func (s *InAppSender) Send(ctx context.Context, cred *models.Credential, content models.RenderedContent, recipient string) (Result, error) {
	delivered, err := s.hub.BroadcastNotification(ctx, cred.TenantID, recipient, content)
	if err != nil {
		return Result{}, &SendError{Reason: models.FailureInternal, Retriable: true, Err: fmt.Errorf("senders/inapp: broadcasting: %w", err)}
	}
	if delivered {
		return Result{ProviderResponse: "delivered live"}, nil
	}
	return Result{ProviderResponse: "persisted, recipient offline"}, nil
}
