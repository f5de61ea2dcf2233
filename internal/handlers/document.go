package handlers

import (
	"fmt"

	"github.com/amityvox/notifyd/internal/models"
)

var documentChannels = map[string][]models.Channel{
	"user.document.expiry.warning": {models.ChannelEmail, models.ChannelInApp},
	"user.document.expired":        {models.ChannelEmail},
}

// DocumentHandler covers document lifecycle notifications (expiry warnings
// and expirations for tenant-managed documents such as licenses or ID
// verification artifacts).
type DocumentHandler struct{}

func (DocumentHandler) CanHandle(eventType string) bool {
	_, ok := documentChannels[eventType]
	return ok
}

func (DocumentHandler) ChannelsFor(eventType string) []models.Channel {
	return documentChannels[eventType]
}

func (DocumentHandler) ContextFor(event models.Event, branding models.TenantBranding) (map[string]interface{}, error) {
	email, err := payloadString(event.Payload, "email")
	if err != nil {
		return nil, err
	}
	documentName, err := payloadString(event.Payload, "document_name")
	if err != nil {
		return nil, err
	}
	ctx := map[string]interface{}{
		"email":         email,
		"document_name": documentName,
		"tenant_name":   branding.Name,
		"timestamp":     event.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
	}
	if v, ok := event.Payload["user_id"].(string); ok {
		ctx["user_id"] = v
	}
	if v, ok := event.Payload["expires_at"].(string); ok {
		ctx["expires_at"] = v
	}
	return ctx, nil
}

func (DocumentHandler) ContentFor(eventType string, channel models.Channel, context map[string]interface{}) (string, string, error) {
	var recipient string
	switch channel {
	case models.ChannelInApp:
		recipient, _ = context["user_id"].(string)
	default:
		recipient, _ = context["email"].(string)
	}
	if recipient == "" {
		return "", "", fmt.Errorf("document handler: no recipient in context for %s/%s", eventType, channel)
	}
	switch eventType {
	case "user.document.expiry.warning":
		return "document.expiry.warning", recipient, nil
	case "user.document.expired":
		return "document.expired", recipient, nil
	default:
		return "", "", fmt.Errorf("document handler: unknown event type %s", eventType)
	}
}
