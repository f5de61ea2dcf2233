package handlers

import (
	"fmt"

	"github.com/amityvox/notifyd/internal/models"
)

var securityChannels = map[string][]models.Channel{
	"auth.2fa.code.requested":     {models.ChannelSMS},
	"auth.2fa.attempt.failed":     {models.ChannelEmail, models.ChannelInApp},
	"auth.2fa.method.changed":     {models.ChannelEmail},
}

// SecurityHandler covers 2FA and account-security event types. Two-factor
// codes are always sent over SMS; payload.method is copied into the render
// context but does not change the channel.
type SecurityHandler struct{}

func (SecurityHandler) CanHandle(eventType string) bool {
	_, ok := securityChannels[eventType]
	return ok
}

func (h SecurityHandler) ChannelsFor(eventType string) []models.Channel {
	return securityChannels[eventType]
}

func (SecurityHandler) ContextFor(event models.Event, branding models.TenantBranding) (map[string]interface{}, error) {
	ctx := map[string]interface{}{
		"tenant_name": branding.Name,
		"timestamp":   event.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
	}
	if v, ok := event.Payload["code"].(string); ok {
		ctx["code"] = v
	}
	if v, ok := event.Payload["phone"].(string); ok {
		ctx["phone"] = v
	}
	if v, ok := event.Payload["email"].(string); ok {
		ctx["email"] = v
	}
	if v, ok := event.Payload["user_id"].(string); ok {
		ctx["user_id"] = v
	}
	if v, ok := event.Payload["method"].(string); ok {
		ctx["method"] = v
	}
	return ctx, nil
}

func (SecurityHandler) ContentFor(eventType string, channel models.Channel, context map[string]interface{}) (string, string, error) {
	var recipient string
	switch channel {
	case models.ChannelSMS:
		recipient, _ = context["phone"].(string)
	case models.ChannelInApp:
		recipient, _ = context["user_id"].(string)
	default:
		recipient, _ = context["email"].(string)
	}
	if recipient == "" {
		return "", "", fmt.Errorf("security handler: no recipient in context for %s/%s", eventType, channel)
	}
	switch eventType {
	case "auth.2fa.code.requested":
		return "security.2fa.code.requested", recipient, nil
	case "auth.2fa.attempt.failed":
		return "security.2fa.attempt.failed", recipient, nil
	case "auth.2fa.method.changed":
		return "security.2fa.method.changed", recipient, nil
	default:
		return "", "", fmt.Errorf("security handler: unknown event type %s", eventType)
	}
}
