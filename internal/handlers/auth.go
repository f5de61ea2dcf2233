package handlers

import (
	"fmt"

	"github.com/amityvox/notifyd/internal/models"
)

// authChannels is the static channel fan-out table for authentication
// event types (§4.2, §6).
var authChannels = map[string][]models.Channel{
	"user.registration.completed":      {models.ChannelEmail},
	"user.password.reset.requested":    {models.ChannelEmail},
	"user.login.succeeded":             {models.ChannelInApp},
	"user.login.failed":                {models.ChannelEmail, models.ChannelInApp},
}

// AuthHandler covers the authentication event class.
type AuthHandler struct{}

func (AuthHandler) CanHandle(eventType string) bool {
	_, ok := authChannels[eventType]
	return ok
}

func (AuthHandler) ChannelsFor(eventType string) []models.Channel {
	return authChannels[eventType]
}

func (AuthHandler) ContextFor(event models.Event, branding models.TenantBranding) (map[string]interface{}, error) {
	firstName := payloadStringOr(event.Payload, "first_name", "there")
	email, err := payloadString(event.Payload, "email")
	if err != nil {
		return nil, err
	}
	userID := payloadStringOr(event.Payload, "user_id", "")
	ctx := map[string]interface{}{
		"first_name":  firstName,
		"email":       email,
		"user_id":     userID,
		"tenant_name": branding.Name,
		"timestamp":   event.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
	}
	if v, ok := event.Payload["ip_address"].(string); ok {
		ctx["ip_address"] = v
	}
	if v, ok := event.Payload["reset_token"].(string); ok {
		ctx["reset_token"] = v
	}
	return ctx, nil
}

func (AuthHandler) ContentFor(eventType string, channel models.Channel, context map[string]interface{}) (string, string, error) {
	recipient, _ := context["email"].(string)
	if channel == models.ChannelInApp {
		recipient, _ = context["user_id"].(string)
	}
	if recipient == "" {
		return "", "", fmt.Errorf("auth handler: no recipient in context for %s/%s", eventType, channel)
	}
	switch eventType {
	case "user.registration.completed":
		return "auth.registration.completed", recipient, nil
	case "user.password.reset.requested":
		return "auth.password.reset.requested", recipient, nil
	case "user.login.succeeded":
		return "auth.login.succeeded", recipient, nil
	case "user.login.failed":
		return "auth.login.failed", recipient, nil
	default:
		return "", "", fmt.Errorf("auth handler: unknown event type %s", eventType)
	}
}
