package handlers

import (
	"fmt"

	"github.com/amityvox/notifyd/internal/models"
)

var applicationChannels = map[string][]models.Channel{
	"invoice.payment.failed": {models.ChannelEmail, models.ChannelInApp},
	"task.assigned":          {models.ChannelInApp, models.ChannelPush},
	"comment.mentioned":      {models.ChannelInApp, models.ChannelPush},
	"content.liked":          {models.ChannelInApp},
}

// ApplicationHandler covers application-level activity notifications:
// billing, task assignment, mentions, and engagement events.
type ApplicationHandler struct{}

func (ApplicationHandler) CanHandle(eventType string) bool {
	_, ok := applicationChannels[eventType]
	return ok
}

func (ApplicationHandler) ChannelsFor(eventType string) []models.Channel {
	return applicationChannels[eventType]
}

func (ApplicationHandler) ContextFor(event models.Event, branding models.TenantBranding) (map[string]interface{}, error) {
	userID, err := payloadString(event.Payload, "user_id")
	if err != nil {
		return nil, err
	}
	ctx := map[string]interface{}{
		"user_id":     userID,
		"tenant_name": branding.Name,
		"timestamp":   event.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
	}
	for _, key := range []string{"email", "amount", "currency", "task_name", "assigned_by", "actor_name", "content_title", "comment_excerpt"} {
		if v, ok := event.Payload[key]; ok {
			ctx[key] = v
		}
	}
	return ctx, nil
}

func (ApplicationHandler) ContentFor(eventType string, channel models.Channel, context map[string]interface{}) (string, string, error) {
	var recipient string
	switch channel {
	case models.ChannelEmail:
		recipient, _ = context["email"].(string)
	default:
		recipient, _ = context["user_id"].(string)
	}
	if recipient == "" {
		return "", "", fmt.Errorf("application handler: no recipient in context for %s/%s", eventType, channel)
	}
	switch eventType {
	case "invoice.payment.failed":
		return "application.invoice.payment.failed", recipient, nil
	case "task.assigned":
		return "application.task.assigned", recipient, nil
	case "comment.mentioned":
		return "application.comment.mentioned", recipient, nil
	case "content.liked":
		return "application.content.liked", recipient, nil
	default:
		return "", "", fmt.Errorf("application handler: unknown event type %s", eventType)
	}
}
