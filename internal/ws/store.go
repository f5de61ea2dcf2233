package ws

import (
	"context"

	"github.com/amityvox/notifyd/internal/models"
)

// ChatStore is the subset of chat.Store the Hub needs to serve chat frames.
// Narrowing to an interface here, rather than depending on *chat.Store
// directly, keeps the Hub's connection-management logic testable without a
// database.
type ChatStore interface {
	ActiveParticipant(ctx context.Context, conversationID models.ID, userID string) (*models.ChatParticipant, error)
	SendMessage(ctx context.Context, tenantID string, conversationID models.ID, senderID string, msgType models.MessageType, content string, replyTo *models.ID) (*models.ChatMessage, error)
	AddReaction(ctx context.Context, messageID models.ID, userID, emoji string) error
	RemoveReaction(ctx context.Context, messageID models.ID, userID, emoji string) error
	MarkRead(ctx context.Context, conversationID models.ID, userID string) error
	UpdatePresence(ctx context.Context, tenantID, userID, status string) error
}
