package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/amityvox/notifyd/internal/chat"
	"github.com/amityvox/notifyd/internal/events"
	"github.com/amityvox/notifyd/internal/models"
)

type joinConversationPayload struct {
	ConversationID string `json:"conversation_id"`
}

type sendMessagePayload struct {
	ConversationID string  `json:"conversation_id"`
	Type           string  `json:"type"`
	Content        string  `json:"content"`
	ReplyTo        *string `json:"reply_to,omitempty"`
}

type typingPayload struct {
	ConversationID string `json:"conversation_id"`
}

type reactionPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Emoji          string `json:"emoji"`
}

type markReadPayload struct {
	ConversationID string `json:"conversation_id"`
}

type updatePresencePayload struct {
	Status string `json:"status"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// handleChatFrame dispatches a single client→server chat frame for the
// given connection, persisting via chat.Store and fanning results back out
// to every connection that has joined the same conversation.
func (h *Hub) handleChatFrame(ctx context.Context, group *tenantGroup, c *conn, f Frame) {
	switch f.Type {
	case FrameJoinConversation:
		h.onJoinConversation(ctx, group, c, f.Data)
	case FrameSendMessage:
		h.onSendMessage(ctx, group, c, f.Data)
	case FrameStartTyping:
		h.onTyping(ctx, group, c, f.Data, true)
	case FrameStopTyping:
		h.onTyping(ctx, group, c, f.Data, false)
	case FrameAddReaction:
		h.onReaction(ctx, group, c, f.Data, true)
	case FrameRemoveReaction:
		h.onReaction(ctx, group, c, f.Data, false)
	case FrameMarkRead:
		h.onMarkRead(ctx, c, f.Data)
	case FrameUpdatePresence:
		h.onUpdatePresence(ctx, c, f.Data)
	default:
		c.enqueue(mustEncodeFrame(FrameError, errorPayload{Message: "unknown frame type: " + f.Type}))
	}
}

func (h *Hub) sendError(c *conn, msg string) {
	c.enqueue(mustEncodeFrame(FrameError, errorPayload{Message: msg}))
}

func (h *Hub) onJoinConversation(ctx context.Context, group *tenantGroup, c *conn, raw json.RawMessage) {
	var p joinConversationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.sendError(c, "malformed join_conversation payload")
		return
	}
	convID, err := models.ParseID(p.ConversationID)
	if err != nil {
		h.sendError(c, "invalid conversation_id")
		return
	}
	participant, err := h.chat.ActiveParticipant(ctx, convID, c.userID)
	if err != nil {
		h.logger.Error("ws: checking participant", slog.String("error", err.Error()))
		h.sendError(c, "could not join conversation")
		return
	}
	if participant == nil {
		h.sendError(c, chat.ErrNotParticipant.Error())
		return
	}
	group.joinConversation(c, convID)
}

func (h *Hub) onSendMessage(ctx context.Context, group *tenantGroup, c *conn, raw json.RawMessage) {
	var p sendMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.sendError(c, "malformed send_message payload")
		return
	}
	convID, err := models.ParseID(p.ConversationID)
	if err != nil {
		h.sendError(c, "invalid conversation_id")
		return
	}

	var replyTo *models.ID
	if p.ReplyTo != nil && *p.ReplyTo != "" {
		id, err := models.ParseID(*p.ReplyTo)
		if err != nil {
			h.sendError(c, "invalid reply_to")
			return
		}
		replyTo = &id
	}

	msgType := models.MessageType(p.Type)
	if msgType == "" {
		msgType = models.MessageText
	}

	msg, err := h.chat.SendMessage(ctx, c.tenantID, convID, c.userID, msgType, p.Content, replyTo)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}

	h.broadcastToConversation(ctx, group, c.tenantID, convID, FrameNewMessage, msg)
}

func (h *Hub) onTyping(ctx context.Context, group *tenantGroup, c *conn, raw json.RawMessage, typing bool) {
	var p typingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.sendError(c, "malformed typing payload")
		return
	}
	convID, err := models.ParseID(p.ConversationID)
	if err != nil {
		h.sendError(c, "invalid conversation_id")
		return
	}
	if !c.joined(convID) {
		h.sendError(c, chat.ErrNotParticipant.Error())
		return
	}

	payload := struct {
		ConversationID string `json:"conversation_id"`
		UserID         string `json:"user_id"`
		Typing         bool   `json:"typing"`
	}{ConversationID: convID.String(), UserID: c.userID, Typing: typing}

	h.broadcastToConversation(ctx, group, c.tenantID, convID, FrameTypingIndicator, payload)
}

func (h *Hub) onReaction(ctx context.Context, group *tenantGroup, c *conn, raw json.RawMessage, add bool) {
	var p reactionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.sendError(c, "malformed reaction payload")
		return
	}
	convID, err := models.ParseID(p.ConversationID)
	if err != nil {
		h.sendError(c, "invalid conversation_id")
		return
	}
	msgID, err := models.ParseID(p.MessageID)
	if err != nil {
		h.sendError(c, "invalid message_id")
		return
	}

	var opErr error
	frameType := FrameReactionAdded
	if add {
		opErr = h.chat.AddReaction(ctx, msgID, c.userID, p.Emoji)
	} else {
		opErr = h.chat.RemoveReaction(ctx, msgID, c.userID, p.Emoji)
		frameType = FrameReactionRemoved
	}
	if opErr != nil {
		h.sendError(c, opErr.Error())
		return
	}

	payload := struct {
		MessageID string `json:"message_id"`
		UserID    string `json:"user_id"`
		Emoji     string `json:"emoji"`
	}{MessageID: msgID.String(), UserID: c.userID, Emoji: p.Emoji}

	h.broadcastToConversation(ctx, group, c.tenantID, convID, frameType, payload)
}

func (h *Hub) onMarkRead(ctx context.Context, c *conn, raw json.RawMessage) {
	var p markReadPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.sendError(c, "malformed mark_read payload")
		return
	}
	convID, err := models.ParseID(p.ConversationID)
	if err != nil {
		h.sendError(c, "invalid conversation_id")
		return
	}
	if err := h.chat.MarkRead(ctx, convID, c.userID); err != nil {
		h.sendError(c, err.Error())
	}
}

func (h *Hub) onUpdatePresence(ctx context.Context, c *conn, raw json.RawMessage) {
	var p updatePresencePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.sendError(c, "malformed update_presence payload")
		return
	}
	if err := h.chat.UpdatePresence(ctx, c.tenantID, c.userID, p.Status); err != nil {
		h.sendError(c, err.Error())
	}
}

// broadcastToConversation fans a frame out to every locally connected member
// of convID and republishes it on the internal Bus so other instances'
// connections to the same conversation receive it too.
func (h *Hub) broadcastToConversation(ctx context.Context, group *tenantGroup, tenantID string, convID models.ID, frameType string, payload interface{}) {
	data := mustEncodeFrame(frameType, payload)

	group.mu.RLock()
	members := make([]*conn, 0, len(group.conversations[convID]))
	for c := range group.conversations[convID] {
		members = append(members, c)
	}
	group.mu.RUnlock()

	for _, c := range members {
		h.deliver(c, data)
	}

	if h.bus != nil {
		if err := h.bus.PublishInApp(ctx, events.SubjectInAppChat, h.instanceID, tenantID, "", convID.String(), json.RawMessage(data)); err != nil {
			h.logger.Error("ws: publishing chat frame", slog.String("error", err.Error()))
		}
	}
}
