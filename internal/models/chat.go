package models

import "time"

type ConversationType string

const (
	ConversationDirect  ConversationType = "direct"
	ConversationGroup   ConversationType = "group"
	ConversationChannel ConversationType = "channel"
)

type ParticipantRole string

const (
	RoleAdmin     ParticipantRole = "admin"
	RoleModerator ParticipantRole = "moderator"
	RoleMember    ParticipantRole = "member"
)

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageEmoji  MessageType = "emoji"
	MessageFile   MessageType = "file"
	MessageImage  MessageType = "image"
	MessageSystem MessageType = "system"
)

type ChatConversation struct {
	ID        ID               `json:"id"`
	TenantID  string           `json:"tenant_id"`
	Type      ConversationType `json:"type"`
	CreatedAt time.Time        `json:"created_at"`
}

type ChatParticipant struct {
	ConversationID ID              `json:"conversation_id"`
	UserID         string          `json:"user_id"`
	Role           ParticipantRole `json:"role"`
	LastSeenAt     *time.Time      `json:"last_seen_at,omitempty"`
	LeftAt         *time.Time      `json:"left_at,omitempty"`
}

// Active reports whether the participant row still grants send access to
// the conversation.
func (p ChatParticipant) Active() bool {
	return p.LeftAt == nil
}

type ChatMessage struct {
	ID             ID          `json:"id"`
	ConversationID ID          `json:"conversation_id"`
	TenantID       string      `json:"tenant_id"`
	SenderID       string      `json:"sender_id"`
	Type           MessageType `json:"type"`
	Content        string      `json:"content"`
	ReplyTo        *ID         `json:"reply_to,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	EditedAt       *time.Time  `json:"edited_at,omitempty"`
	DeletedAt      *time.Time  `json:"deleted_at,omitempty"`
}

type MessageReaction struct {
	MessageID ID        `json:"message_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

type UserPresence struct {
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}
