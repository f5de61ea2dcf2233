// Package chat implements the minimal relational persistence named in §3's
// data model: conversations, participants, messages, and reactions. It backs
// the WebSocket Hub's chat frame handlers (send_message, add_reaction,
// mark_read, update_presence); an administrative chat REST surface beyond
// what the Hub needs server-side is out of scope here.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amityvox/notifyd/internal/models"
)

// ErrNotParticipant is returned when a user without an active participant
// row attempts to act on a conversation, per §3's send-access invariant.
var ErrNotParticipant = errors.New("chat: user is not an active participant")

// Store is the Postgres-backed chat persistence layer.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateConversation inserts a new conversation with the given participants
// as active members.
func (s *Store) CreateConversation(ctx context.Context, tenantID string, typ models.ConversationType, memberIDs []string) (*models.ChatConversation, error) {
	conv := &models.ChatConversation{
		ID:        models.NewID(),
		TenantID:  tenantID,
		Type:      typ,
		CreatedAt: time.Now().UTC(),
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("chat: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insConv = `INSERT INTO chat_conversations (id, tenant_id, type, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := tx.Exec(ctx, insConv, conv.ID, conv.TenantID, string(conv.Type), conv.CreatedAt); err != nil {
		return nil, fmt.Errorf("chat: inserting conversation: %w", err)
	}

	const insPart = `INSERT INTO chat_participants (conversation_id, user_id, role) VALUES ($1, $2, 'member')`
	for _, userID := range memberIDs {
		if _, err := tx.Exec(ctx, insPart, conv.ID, userID); err != nil {
			return nil, fmt.Errorf("chat: adding participant %s: %w", userID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("chat: commit tx: %w", err)
	}
	return conv, nil
}

// ActiveParticipant returns the participant row for (conversationID, userID)
// if it exists and has not left.
func (s *Store) ActiveParticipant(ctx context.Context, conversationID models.ID, userID string) (*models.ChatParticipant, error) {
	const q = `SELECT conversation_id, user_id, role, last_seen_at, left_at
	           FROM chat_participants WHERE conversation_id = $1 AND user_id = $2`
	p := &models.ChatParticipant{}
	row := s.pool.QueryRow(ctx, q, conversationID, userID)
	if err := row.Scan(&p.ConversationID, &p.UserID, &p.Role, &p.LastSeenAt, &p.LeftAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("chat: querying participant: %w", err)
	}
	if !p.Active() {
		return nil, nil
	}
	return p, nil
}

// Participants returns every active participant of a conversation, used to
// fan a broadcast out to the Hub's connected set.
func (s *Store) Participants(ctx context.Context, conversationID models.ID) ([]models.ChatParticipant, error) {
	const q = `SELECT conversation_id, user_id, role, last_seen_at, left_at
	           FROM chat_participants WHERE conversation_id = $1 AND left_at IS NULL`
	rows, err := s.pool.Query(ctx, q, conversationID)
	if err != nil {
		return nil, fmt.Errorf("chat: listing participants: %w", err)
	}
	defer rows.Close()

	var out []models.ChatParticipant
	for rows.Next() {
		var p models.ChatParticipant
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.Role, &p.LastSeenAt, &p.LeftAt); err != nil {
			return nil, fmt.Errorf("chat: scanning participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SendMessage persists a message authored by senderID into conversationID,
// enforcing §3's invariant that the sender must hold an active participant
// row.
func (s *Store) SendMessage(ctx context.Context, tenantID string, conversationID models.ID, senderID string, msgType models.MessageType, content string, replyTo *models.ID) (*models.ChatMessage, error) {
	participant, err := s.ActiveParticipant(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	if participant == nil {
		return nil, ErrNotParticipant
	}

	msg := &models.ChatMessage{
		ID:             models.NewID(),
		ConversationID: conversationID,
		TenantID:       tenantID,
		SenderID:       senderID,
		Type:           msgType,
		Content:        content,
		ReplyTo:        replyTo,
		CreatedAt:      time.Now().UTC(),
	}

	const ins = `INSERT INTO chat_messages (id, conversation_id, tenant_id, sender_id, type, content, reply_to, created_at)
	             VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := s.pool.Exec(ctx, ins, msg.ID, msg.ConversationID, msg.TenantID, msg.SenderID, string(msg.Type), msg.Content, msg.ReplyTo, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("chat: inserting message: %w", err)
	}
	return msg, nil
}

// EditMessage updates a message's content. Authored-only: the caller is
// responsible for rejecting edits from a non-author before calling this.
func (s *Store) EditMessage(ctx context.Context, messageID models.ID, authorID, content string) (*models.ChatMessage, error) {
	now := time.Now().UTC()
	const u = `UPDATE chat_messages SET content = $3, edited_at = $4
	           WHERE id = $1 AND sender_id = $2 AND deleted_at IS NULL
	           RETURNING id, conversation_id, tenant_id, sender_id, type, content, reply_to, created_at, edited_at, deleted_at`
	msg := &models.ChatMessage{}
	row := s.pool.QueryRow(ctx, u, messageID, authorID, content, now)
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.TenantID, &msg.SenderID, &msg.Type, &msg.Content, &msg.ReplyTo, &msg.CreatedAt, &msg.EditedAt, &msg.DeletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("chat: edit message %s: %w", messageID, ErrNotParticipant)
		}
		return nil, fmt.Errorf("chat: editing message: %w", err)
	}
	return msg, nil
}

// DeleteMessage soft-deletes a message so reaction totals and reply
// pointers remain valid, per §3's lifecycle note.
func (s *Store) DeleteMessage(ctx context.Context, messageID models.ID, authorID string) error {
	const u = `UPDATE chat_messages SET deleted_at = now() WHERE id = $1 AND sender_id = $2 AND deleted_at IS NULL`
	tag, err := s.pool.Exec(ctx, u, messageID, authorID)
	if err != nil {
		return fmt.Errorf("chat: deleting message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotParticipant
	}
	return nil
}

// AddReaction records a (message, user, emoji) reaction; unique per that
// triple, so a repeat is a no-op rather than an error.
func (s *Store) AddReaction(ctx context.Context, messageID models.ID, userID, emoji string) error {
	const ins = `INSERT INTO message_reactions (message_id, user_id, emoji, created_at) VALUES ($1, $2, $3, now())
	             ON CONFLICT (message_id, user_id, emoji) DO NOTHING`
	_, err := s.pool.Exec(ctx, ins, messageID, userID, emoji)
	if err != nil {
		return fmt.Errorf("chat: adding reaction: %w", err)
	}
	return nil
}

// RemoveReaction deletes a (message, user, emoji) reaction if present.
func (s *Store) RemoveReaction(ctx context.Context, messageID models.ID, userID, emoji string) error {
	const del = `DELETE FROM message_reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`
	_, err := s.pool.Exec(ctx, del, messageID, userID, emoji)
	if err != nil {
		return fmt.Errorf("chat: removing reaction: %w", err)
	}
	return nil
}

// MarkRead updates a participant's last_seen_at to now.
func (s *Store) MarkRead(ctx context.Context, conversationID models.ID, userID string) error {
	const u = `UPDATE chat_participants SET last_seen_at = now() WHERE conversation_id = $1 AND user_id = $2`
	_, err := s.pool.Exec(ctx, u, conversationID, userID)
	if err != nil {
		return fmt.Errorf("chat: marking read: %w", err)
	}
	return nil
}

// UpdatePresence upserts a user's presence status.
func (s *Store) UpdatePresence(ctx context.Context, tenantID, userID, status string) error {
	const up = `INSERT INTO user_presence (tenant_id, user_id, status, updated_at) VALUES ($1, $2, $3, now())
	            ON CONFLICT (tenant_id, user_id) DO UPDATE SET status = $3, updated_at = now()`
	_, err := s.pool.Exec(ctx, up, tenantID, userID, status)
	if err != nil {
		return fmt.Errorf("chat: updating presence: %w", err)
	}
	return nil
}
