package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/amityvox/notifyd/internal/auth"
	"github.com/amityvox/notifyd/internal/models"
)

const testSecret = "hub-test-secret"

func signToken(t *testing.T, tenantID, userID string) string {
	t.Helper()
	claims := auth.Claims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

type fakeChatStore struct {
	participant *models.ChatParticipant
	sent        *models.ChatMessage
}

func (f *fakeChatStore) ActiveParticipant(ctx context.Context, conversationID models.ID, userID string) (*models.ChatParticipant, error) {
	return f.participant, nil
}

func (f *fakeChatStore) SendMessage(ctx context.Context, tenantID string, conversationID models.ID, senderID string, msgType models.MessageType, content string, replyTo *models.ID) (*models.ChatMessage, error) {
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
	f.sent = msg
	return msg, nil
}

func (f *fakeChatStore) AddReaction(ctx context.Context, messageID models.ID, userID, emoji string) error {
	return nil
}

func (f *fakeChatStore) RemoveReaction(ctx context.Context, messageID models.ID, userID, emoji string) error {
	return nil
}

func (f *fakeChatStore) MarkRead(ctx context.Context, conversationID models.ID, userID string) error {
	return nil
}

func (f *fakeChatStore) UpdatePresence(ctx context.Context, tenantID, userID, status string) error {
	return nil
}

func testRouter(h *Hub) http.Handler {
	r := chi.NewRouter()
	r.Get("/ws/notifications/{tenant}/", h.ServeNotifications)
	r.Get("/ws/chat/{tenant}/", h.ServeChat)
	return r
}

func newTestHub(t *testing.T, store ChatStore) *Hub {
	t.Helper()
	h, err := New(Config{
		Auth:            auth.NewService(testSecret),
		Chat:            store,
		SendBufferSize:  8,
		HeartbeatTimeout: time.Second,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func dial(t *testing.T, srv *httptest.Server, path, token string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(srv.URL, "http://", "ws://", 1) + path + "?token=" + token
	c, _, err := websocket.Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	return c
}

func readFrame(t *testing.T, c *websocket.Conn) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decoding frame: %v", err)
	}
	return f
}

func TestServeNotifications_RejectsMissingToken(t *testing.T) {
	h := newTestHub(t, &fakeChatStore{})
	srv := httptest.NewServer(testRouter(h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws/notifications/tenant-1/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestServeNotifications_RejectsTenantMismatch(t *testing.T) {
	h := newTestHub(t, &fakeChatStore{})
	srv := httptest.NewServer(testRouter(h))
	defer srv.Close()

	token := signToken(t, "tenant-1", "user-1")
	resp, err := http.Get(srv.URL + "/ws/notifications/tenant-2/?token=" + token)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestServeNotifications_AcceptsAndSendsHandshake(t *testing.T) {
	h := newTestHub(t, &fakeChatStore{})
	srv := httptest.NewServer(testRouter(h))
	defer srv.Close()

	token := signToken(t, "tenant-1", "user-1")
	c := dial(t, srv, "/ws/notifications/tenant-1/", token)
	defer c.Close(websocket.StatusNormalClosure, "")

	f := readFrame(t, c)
	if f.Type != FrameConnectionEstablished {
		t.Errorf("frame type = %q, want %q", f.Type, FrameConnectionEstablished)
	}
}

func TestBroadcastNotification_DeliversToConnectedUser(t *testing.T) {
	h := newTestHub(t, &fakeChatStore{})
	srv := httptest.NewServer(testRouter(h))
	defer srv.Close()

	token := signToken(t, "tenant-1", "user-1")
	c := dial(t, srv, "/ws/notifications/tenant-1/", token)
	defer c.Close(websocket.StatusNormalClosure, "")
	readFrame(t, c) // connection_established

	// give the server goroutine time to register the connection
	time.Sleep(50 * time.Millisecond)

	delivered, err := h.BroadcastNotification(context.Background(), "tenant-1", "user-1", models.RenderedContent{Body: "hello"})
	if err != nil {
		t.Fatalf("BroadcastNotification: %v", err)
	}
	if !delivered {
		t.Error("expected delivered = true for a connected user")
	}

	f := readFrame(t, c)
	if f.Type != FrameNotification {
		t.Errorf("frame type = %q, want %q", f.Type, FrameNotification)
	}
	var content models.RenderedContent
	if err := json.Unmarshal(f.Data, &content); err != nil {
		t.Fatalf("decoding notification payload: %v", err)
	}
	if content.Body != "hello" {
		t.Errorf("body = %q, want %q", content.Body, "hello")
	}
}

func TestBroadcastNotification_ReturnsFalseWhenRecipientOffline(t *testing.T) {
	h := newTestHub(t, &fakeChatStore{})
	delivered, err := h.BroadcastNotification(context.Background(), "tenant-1", "nobody", models.RenderedContent{Body: "hello"})
	if err != nil {
		t.Fatalf("BroadcastNotification: %v", err)
	}
	if delivered {
		t.Error("expected delivered = false when recipient has no open connection")
	}
}

func TestServeChat_SendMessageBroadcastsToJoinedParticipant(t *testing.T) {
	convID := models.NewID()
	store := &fakeChatStore{participant: &models.ChatParticipant{ConversationID: convID, UserID: "user-1"}}
	h := newTestHub(t, store)
	srv := httptest.NewServer(testRouter(h))
	defer srv.Close()

	token := signToken(t, "tenant-1", "user-1")
	c := dial(t, srv, "/ws/chat/tenant-1/", token)
	defer c.Close(websocket.StatusNormalClosure, "")
	readFrame(t, c) // connection_established

	join := mustEncodeFrame(FrameJoinConversation, joinConversationPayload{ConversationID: convID.String()})
	if err := c.Write(context.Background(), websocket.MessageText, join); err != nil {
		t.Fatalf("writing join frame: %v", err)
	}

	send := mustEncodeFrame(FrameSendMessage, sendMessagePayload{ConversationID: convID.String(), Content: "hi there"})
	if err := c.Write(context.Background(), websocket.MessageText, send); err != nil {
		t.Fatalf("writing send frame: %v", err)
	}

	f := readFrame(t, c)
	if f.Type != FrameNewMessage {
		t.Errorf("frame type = %q, want %q", f.Type, FrameNewMessage)
	}
	var msg models.ChatMessage
	if err := json.Unmarshal(f.Data, &msg); err != nil {
		t.Fatalf("decoding message payload: %v", err)
	}
	if msg.Content != "hi there" {
		t.Errorf("content = %q, want %q", msg.Content, "hi there")
	}
}

func TestServeChat_JoinByNonParticipantIsRejected(t *testing.T) {
	convID := models.NewID()
	store := &fakeChatStore{participant: nil}
	h := newTestHub(t, store)
	srv := httptest.NewServer(testRouter(h))
	defer srv.Close()

	token := signToken(t, "tenant-1", "user-1")
	c := dial(t, srv, "/ws/chat/tenant-1/", token)
	defer c.Close(websocket.StatusNormalClosure, "")
	readFrame(t, c) // connection_established

	join := mustEncodeFrame(FrameJoinConversation, joinConversationPayload{ConversationID: convID.String()})
	if err := c.Write(context.Background(), websocket.MessageText, join); err != nil {
		t.Fatalf("writing join frame: %v", err)
	}

	f := readFrame(t, c)
	if f.Type != FrameError {
		t.Errorf("frame type = %q, want %q", f.Type, FrameError)
	}
}
