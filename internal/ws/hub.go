// Package ws implements the WebSocket Hub (§4.7): per-tenant connection
// groups for notification fan-out and a second level of conversation
// grouping for chat, backed by github.com/coder/websocket on the wire and
// internal/chat for message persistence.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/amityvox/notifyd/internal/auth"
	"github.com/amityvox/notifyd/internal/events"
	"github.com/amityvox/notifyd/internal/models"
)

// tenantGroup holds every connection open for one tenant, indexed both
// flatly (for notification broadcast) and by the user id it authenticated
// as (so a direct notification reaches only that user's connections), plus
// a conversation index for chat fan-out.
type tenantGroup struct {
	mu            sync.RWMutex
	all           map[*conn]struct{}
	byUser        map[string]map[*conn]struct{}
	conversations map[models.ID]map[*conn]struct{}
}

func newTenantGroup() *tenantGroup {
	return &tenantGroup{
		all:           make(map[*conn]struct{}),
		byUser:        make(map[string]map[*conn]struct{}),
		conversations: make(map[models.ID]map[*conn]struct{}),
	}
}

func (g *tenantGroup) add(c *conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.all[c] = struct{}{}
	if g.byUser[c.userID] == nil {
		g.byUser[c.userID] = make(map[*conn]struct{})
	}
	g.byUser[c.userID][c] = struct{}{}
}

func (g *tenantGroup) remove(c *conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.all, c)
	if users := g.byUser[c.userID]; users != nil {
		delete(users, c)
		if len(users) == 0 {
			delete(g.byUser, c.userID)
		}
	}
	for convID, members := range g.conversations {
		delete(members, c)
		if len(members) == 0 {
			delete(g.conversations, convID)
		}
	}
}

func (g *tenantGroup) joinConversation(c *conn, convID models.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conversations[convID] == nil {
		g.conversations[convID] = make(map[*conn]struct{})
	}
	g.conversations[convID][c] = struct{}{}
	c.join(convID)
}

func (g *tenantGroup) empty() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.all) == 0
}

// Hub is the WebSocket Hub. It implements senders.Broadcaster.
type Hub struct {
	instanceID string

	auth *auth.Service
	chat ChatStore
	bus  *events.Bus

	bufferSize   int
	idleTimeout  time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger

	mu      sync.RWMutex
	tenants map[string]*tenantGroup
}

// Config configures a Hub.
type Config struct {
	Auth             *auth.Service
	Chat             ChatStore
	Bus              *events.Bus
	SendBufferSize   int
	HeartbeatTimeout time.Duration
	Logger           *slog.Logger
}

// New constructs a Hub. If cfg.Bus is non-nil, the Hub subscribes to the
// internal fan-out subjects so a notification or chat frame produced by any
// instance reaches connections on this one too.
func New(cfg Config) (*Hub, error) {
	bufferSize := cfg.SendBufferSize
	if bufferSize <= 0 {
		bufferSize = 32
	}
	idleTimeout := cfg.HeartbeatTimeout
	if idleTimeout <= 0 {
		idleTimeout = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Hub{
		instanceID:   uuid.NewString(),
		auth:         cfg.Auth,
		chat:         cfg.Chat,
		bus:          cfg.Bus,
		bufferSize:   bufferSize,
		idleTimeout:  idleTimeout,
		writeTimeout: 10 * time.Second,
		logger:       logger,
		tenants:      make(map[string]*tenantGroup),
	}

	if h.bus != nil {
		if _, err := h.bus.Subscribe(events.SubjectInAppNotification, h.onInternalFrame); err != nil {
			return nil, err
		}
		if _, err := h.bus.Subscribe(events.SubjectInAppChat, h.onInternalFrame); err != nil {
			return nil, err
		}
	}

	return h, nil
}

func (h *Hub) groupFor(tenantID string) *tenantGroup {
	h.mu.Lock()
	defer h.mu.Unlock()
	g := h.tenants[tenantID]
	if g == nil {
		g = newTenantGroup()
		h.tenants[tenantID] = g
	}
	return g
}

func (h *Hub) dropGroupIfEmpty(tenantID string, g *tenantGroup) {
	if !g.empty() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tenants[tenantID] == g && g.empty() {
		delete(h.tenants, tenantID)
	}
}

// onInternalFrame re-broadcasts a frame published by another instance to
// this instance's locally connected clients.
func (h *Hub) onInternalFrame(frame events.InternalFrame) {
	if frame.OriginID == h.instanceID {
		return
	}

	h.mu.RLock()
	g := h.tenants[frame.TenantID]
	h.mu.RUnlock()
	if g == nil {
		return
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	switch {
	case frame.UserID != "":
		for c := range g.byUser[frame.UserID] {
			h.deliver(c, frame.Data)
		}
	case frame.ConversationID != "":
		convID, err := models.ParseID(frame.ConversationID)
		if err != nil {
			return
		}
		for c := range g.conversations[convID] {
			h.deliver(c, frame.Data)
		}
	default:
		for c := range g.all {
			h.deliver(c, frame.Data)
		}
	}
}

func (h *Hub) deliver(c *conn, data []byte) {
	if !c.enqueue(data) {
		h.logger.Warn("ws: closing slow consumer", slog.String("conn", c.id), slog.String("tenant", c.tenantID))
		c.closeWithReason(websocket.StatusPolicyViolation, "back-pressure: client too slow")
	}
}

func (h *Hub) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("ws: accept failed", slog.String("error", err.Error()))
		return nil, false
	}
	wsConn.SetReadLimit(1 << 16)
	return wsConn, true
}

func (h *Hub) authenticate(w http.ResponseWriter, r *http.Request) (tenantID, userID string, ok bool) {
	tenantID = chi.URLParam(r, "tenant")
	token := r.URL.Query().Get("token")
	if tenantID == "" || token == "" {
		http.Error(w, "missing tenant or token", http.StatusUnauthorized)
		return "", "", false
	}
	userID, err := h.auth.ValidateForTenant(token, tenantID)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return "", "", false
	}
	return tenantID, userID, true
}

// ServeNotifications handles GET /ws/notifications/{tenant}/?token=...
func (h *Hub) ServeNotifications(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	wsConn, ok := h.accept(w, r)
	if !ok {
		return
	}

	c := newConn(tenantID, userID, wsConn, h.bufferSize, h.writeTimeout, h.logger)
	group := h.groupFor(tenantID)
	group.add(c)
	defer func() {
		group.remove(c)
		h.dropGroupIfEmpty(tenantID, group)
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go c.writePump(ctx)
	c.enqueue(mustEncodeFrame(FrameConnectionEstablished, map[string]string{"tenant_id": tenantID, "user_id": userID}))

	c.readPump(ctx, h.idleTimeout, func(Frame) {
		// Notification connections are server→client only beyond the
		// initial handshake; client frames just reset the idle deadline.
	})
	c.closeWithReason(websocket.StatusNormalClosure, "")
}

// ServeChat handles GET /ws/chat/{tenant}/?token=...
func (h *Hub) ServeChat(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	wsConn, ok := h.accept(w, r)
	if !ok {
		return
	}

	c := newConn(tenantID, userID, wsConn, h.bufferSize, h.writeTimeout, h.logger)
	group := h.groupFor(tenantID)
	group.add(c)
	defer func() {
		group.remove(c)
		h.dropGroupIfEmpty(tenantID, group)
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go c.writePump(ctx)
	c.enqueue(mustEncodeFrame(FrameConnectionEstablished, map[string]string{"tenant_id": tenantID, "user_id": userID}))

	c.readPump(ctx, h.idleTimeout, func(f Frame) {
		h.handleChatFrame(ctx, group, c, f)
	})
	c.closeWithReason(websocket.StatusNormalClosure, "")
}

// BroadcastNotification implements senders.Broadcaster: it delivers content
// to every connection userID currently has open in tenantID, returning
// false (not an error) if the user has none.
func (h *Hub) BroadcastNotification(ctx context.Context, tenantID, userID string, content models.RenderedContent) (bool, error) {
	data := mustEncodeFrame(FrameNotification, content)

	h.mu.RLock()
	g := h.tenants[tenantID]
	h.mu.RUnlock()

	var delivered bool
	if g != nil {
		g.mu.RLock()
		conns := make([]*conn, 0, len(g.byUser[userID]))
		for c := range g.byUser[userID] {
			conns = append(conns, c)
		}
		g.mu.RUnlock()

		for _, c := range conns {
			h.deliver(c, data)
		}
		delivered = len(conns) > 0
	}

	if h.bus != nil {
		if err := h.bus.PublishInApp(ctx, events.SubjectInAppNotification, h.instanceID, tenantID, userID, "", json.RawMessage(data)); err != nil {
			h.logger.Warn("ws: publishing notification frame", slog.String("error", err.Error()))
		}
	}

	return delivered, nil
}
