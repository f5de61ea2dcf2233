// Package events wraps NATS for two purposes: the Event Consumer reads the
// external event log (§4.1) via durable JetStream consumers, and the
// internal Bus republishes in-app notifications and chat traffic so every
// server instance's WebSocket Hub can broadcast to its own connections
// regardless of which instance processed the originating delivery record.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Internal subjects used for cross-instance WebSocket fan-out. These are
// distinct from the external event-log topics the Consumer reads.
const (
	SubjectInAppNotification = "notifyd.inapp.notification"
	SubjectInAppChat         = "notifyd.inapp.chat"

	StreamNotifyd = "NOTIFYD_INTERNAL"
)

// InternalFrame is the envelope republished on the internal Bus so every
// instance's Hub can fan it out to its own connections.
type InternalFrame struct {
	OriginID       string          `json:"origin_id"`
	TenantID       string          `json:"tenant_id"`
	UserID         string          `json:"user_id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Data           json.RawMessage `json:"data"`
}

// Bus wraps a NATS connection used for internal cross-instance fan-out.
type Bus struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *slog.Logger
}

// NewBus connects to NATS at the given URL.
func NewBus(natsURL string, logger *slog.Logger) (*Bus, error) {
	opts := []nats.Option{
		nats.Name("notifyd"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("NATS error", slog.String("error", err.Error()))
		}),
	}

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", natsURL, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("initializing JetStream: %w", err)
	}

	logger.Info("NATS connection established", slog.String("url", nc.ConnectedUrl()))

	return &Bus{conn: nc, js: js, logger: logger}, nil
}

// EnsureStreams creates the JetStream streams this service owns.
func (b *Bus) EnsureStreams() error {
	cfg := nats.StreamConfig{
		Name:      StreamNotifyd,
		Subjects:  []string{"notifyd.inapp.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    1 * time.Hour,
		Storage:   nats.FileStorage,
		Replicas:  1,
	}

	info, err := b.js.StreamInfo(cfg.Name)
	if err != nil && err != nats.ErrStreamNotFound {
		return fmt.Errorf("checking stream %s: %w", cfg.Name, err)
	}
	if info == nil {
		if _, err := b.js.AddStream(&cfg); err != nil {
			return fmt.Errorf("creating stream %s: %w", cfg.Name, err)
		}
		b.logger.Info("JetStream stream created", slog.String("stream", cfg.Name))
	}
	return nil
}

// PublishInApp republishes a broadcast frame for every instance's Hub to
// forward to its locally connected clients. userID scopes delivery to one
// user's connections (notifications); leave it empty to fan out to every
// connection in the tenant or conversation (chat). originID identifies the
// publishing Hub so it can ignore its own echo, having already delivered
// the frame to its local connections directly.
func (b *Bus) PublishInApp(_ context.Context, subject, originID, tenantID, userID, conversationID string, frame interface{}) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshaling in-app frame: %w", err)
	}
	env := InternalFrame{OriginID: originID, TenantID: tenantID, UserID: userID, ConversationID: conversationID, Data: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// Subscribe subscribes to an internal subject, decoding each message into an
// InternalFrame.
func (b *Bus) Subscribe(subject string, handler func(InternalFrame)) (*nats.Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var frame InternalFrame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			b.logger.Error("failed to unmarshal internal frame",
				slog.String("subject", subject), slog.String("error", err.Error()))
			return
		}
		handler(frame)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	return sub, nil
}

// Conn returns the underlying NATS connection.
func (b *Bus) Conn() *nats.Conn { return b.conn }

// JetStream returns the JetStream context.
func (b *Bus) JetStream() nats.JetStreamContext { return b.js }

// HealthCheck verifies the NATS connection is alive.
func (b *Bus) HealthCheck() error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS connection is not active (status: %s)", b.conn.Status())
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (b *Bus) Close() {
	b.logger.Info("closing NATS connection")
	b.conn.Drain()
}
