package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/amityvox/notifyd/internal/handlers"
	"github.com/amityvox/notifyd/internal/models"
)

// DeadLetterWriter persists events the Consumer could not decode or
// validate, and events whose dispatch failed with a non-retriable error.
// Retriable dispatch failures are Nak'd for redelivery, not dead-lettered.
type DeadLetterWriter interface {
	Write(ctx context.Context, dl *models.DeadLetter) error
}

// Consumer reads the external event log (§4.1) — auth-events, app-events,
// security-events — via durable JetStream pull consumers, one per
// configured topic, all sharing one consumer group name so horizontally
// scaled instances split the work.
type Consumer struct {
	js              nats.JetStreamContext
	dispatcher      *handlers.Dispatcher
	deadLetters     DeadLetterWriter
	consumerGroup   string
	topics          []string
	handlerDeadline time.Duration
	logger          *slog.Logger

	subs []*nats.Subscription
}

// Config configures a Consumer.
type Config struct {
	JetStream       nats.JetStreamContext
	Dispatcher      *handlers.Dispatcher
	DeadLetters     DeadLetterWriter
	ConsumerGroup   string
	Topics          []string
	HandlerDeadline time.Duration
	Logger          *slog.Logger
}

// New constructs a Consumer.
func New(cfg Config) *Consumer {
	deadline := cfg.HandlerDeadline
	if deadline <= 0 {
		deadline = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		js:              cfg.JetStream,
		dispatcher:      cfg.Dispatcher,
		deadLetters:     cfg.DeadLetters,
		consumerGroup:   cfg.ConsumerGroup,
		topics:          cfg.Topics,
		handlerDeadline: deadline,
		logger:          logger,
	}
}

// Start subscribes to every configured topic with a durable pull consumer
// bound to the consumer group name, processing messages as they arrive.
func (c *Consumer) Start(ctx context.Context) error {
	for _, topic := range c.topics {
		sub, err := c.js.PullSubscribe(topic, c.consumerGroup, nats.ManualAck(), nats.AckWait(c.handlerDeadline+5*time.Second))
		if err != nil {
			return fmt.Errorf("events: subscribing to %s: %w", topic, err)
		}
		c.subs = append(c.subs, sub)
		go c.pump(ctx, topic, sub)
	}
	return nil
}

func (c *Consumer) pump(ctx context.Context, topic string, sub *nats.Subscription) {
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := sub.Fetch(10, nats.MaxWait(2*time.Second))
		if err != nil {
			if err != nats.ErrTimeout && ctx.Err() == nil {
				c.logger.Warn("events: fetch failed", slog.String("topic", topic), slog.String("error", err.Error()))
			}
			continue
		}
		for _, msg := range msgs {
			c.handle(ctx, topic, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, topic string, msg *nats.Msg) {
	event, err := models.DecodeEvent(msg.Data)
	if err != nil {
		c.deadLetter(ctx, topic, nil, "", "malformed event: "+err.Error(), msg.Data)
		msg.Ack()
		return
	}
	if err := event.Validate(); err != nil {
		c.deadLetter(ctx, topic, &event, event.EventType, "validation failed: "+err.Error(), msg.Data)
		msg.Ack()
		return
	}

	handler, ok := c.dispatcher.Lookup(event.EventType)
	if !ok {
		// No handler owns this event type: acknowledge and move on, it is
		// not an error for the log to carry event types this service
		// doesn't render notifications for.
		msg.Ack()
		return
	}

	hctx, cancel := context.WithTimeout(ctx, c.handlerDeadline)
	defer cancel()

	if err := c.dispatcher.Dispatch(hctx, handler, event); err != nil {
		var de *handlers.DispatchError
		retriable := true
		if errors.As(err, &de) {
			retriable = de.Retriable
		}
		if retriable {
			c.logger.Warn("events: dispatch failed, redelivering",
				slog.String("event_type", event.EventType), slog.String("tenant_id", event.TenantID), slog.String("error", err.Error()))
			msg.Nak()
			return
		}
		c.deadLetter(ctx, topic, &event, event.EventType, err.Error(), msg.Data)
		msg.Ack()
		return
	}

	msg.Ack()
}

func (c *Consumer) deadLetter(ctx context.Context, topic string, event *models.Event, eventType, reason string, raw []byte) {
	dl := &models.DeadLetter{
		ID:        models.NewID(),
		Topic:     topic,
		EventType: eventType,
		Reason:    reason,
		RawEvent:  raw,
		CreatedAt: time.Now().UTC(),
	}
	if event != nil {
		dl.TenantID = event.TenantID
	}
	c.logger.Error("events: dead-lettering event", slog.String("topic", topic), slog.String("reason", reason))
	if err := c.deadLetters.Write(ctx, dl); err != nil {
		c.logger.Error("events: writing dead letter failed", slog.String("error", err.Error()))
	}
}

// Stop unsubscribes from every topic.
func (c *Consumer) Stop() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
}
