package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amityvox/notifyd/internal/models"
)

func TestRegistry_LookupUnknownEventType(t *testing.T) {
	r := DefaultRegistry()
	if _, ok := r.Lookup("totally.unknown.event"); ok {
		t.Fatal("expected no handler for unknown event type")
	}
}

func TestRegistry_LookupKnownEventTypes(t *testing.T) {
	r := DefaultRegistry()
	for _, eventType := range []string{
		"user.registration.completed",
		"auth.2fa.code.requested",
		"invoice.payment.failed",
		"user.document.expiry.warning",
	} {
		if _, ok := r.Lookup(eventType); !ok {
			t.Errorf("expected a handler for %s", eventType)
		}
	}
}

func TestAuthHandler_WelcomeEmail(t *testing.T) {
	h := AuthHandler{}
	event := models.Event{
		EventType: "user.registration.completed",
		TenantID:  "T1",
		Timestamp: time.Now(),
		Payload: map[string]interface{}{
			"user_id":    "U",
			"email":      "a@b.test",
			"first_name": "John",
		},
	}
	branding := models.TenantBranding{Name: "Acme"}

	ctx, err := h.ContextFor(event, branding)
	if err != nil {
		t.Fatalf("ContextFor: %v", err)
	}
	channels := h.ChannelsFor(event.EventType)
	if len(channels) != 1 || channels[0] != models.ChannelEmail {
		t.Fatalf("channels = %v, want [email]", channels)
	}
	_, recipient, err := h.ContentFor(event.EventType, models.ChannelEmail, ctx)
	if err != nil {
		t.Fatalf("ContentFor: %v", err)
	}
	if recipient != "a@b.test" {
		t.Errorf("recipient = %q, want a@b.test", recipient)
	}
}

// fakeBranding, fakeTemplates, fakeRenderer, and fakeQueue let Dispatch be
// exercised end to end without a database or NATS.
type fakeBranding struct{}

func (fakeBranding) Branding(ctx context.Context, tenantID string) (models.TenantBranding, error) {
	return models.TenantBranding{Name: "Acme"}, nil
}

type fakeTemplates struct {
	missing bool
}

func (f fakeTemplates) Active(ctx context.Context, tenantID, name string, channel models.Channel) (*models.Template, error) {
	if f.missing {
		return nil, nil
	}
	return &models.Template{TenantID: tenantID, Name: name, Channel: channel, Body: "hi {first_name}"}, nil
}

type fakeRenderer struct{}

func (fakeRenderer) Render(tmpl *models.Template, context map[string]interface{}, branding models.TenantBranding) (models.RenderedContent, error) {
	return models.RenderedContent{Body: "rendered"}, nil
}

// fakeQueue replicates the real Queue's (tenant_id, idempotency_key) unique
// constraint (`ON CONFLICT ... DO NOTHING`): a second Enqueue for the same
// pair is silently dropped rather than appended, so tests relying on this
// fake catch an idempotency key collision the same way Postgres would.
type fakeQueue struct {
	enqueued []*models.DeliveryRecord
	seen     map[string]bool
}

func (f *fakeQueue) Enqueue(ctx context.Context, rec *models.DeliveryRecord) error {
	if rec.IdempotencyKey != "" {
		key := rec.TenantID + ":" + rec.IdempotencyKey
		if f.seen == nil {
			f.seen = make(map[string]bool)
		}
		if f.seen[key] {
			return nil
		}
		f.seen[key] = true
	}
	f.enqueued = append(f.enqueued, rec)
	return nil
}

func TestDispatcher_EnqueuesOnePerChannel(t *testing.T) {
	registry := DefaultRegistry()
	queue := &fakeQueue{}
	d := NewDispatcher(registry, fakeBranding{}, fakeTemplates{}, fakeRenderer{}, queue)

	h, ok := d.Lookup("task.assigned")
	if !ok {
		t.Fatal("expected handler for task.assigned")
	}

	event := models.Event{
		EventType: "task.assigned",
		TenantID:  "T1",
		Timestamp: time.Now(),
		Payload: map[string]interface{}{
			"user_id":   "U1",
			"task_name": "Ship it",
		},
	}

	if err := d.Dispatch(context.Background(), h, event); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(queue.enqueued) != 2 {
		t.Fatalf("enqueued %d records, want 2 (in_app, push)", len(queue.enqueued))
	}

	keys := make(map[string]bool)
	for _, rec := range queue.enqueued {
		if keys[rec.IdempotencyKey] {
			t.Fatalf("duplicate idempotency key %q across channels: each channel must enqueue under a distinct key or the second Enqueue silently no-ops", rec.IdempotencyKey)
		}
		keys[rec.IdempotencyKey] = true
	}
}

func TestDispatcher_UnknownTemplateIsNonRetriable(t *testing.T) {
	registry := DefaultRegistry()
	queue := &fakeQueue{}
	d := NewDispatcher(registry, fakeBranding{}, fakeTemplates{missing: true}, fakeRenderer{}, queue)

	h, _ := d.Lookup("user.registration.completed")
	event := models.Event{
		EventType: "user.registration.completed",
		TenantID:  "T1",
		Timestamp: time.Now(),
		Payload: map[string]interface{}{
			"user_id": "U1",
			"email":   "a@b.test",
		},
	}

	err := d.Dispatch(context.Background(), h, event)
	if err == nil {
		t.Fatal("expected error for missing template")
	}
	var de *DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DispatchError, got %T", err)
	}
	if de.Retriable {
		t.Error("missing template should be non-retriable")
	}
}
