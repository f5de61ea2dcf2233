package events

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/amityvox/notifyd/internal/handlers"
	"github.com/amityvox/notifyd/internal/models"
)

type fakeDeadLetters struct {
	written []*models.DeadLetter
}

func (f *fakeDeadLetters) Write(ctx context.Context, dl *models.DeadLetter) error {
	f.written = append(f.written, dl)
	return nil
}

type fakeBranding struct{}

func (fakeBranding) Branding(ctx context.Context, tenantID string) (models.TenantBranding, error) {
	return models.TenantBranding{TenantID: tenantID}, nil
}

type fakeTemplates struct {
	tmpl *models.Template
	err  error
}

func (f fakeTemplates) Active(ctx context.Context, tenantID, name string, channel models.Channel) (*models.Template, error) {
	return f.tmpl, f.err
}

type fakeRenderer struct{}

func (fakeRenderer) Render(tmpl *models.Template, context map[string]interface{}, branding models.TenantBranding) (models.RenderedContent, error) {
	return models.RenderedContent{Subject: "hi", Body: "body"}, nil
}

type fakeEnqueueQueue struct {
	enqueued []*models.DeliveryRecord
}

func (f *fakeEnqueueQueue) Enqueue(ctx context.Context, rec *models.DeliveryRecord) error {
	f.enqueued = append(f.enqueued, rec)
	return nil
}

type fakeHandler struct {
	eventType string
	channels  []models.Channel
}

func (h fakeHandler) CanHandle(eventType string) bool { return eventType == h.eventType }
func (h fakeHandler) ChannelsFor(eventType string) []models.Channel { return h.channels }
func (h fakeHandler) ContextFor(event models.Event, branding models.TenantBranding) (map[string]interface{}, error) {
	return map[string]interface{}{"event": event.EventType}, nil
}
func (h fakeHandler) ContentFor(eventType string, channel models.Channel, context map[string]interface{}) (string, string, error) {
	return "welcome", "user@example.com", nil
}

func newTestConsumer(dl DeadLetterWriter, queue *fakeEnqueueQueue, tmplErr error) *Consumer {
	registry := handlers.NewRegistry()
	registry.Register(fakeHandler{eventType: "user.signup", channels: []models.Channel{models.ChannelEmail}})
	dispatcher := handlers.NewDispatcher(registry, fakeBranding{}, fakeTemplates{
		tmpl: &models.Template{Name: "welcome", Channel: models.ChannelEmail},
		err:  tmplErr,
	}, fakeRenderer{}, queue)
	return New(Config{
		Dispatcher:      dispatcher,
		DeadLetters:     dl,
		ConsumerGroup:   "notifyd",
		Topics:          []string{"app-events"},
		HandlerDeadline: time.Second,
	})
}

func TestConsumer_MalformedEventIsDeadLettered(t *testing.T) {
	dl := &fakeDeadLetters{}
	c := newTestConsumer(dl, &fakeEnqueueQueue{}, nil)

	msg := &nats.Msg{Subject: "app-events", Data: []byte("not json")}
	c.handle(context.Background(), "app-events", msg)

	if len(dl.written) != 1 {
		t.Fatalf("want 1 dead letter, got %d", len(dl.written))
	}
	if dl.written[0].TenantID != "" {
		t.Errorf("malformed event should carry no tenant id, got %q", dl.written[0].TenantID)
	}
}

func TestConsumer_InvalidEventIsDeadLetteredWithTenant(t *testing.T) {
	dl := &fakeDeadLetters{}
	c := newTestConsumer(dl, &fakeEnqueueQueue{}, nil)

	body := `{"event_type":"user.signup","tenant_id":"tenant-1"}`
	msg := &nats.Msg{Subject: "app-events", Data: []byte(body)}
	c.handle(context.Background(), "app-events", msg)

	if len(dl.written) != 1 {
		t.Fatalf("want 1 dead letter, got %d", len(dl.written))
	}
	if dl.written[0].TenantID != "tenant-1" {
		t.Errorf("got tenant %q, want tenant-1", dl.written[0].TenantID)
	}
	if dl.written[0].Reason == "" {
		t.Error("expected a validation reason")
	}
}

func TestConsumer_UnknownEventTypeIsAckedWithoutDispatch(t *testing.T) {
	dl := &fakeDeadLetters{}
	queue := &fakeEnqueueQueue{}
	c := newTestConsumer(dl, queue, nil)

	body := `{"event_type":"unrelated.thing","tenant_id":"tenant-1","timestamp":"2026-01-01T00:00:00Z"}`
	msg := &nats.Msg{Subject: "app-events", Data: []byte(body)}
	c.handle(context.Background(), "app-events", msg)

	if len(dl.written) != 0 {
		t.Errorf("unknown event type should not be dead-lettered, got %d", len(dl.written))
	}
	if len(queue.enqueued) != 0 {
		t.Errorf("unknown event type should not enqueue anything")
	}
}

func TestConsumer_KnownEventDispatchesAndEnqueues(t *testing.T) {
	dl := &fakeDeadLetters{}
	queue := &fakeEnqueueQueue{}
	c := newTestConsumer(dl, queue, nil)

	body := `{"event_type":"user.signup","tenant_id":"tenant-1","timestamp":"2026-01-01T00:00:00Z"}`
	msg := &nats.Msg{Subject: "app-events", Data: []byte(body)}
	c.handle(context.Background(), "app-events", msg)

	if len(dl.written) != 0 {
		t.Fatalf("successful dispatch should not dead-letter, got %d", len(dl.written))
	}
	if len(queue.enqueued) != 1 {
		t.Fatalf("want 1 enqueued record, got %d", len(queue.enqueued))
	}
	if queue.enqueued[0].Recipient != "user@example.com" {
		t.Errorf("got recipient %q", queue.enqueued[0].Recipient)
	}
}

func TestConsumer_MissingTemplateIsDeadLettered(t *testing.T) {
	dl := &fakeDeadLetters{}
	queue := &fakeEnqueueQueue{}
	// No active template row: handlers.Dispatch classifies this as
	// non-retriable, since retrying won't make a template appear.
	registry := handlers.NewRegistry()
	registry.Register(fakeHandler{eventType: "user.signup", channels: []models.Channel{models.ChannelEmail}})
	dispatcher := handlers.NewDispatcher(registry, fakeBranding{}, fakeTemplates{}, fakeRenderer{}, queue)
	c := New(Config{
		Dispatcher:      dispatcher,
		DeadLetters:     dl,
		ConsumerGroup:   "notifyd",
		Topics:          []string{"app-events"},
		HandlerDeadline: time.Second,
	})

	body := `{"event_type":"user.signup","tenant_id":"tenant-1","timestamp":"2026-01-01T00:00:00Z"}`
	msg := &nats.Msg{Subject: "app-events", Data: []byte(body)}
	c.handle(context.Background(), "app-events", msg)

	if len(dl.written) != 1 {
		t.Fatalf("want 1 dead letter for missing template, got %d", len(dl.written))
	}
	if len(queue.enqueued) != 0 {
		t.Errorf("missing template should not enqueue anything")
	}
}
