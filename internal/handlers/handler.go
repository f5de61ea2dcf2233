// Package handlers implements the Event Handler Registry (§4.2): one
// Handler per event type, each pure with respect to the event plus tenant
// branding, and the Dispatcher that orchestrates branding lookup, template
// resolution, rendering, and delivery-record enqueueing on the Consumer's
// behalf.
package handlers

import (
	"context"
	"fmt"

	"github.com/amityvox/notifyd/internal/models"
)

// Handler implements the capability set an event type needs to become one
// or more delivery records: can it handle this event type, which channels
// does it fan out to, what template context does it build, and what
// recipient/template resolves for a given channel.
type Handler interface {
	// CanHandle reports whether this handler owns eventType.
	CanHandle(eventType string) bool

	// ChannelsFor returns the static channel fan-out table entry for an
	// event type this handler owns.
	ChannelsFor(eventType string) []models.Channel

	// ContextFor builds the template context map from the event payload,
	// optionally enriched with tenant branding. It is pure: no I/O, no
	// side effects.
	ContextFor(event models.Event, branding models.TenantBranding) (map[string]interface{}, error)

	// ContentFor resolves the template name and recipient address for one
	// channel of this event type, given the context ContextFor produced.
	ContentFor(eventType string, channel models.Channel, context map[string]interface{}) (templateName, recipient string, err error)
}

// DispatchError wraps a dispatch failure with its retry classification so
// the Consumer knows whether to commit the offset or let the log redeliver.
type DispatchError struct {
	Retriable bool
	Err       error
}

func (e *DispatchError) Error() string { return e.Err.Error() }
func (e *DispatchError) Unwrap() error { return e.Err }

func retriableErr(format string, args ...interface{}) error {
	return &DispatchError{Retriable: true, Err: fmt.Errorf(format, args...)}
}

func nonRetriableErr(format string, args ...interface{}) error {
	return &DispatchError{Retriable: false, Err: fmt.Errorf(format, args...)}
}

// Registry maps event type to the handler that owns it, by linear scan over
// a small, statically-registered set built at startup (§9: "the registry is
// an explicit value constructed at init and passed by reference").
type Registry struct {
	handlers []Handler
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a handler to the registry.
func (r *Registry) Register(h Handler) {
	r.handlers = append(r.handlers, h)
}

// Lookup returns the handler owning eventType, if any.
func (r *Registry) Lookup(eventType string) (Handler, bool) {
	for _, h := range r.handlers {
		if h.CanHandle(eventType) {
			return h, true
		}
	}
	return nil, false
}

// BrandingCache is the subset of the Credential & Branding Cache the
// dispatcher needs.
type BrandingCache interface {
	Branding(ctx context.Context, tenantID string) (models.TenantBranding, error)
}

// TemplateStore resolves the active template for a (tenant, name, channel).
type TemplateStore interface {
	Active(ctx context.Context, tenantID, name string, channel models.Channel) (*models.Template, error)
}

// Renderer turns a template plus context into rendered content.
type Renderer interface {
	Render(tmpl *models.Template, context map[string]interface{}, branding models.TenantBranding) (models.RenderedContent, error)
}

// Queue accepts finished delivery records for the worker pool to claim.
type Queue interface {
	Enqueue(ctx context.Context, rec *models.DeliveryRecord) error
}

// Dispatcher orchestrates one event through the full handler pipeline:
// branding lookup, context construction, per-channel template resolution,
// rendering, and delivery-record enqueueing.
type Dispatcher struct {
	registry  *Registry
	branding  BrandingCache
	templates TemplateStore
	renderer  Renderer
	queue     Queue
}

// NewDispatcher constructs a Dispatcher wired to its collaborators.
func NewDispatcher(registry *Registry, branding BrandingCache, templates TemplateStore, renderer Renderer, queue Queue) *Dispatcher {
	return &Dispatcher{registry: registry, branding: branding, templates: templates, renderer: renderer, queue: queue}
}

// Lookup exposes the registry lookup so the Consumer can decide to commit
// an unknown event type without invoking Dispatch at all.
func (d *Dispatcher) Lookup(eventType string) (Handler, bool) {
	return d.registry.Lookup(eventType)
}

// Dispatch runs the full pipeline for one event using the previously looked
// up handler. The returned error, if any, is a *DispatchError indicating
// whether the Consumer should redeliver.
func (d *Dispatcher) Dispatch(ctx context.Context, h Handler, event models.Event) error {
	branding, err := d.branding.Branding(ctx, event.TenantID)
	if err != nil {
		return retriableErr("handlers: branding lookup for tenant %s: %w", event.TenantID, err)
	}

	tctx, err := h.ContextFor(event, branding)
	if err != nil {
		return nonRetriableErr("handlers: building context for %s: %w", event.EventType, err)
	}

	channels := h.ChannelsFor(event.EventType)
	if len(channels) == 0 {
		return nil
	}

	eventID := event.EventID()

	for _, channel := range channels {
		templateName, recipient, err := h.ContentFor(event.EventType, channel, tctx)
		if err != nil {
			return nonRetriableErr("handlers: resolving content for %s/%s: %w", event.EventType, channel, err)
		}
		if recipient == "" {
			continue
		}

		tmpl, err := d.templates.Active(ctx, event.TenantID, templateName, channel)
		if err != nil {
			return retriableErr("handlers: loading template %s/%s/%s: %w", event.TenantID, templateName, channel, err)
		}
		if tmpl == nil {
			// Permanent template miss: the tenant never configured this
			// template, so retrying will not help.
			return nonRetriableErr("handlers: no active template %s/%s/%s", event.TenantID, templateName, channel)
		}

		rendered, err := d.renderer.Render(tmpl, tctx, branding)
		if err != nil {
			return nonRetriableErr("handlers: rendering %s/%s/%s: %w", event.TenantID, templateName, channel, err)
		}

		rec := &models.DeliveryRecord{
			ID:             models.NewID(),
			TenantID:       event.TenantID,
			Channel:        channel,
			Recipient:      recipient,
			Content:        rendered,
			Context:        tctx,
			State:          models.DeliveryPending,
			MaxRetries:     models.DefaultMaxRetries,
			IdempotencyKey: fmt.Sprintf("%s:%s:%s", eventID, channel, recipient),
		}
		if err := d.queue.Enqueue(ctx, rec); err != nil {
			return retriableErr("handlers: enqueueing delivery record: %w", err)
		}
	}

	return nil
}
