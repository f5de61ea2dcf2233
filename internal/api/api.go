// Package api implements the Admin REST surface (§6): thin chi handlers
// that exercise the same service methods the Consumer and Worker Pool use,
// scoped per request to the tenant named in the URL and authenticated the
// same way the WebSocket Hub authenticates its upgrade requests.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/amityvox/notifyd/internal/auth"
	"github.com/amityvox/notifyd/internal/models"
)

// CredentialStore is the subset of cache.PostgresCredentialStore the admin
// surface needs for credential CRUD.
type CredentialStore interface {
	List(ctx context.Context, tenantID string) ([]*models.Credential, error)
	Upsert(ctx context.Context, tenantID string, channel models.Channel, secrets map[string]string) (*models.Credential, error)
	Update(ctx context.Context, id models.ID, secrets map[string]string) (*models.Credential, error)
}

// CredentialInvalidator is satisfied by *cache.Cache: after a credential
// write, the read-through cache entry for (tenant, channel) must be
// invalidated or the old secrets keep serving until the positive TTL
// expires.
type CredentialInvalidator interface {
	InvalidateCredential(tenantID string, channel models.Channel)
}

// TemplateStore is the subset of cache.PostgresTemplateStore the admin
// surface needs for template CRUD.
type TemplateStore interface {
	List(ctx context.Context, tenantID string) ([]*models.Template, error)
	Active(ctx context.Context, tenantID, name string, channel models.Channel) (*models.Template, error)
	Create(ctx context.Context, tmpl *models.Template) (*models.Template, error)
	Update(ctx context.Context, id models.ID, subject, body string, data map[string]interface{}, placeholders []string) (*models.Template, error)
	Delete(ctx context.Context, id models.ID) error
}

// BrandingResolver is satisfied by *cache.Cache.
type BrandingResolver interface {
	Branding(ctx context.Context, tenantID string) (models.TenantBranding, error)
}

// Renderer is satisfied by *render.Renderer.
type Renderer interface {
	Render(tmpl *models.Template, context map[string]interface{}, branding models.TenantBranding) (models.RenderedContent, error)
}

// Queue is satisfied by *delivery.Queue.
type Queue interface {
	Enqueue(ctx context.Context, rec *models.DeliveryRecord) error
}

// DeviceStore is satisfied by *devices.Store.
type DeviceStore interface {
	Register(ctx context.Context, tenantID, userID, platform, token string) (*models.DeviceToken, error)
}

// ConversationStore is the subset of chat.Store the admin surface needs to
// create a conversation; messaging itself happens over the WebSocket Hub,
// not REST.
type ConversationStore interface {
	CreateConversation(ctx context.Context, tenantID string, typ models.ConversationType, memberIDs []string) (*models.ChatConversation, error)
}

// DeadLetterStore is satisfied by *events.PostgresDeadLetterStore.
type DeadLetterStore interface {
	List(ctx context.Context, tenantID string, limit int) ([]*models.DeadLetter, error)
}

// Server holds the dependencies the admin REST surface dispatches to.
type Server struct {
	Auth *auth.Service

	Credentials CredentialStore
	Cache       CredentialInvalidator
	Templates   TemplateStore
	Branding    BrandingResolver
	Renderer    Renderer
	Queue       Queue
	Devices     DeviceStore
	Chat        ConversationStore
	DeadLetters DeadLetterStore

	Logger *slog.Logger
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// NewRouter builds the admin REST surface, mounted under
// /tenants/{tenant}/... per the path-scoping convention the WebSocket
// upgrade handlers already use.
func (s *Server) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/tenants/{tenant}", func(r chi.Router) {
		r.Use(auth.RequireTenantAuth(s.Auth))

		r.Get("/credentials", s.listCredentials)
		r.Post("/credentials", s.upsertCredential)
		r.Put("/credentials/{id}", s.updateCredential)

		r.Get("/templates", s.listTemplates)
		r.Post("/templates", s.createTemplate)
		r.Put("/templates/{id}", s.updateTemplate)
		r.Delete("/templates/{id}", s.deleteTemplate)

		r.Post("/records", s.createRecord)

		r.Post("/devices", s.registerDevice)

		r.Post("/conversations", s.createConversation)

		r.Get("/dead-letters", s.listDeadLetters)
	})

	return r
}
