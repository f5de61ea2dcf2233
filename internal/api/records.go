package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/amityvox/notifyd/internal/models"
)

// createRecordRequest is a direct send: it bypasses the Event Consumer and
// Handler Registry entirely, rendering and enqueueing a single delivery
// record against an already-named template, per §6.
type createRecordRequest struct {
	TemplateName   string                 `json:"template_name"`
	Channel        models.Channel         `json:"channel"`
	Recipient      string                 `json:"recipient"`
	Context        map[string]interface{} `json:"context"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
	MaxRetries     int                    `json:"max_retries,omitempty"`
}

func (s *Server) createRecord(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant")

	var req createRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.TemplateName == "" || req.Recipient == "" {
		writeBadRequest(w, "template_name and recipient are required")
		return
	}
	if !req.Channel.Valid() {
		writeBadRequest(w, "channel must be one of email, sms, push, in_app")
		return
	}

	ctx := r.Context()

	tmpl, err := s.Templates.Active(ctx, tenantID, req.TemplateName, req.Channel)
	if err != nil {
		writeStoreError(w, s.logger(), "resolving template", err)
		return
	}
	if tmpl == nil {
		writeError(w, http.StatusNotFound, "template_not_found", "no active template for that name and channel")
		return
	}

	branding, err := s.Branding.Branding(ctx, tenantID)
	if err != nil {
		writeStoreError(w, s.logger(), "resolving branding", err)
		return
	}

	content, err := s.Renderer.Render(tmpl, req.Context, branding)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "render_error", err.Error())
		return
	}

	rec := &models.DeliveryRecord{
		ID:             models.NewID(),
		TenantID:       tenantID,
		Channel:        req.Channel,
		Recipient:      req.Recipient,
		Content:        content,
		Context:        req.Context,
		State:          models.DeliveryPending,
		MaxRetries:     req.MaxRetries,
		IdempotencyKey: req.IdempotencyKey,
	}
	if err := s.Queue.Enqueue(ctx, rec); err != nil {
		writeStoreError(w, s.logger(), "enqueueing record", err)
		return
	}

	writeJSON(w, http.StatusAccepted, rec)
}
