package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/amityvox/notifyd/internal/models"
)

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant")
	tmpls, err := s.Templates.List(r.Context(), tenantID)
	if err != nil {
		writeStoreError(w, s.logger(), "listing templates", err)
		return
	}
	writeJSON(w, http.StatusOK, tmpls)
}

type createTemplateRequest struct {
	Name         string                 `json:"name"`
	Channel      models.Channel         `json:"channel"`
	Subject      string                 `json:"subject"`
	Body         string                 `json:"body"`
	Data         map[string]interface{} `json:"data"`
	Placeholders []string               `json:"placeholders"`
}

func (s *Server) createTemplate(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant")

	var req createTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" || req.Body == "" {
		writeBadRequest(w, "name and body are required")
		return
	}
	if !req.Channel.Valid() {
		writeBadRequest(w, "channel must be one of email, sms, push, in_app")
		return
	}

	tmpl := &models.Template{
		TenantID:     tenantID,
		Name:         req.Name,
		Channel:      req.Channel,
		Subject:      req.Subject,
		Body:         req.Body,
		Data:         req.Data,
		Placeholders: req.Placeholders,
	}
	created, err := s.Templates.Create(r.Context(), tmpl)
	if err != nil {
		writeStoreError(w, s.logger(), "creating template", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type updateTemplateRequest struct {
	Subject      string                 `json:"subject"`
	Body         string                 `json:"body"`
	Data         map[string]interface{} `json:"data"`
	Placeholders []string               `json:"placeholders"`
}

func (s *Server) updateTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "invalid template id")
		return
	}

	var req updateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Body == "" {
		writeBadRequest(w, "body is required")
		return
	}

	tmpl, err := s.Templates.Update(r.Context(), id, req.Subject, req.Body, req.Data, req.Placeholders)
	if err != nil {
		writeStoreError(w, s.logger(), "updating template", err)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func (s *Server) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "invalid template id")
		return
	}
	if err := s.Templates.Delete(r.Context(), id); err != nil {
		writeStoreError(w, s.logger(), "deleting template", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
