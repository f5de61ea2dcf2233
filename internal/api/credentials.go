package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/amityvox/notifyd/internal/models"
)

// credentialResponse mirrors models.Credential but omits Secrets entirely:
// the admin surface lets an operator see which keys are configured, never
// their values, once they've been written.
type credentialResponse struct {
	ID             models.ID      `json:"id"`
	TenantID       string         `json:"tenant_id"`
	Channel        models.Channel `json:"channel"`
	ConfiguredKeys []string       `json:"configured_keys"`
	Custom         bool           `json:"custom"`
	Active         bool           `json:"active"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func redactCredential(c *models.Credential) credentialResponse {
	keys := make([]string, 0, len(c.Secrets))
	for k := range c.Secrets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return credentialResponse{
		ID:             c.ID,
		TenantID:       c.TenantID,
		Channel:        c.Channel,
		ConfiguredKeys: keys,
		Custom:         c.Custom,
		Active:         c.Active,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func (s *Server) listCredentials(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant")
	creds, err := s.Credentials.List(r.Context(), tenantID)
	if err != nil {
		writeStoreError(w, s.logger(), "listing credentials", err)
		return
	}
	out := make([]credentialResponse, len(creds))
	for i, c := range creds {
		out[i] = redactCredential(c)
	}
	writeJSON(w, http.StatusOK, out)
}

type upsertCredentialRequest struct {
	Channel models.Channel    `json:"channel"`
	Secrets map[string]string `json:"secrets"`
}

func (s *Server) upsertCredential(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant")

	var req upsertCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if !req.Channel.Valid() {
		writeBadRequest(w, "channel must be one of email, sms, push, in_app")
		return
	}
	if len(req.Secrets) == 0 {
		writeBadRequest(w, "secrets must not be empty")
		return
	}

	cred, err := s.Credentials.Upsert(r.Context(), tenantID, req.Channel, req.Secrets)
	if err != nil {
		writeStoreError(w, s.logger(), "upserting credential", err)
		return
	}
	if s.Cache != nil {
		s.Cache.InvalidateCredential(tenantID, req.Channel)
	}
	writeJSON(w, http.StatusOK, redactCredential(cred))
}

type updateCredentialRequest struct {
	Secrets map[string]string `json:"secrets"`
}

func (s *Server) updateCredential(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant")
	id, err := models.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "invalid credential id")
		return
	}

	var req updateCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Secrets) == 0 {
		writeBadRequest(w, "secrets must not be empty")
		return
	}

	cred, err := s.Credentials.Update(r.Context(), id, req.Secrets)
	if err != nil {
		writeStoreError(w, s.logger(), "updating credential", err)
		return
	}
	if s.Cache != nil {
		s.Cache.InvalidateCredential(tenantID, cred.Channel)
	}
	writeJSON(w, http.StatusOK, redactCredential(cred))
}
