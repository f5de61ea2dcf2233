package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type registerDeviceRequest struct {
	UserID   string `json:"user_id"`
	Platform string `json:"platform"`
	Token    string `json:"token"`
}

func (s *Server) registerDevice(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant")

	var req registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.Platform == "" || req.Token == "" {
		writeBadRequest(w, "user_id, platform and token are required")
		return
	}

	dt, err := s.Devices.Register(r.Context(), tenantID, req.UserID, req.Platform, req.Token)
	if err != nil {
		writeStoreError(w, s.logger(), "registering device", err)
		return
	}
	writeJSON(w, http.StatusCreated, dt)
}
