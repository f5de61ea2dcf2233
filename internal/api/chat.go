package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/amityvox/notifyd/internal/models"
)

// createConversationRequest is the only chat REST endpoint: the rest of the
// chat data model (messages, reactions, presence) is exercised over the
// WebSocket Hub, not REST, per §6.
type createConversationRequest struct {
	Type      models.ConversationType `json:"type"`
	MemberIDs []string                `json:"member_ids"`
}

func (s *Server) createConversation(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant")

	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	switch req.Type {
	case models.ConversationDirect, models.ConversationGroup, models.ConversationChannel:
	default:
		writeBadRequest(w, "type must be one of direct, group, channel")
		return
	}
	if len(req.MemberIDs) == 0 {
		writeBadRequest(w, "member_ids must not be empty")
		return
	}

	conv, err := s.Chat.CreateConversation(r.Context(), tenantID, req.Type, req.MemberIDs)
	if err != nil {
		writeStoreError(w, s.logger(), "creating conversation", err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}
