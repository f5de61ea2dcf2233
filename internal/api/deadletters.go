package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// listDeadLetters is the read-only window onto the Event Consumer's
// dead-letter table (§4.1): events that failed validation or hit a
// non-retriable handler error and were committed without delivery.
func (s *Server) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	letters, err := s.DeadLetters.List(r.Context(), tenantID, limit)
	if err != nil {
		writeStoreError(w, s.logger(), "listing dead letters", err)
		return
	}
	writeJSON(w, http.StatusOK, letters)
}
