package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// writeError matches the {"error": {"code", "message"}} envelope
// auth/middleware.go already writes for 401s, so clients see one shape
// regardless of which layer rejected the request.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, "bad_request", message)
}

// writeStoreError classifies a store error into the right HTTP status: a
// missing row is a 404, anything else is a 500.
func writeStoreError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
		return
	}
	logger.Error("api: "+op, slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
