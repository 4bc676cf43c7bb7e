package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

func respondJSON(w http.ResponseWriter, logger *slog.Logger, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("Failed to write response", "error", err)
	}
}

func jsonError(w http.ResponseWriter, logger *slog.Logger, statusCode int, message, details string) {
	logger.Warn("API error response", "status_code", statusCode, "message", message, "details", details)
	respondJSON(w, logger, statusCode, GenericErrorResponse{Error: message, Details: details})
}

// decodeOptionalJSON decodes r's body into dst; an empty body leaves dst untouched.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == io.EOF {
		return nil
	}
	return err
}
