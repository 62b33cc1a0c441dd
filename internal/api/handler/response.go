package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hszk-dev/hlsforge/internal/api/middleware"
)

func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("failed to encode response", slog.Any("error", err))
	}
}

// ErrorResponse is the body of every non-2xx API response.
// Code is a stable snake_case identifier clients switch on.
type ErrorResponse struct {
	Code      string `json:"error"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func Error(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	JSON(w, status, ErrorResponse{
		Code:      code,
		Message:   message,
		RequestID: middleware.GetRequestID(r.Context()),
	})
}
