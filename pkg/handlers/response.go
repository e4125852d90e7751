// Package handlers exposes the HTTP API. Every endpoint responds with the
// ApiResponse envelope; error codes come from apperrors classification.
package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/apperrors"
)

// ApiResponse wraps data in the envelope expected by API clients.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteData writes a successful envelope around data.
func WriteData(w http.ResponseWriter, logger *zap.Logger, statusCode int, data any) {
	if err := WriteJSON(w, statusCode, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

// ErrorResponse writes a JSON error envelope with an explicit code and message.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(ApiResponse{
		Success: false,
		Error:   errorCode,
		Message: message,
	})
}

// WriteError classifies a service error and writes the matching envelope.
// Internal errors are logged with their cause but surfaced opaquely.
func WriteError(w http.ResponseWriter, logger *zap.Logger, err error) {
	kind := apperrors.KindOf(err)
	status := apperrors.HTTPStatus(kind)

	message := err.Error()
	if kind == apperrors.KindInternal {
		logger.Error("Request failed", zap.Error(err))
		message = "Internal error"
	}

	if werr := ErrorResponse(w, status, string(kind), message); werr != nil {
		logger.Error("Failed to write error response", zap.Error(werr))
	}
}
