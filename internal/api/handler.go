// Package api is the HTTP and WebSocket control plane.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"spotmirror/internal/apperr"
	"spotmirror/internal/auth"
	"spotmirror/internal/exchange"
	"spotmirror/internal/mirror"
	"spotmirror/internal/ownership"
	"spotmirror/internal/profiles"
	"spotmirror/internal/storage"

	"github.com/go-playground/validator/v10"
)

// Services the handler dispatches to.
type Services struct {
	Auth      *auth.Service
	Profiles  *profiles.Store
	Config    *storage.ConfigStore
	Guard     *ownership.Guard
	Activator *ownership.Activator
	// Exchange builds the connector used for balance queries on the active credential.
	Exchange    exchange.Factory
	Coordinator *mirror.Coordinator
	Journal     *storage.Journal
	Hub         *Hub
}

// Handler serves the control-plane endpoints.
type Handler struct {
	svc      Services
	validate *validator.Validate
	logger   *slog.Logger
}

func New(svc Services, logger *slog.Logger) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
		logger:   logger,
	}
}

// === Responses ===

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Debug("Failed to write response", slog.Any("error", err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, statusCode int, message string) {
	h.respondJSON(w, statusCode, ErrorResponse{Error: message})
}

func (h *Handler) respondSuccess(w http.ResponseWriter, message string, data any) {
	h.respondJSON(w, http.StatusOK, SuccessResponse{
		Message: message,
		Data:    data,
	})
}

// respondErr maps err onto its HTTP status. Server-side failures are logged.
func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}

	h.respondError(w, status, err.Error())
}

// decode reads a JSON body into v and validates it.
func (h *Handler) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", apperr.ErrInvalid)
	}

	if err := h.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}

	return nil
}
