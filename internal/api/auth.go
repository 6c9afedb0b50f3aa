package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"spotmirror/internal/apperr"
	"spotmirror/internal/auth"
)

const minPasswordLength = 6

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Username     string `json:"username"`
	IsAdmin      bool   `json:"is_admin"`
}

type RefreshResponse struct {
	AccessToken string `json:"access_token"`
}

type RegisterRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required"`
}

// HandleLogin issues an access and refresh token pair for basic auth or a JSON body.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if username, password, ok := r.BasicAuth(); ok {
		req = LoginRequest{Username: username, Password: password}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		h.respondError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	acc, err := h.svc.Auth.Authenticate(req.Username, req.Password)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	pair, err := h.svc.Auth.IssuePair(acc.Username)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respondSuccess(w, "Login successful", LoginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Username:     acc.Username,
		IsAdmin:      acc.IsAdmin(),
	})
}

// HandleRefresh trades a refresh token for a new access token.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		h.respondErr(w, r, fmt.Errorf("refresh token required: %w", apperr.ErrUnauthorized))
		return
	}

	access, err := h.svc.Auth.Refresh(token)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respondSuccess(w, "", RefreshResponse{AccessToken: access})
}

// HandleRegister creates a tenant with no profiles.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := h.decode(r, &req); err != nil {
		h.respondErr(w, r, err)
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if len(req.Password) < minPasswordLength {
		h.respondError(w, http.StatusBadRequest, fmt.Sprintf("Password must be at least %d characters", minPasswordLength))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	if err := h.svc.Profiles.Register(r.Context(), req.Username, hash); err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.logger.Info("👤 Tenant registered", "username", req.Username)

	h.respondJSON(w, http.StatusCreated, SuccessResponse{
		Message: "Registration successful",
		Data:    map[string]string{"username": req.Username},
	})
}
