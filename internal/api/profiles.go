package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"spotmirror/internal/apperr"
	"spotmirror/internal/models"

	"github.com/gorilla/mux"
)

// HandleListProfiles returns the caller's profiles.
func (h *Handler) HandleListProfiles(w http.ResponseWriter, r *http.Request) {
	acc, _ := AccountFrom(r.Context())

	list, err := h.svc.Profiles.List(acc.Username)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respondSuccess(w, "", list)
}

// HandleUpsertProfile creates or replaces one of the caller's profiles.
func (h *Handler) HandleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	acc, _ := AccountFrom(r.Context())

	var p models.CredentialProfile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		h.respondErr(w, r, fmt.Errorf("invalid request body: %w", apperr.ErrInvalid))
		return
	}

	saved, err := h.svc.Profiles.Upsert(r.Context(), p, acc.Username)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respondSuccess(w, "Profile saved", saved)
}

// HandleDeleteProfile removes one of the caller's profiles.
func (h *Handler) HandleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	acc, _ := AccountFrom(r.Context())
	id := mux.Vars(r)["id"]

	if err := h.svc.Profiles.Delete(r.Context(), id, acc.Username); err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respondSuccess(w, "Profile deleted", nil)
}
