package api

import (
	"context"
	"net/http"
	"strconv"

	"spotmirror/internal/models"
)

// HandleMirrorHistory returns recent mirror runs restricted to the caller's own followers.
func (h *Handler) HandleMirrorHistory(w http.ResponseWriter, r *http.Request) {
	acc, _ := AccountFrom(r.Context())

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	runs, err := h.svc.Journal.History(r.Context(), acc.Username, limit)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}

	h.respondSuccess(w, "", runs)
}

// HandleMirrorEntry fans a master entry out to the followers and returns the per-follower outcome.
func (h *Handler) HandleMirrorEntry(w http.ResponseWriter, r *http.Request) {
	var ev models.EntryEvent
	if err := h.decode(r, &ev); err != nil {
		h.respondErr(w, r, err)
		return
	}

	// a dropped client must not abort orders already in flight
	result := h.svc.Coordinator.MirrorEntry(context.WithoutCancel(r.Context()), ev)

	h.respondSuccess(w, result.Status(), result)
}

// HandleMirrorExit closes the followers' positions for a master exit.
func (h *Handler) HandleMirrorExit(w http.ResponseWriter, r *http.Request) {
	var ev models.ExitEvent
	if err := h.decode(r, &ev); err != nil {
		h.respondErr(w, r, err)
		return
	}

	result := h.svc.Coordinator.MirrorExit(context.WithoutCancel(r.Context()), ev)

	h.respondSuccess(w, result.Status(), result)
}
