package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter wires every endpoint. gatherer backs /metrics.
func (h *Handler) SetupRouter(gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()

	r.Use(CORS)

	// Public
	r.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/token/login", h.HandleLogin).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/token/refresh", h.HandleRefresh).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/register", h.HandleRegister).Methods(http.MethodPost, http.MethodOptions)
	v1.HandleFunc("/ws", h.HandleStream).Methods(http.MethodGet)

	// Protected
	api := v1.NewRoute().Subrouter()
	api.Use(h.Authenticate)

	api.HandleFunc("/profiles", h.HandleListProfiles).Methods(http.MethodGet)
	api.HandleFunc("/profiles", h.HandleUpsertProfile).Methods(http.MethodPost)
	api.HandleFunc("/profiles/{id}", h.HandleDeleteProfile).Methods(http.MethodDelete)

	api.HandleFunc("/exchange/activate", h.HandleActivate).Methods(http.MethodPost)
	api.HandleFunc("/ownership", h.HandleOwnership).Methods(http.MethodGet)
	api.HandleFunc("/balance", h.HandleBalance).Methods(http.MethodGet)

	api.HandleFunc("/mirror/history", h.HandleMirrorHistory).Methods(http.MethodGet)

	// Admin
	admin := api.NewRoute().Subrouter()
	admin.Use(h.RequireAdmin)
	admin.HandleFunc("/mirror/entry", h.HandleMirrorEntry).Methods(http.MethodPost)
	admin.HandleFunc("/mirror/exit", h.HandleMirrorExit).Methods(http.MethodPost)

	return r
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.respondSuccess(w, "OK", map[string]string{
		"status": "healthy",
	})
}
