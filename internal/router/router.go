package router

import (
	"net/http"

	"github.com/openarquivo/fichas-api/internal/handlers"
	"github.com/openarquivo/fichas-api/internal/middleware"
	"github.com/openarquivo/fichas-api/internal/services"
	"github.com/openarquivo/fichas-api/internal/utils"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(
	templateService services.TemplateService,
	fichaService services.FichaService,
	registry *prometheus.Registry,
	maxFileSize int64,
	logger *utils.Logger,
) http.Handler {
	r := mux.NewRouter()

	// Middlewares
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS())
	r.Use(middleware.Recovery(logger))

	templateHandler := handlers.NewTemplateHandler(templateService, maxFileSize, logger)
	fichaHandler := handlers.NewFichaHandler(fichaService, maxFileSize, logger)

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	// Health check
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	// Template endpoints
	api.HandleFunc("/templates/extract", templateHandler.ExtractDraft).Methods(http.MethodPost)
	api.HandleFunc("/templates/publish", templateHandler.Publish).Methods(http.MethodPost)
	api.HandleFunc("/templates/{name}/versions/{version}", templateHandler.GetVersion).Methods(http.MethodGet)
	api.HandleFunc("/templates/{name}", templateHandler.GetLatest).Methods(http.MethodGet)

	// Ficha endpoints
	api.HandleFunc("/fichas", fichaHandler.Create).Methods(http.MethodPost)
	api.HandleFunc("/fichas", fichaHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/fichas/{id}", fichaHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/fichas/{id}", fichaHandler.Update).Methods(http.MethodPatch)
	api.HandleFunc("/fichas/{id}/transition", fichaHandler.Transition).Methods(http.MethodPost)
	api.HandleFunc("/fichas/{id}/attachments", fichaHandler.Upload).Methods(http.MethodPost)
	api.HandleFunc("/fichas/{id}/attachments", fichaHandler.ListAttachments).Methods(http.MethodGet)
	api.HandleFunc("/fichas/{id}/audit", fichaHandler.AuditTrail).Methods(http.MethodGet)

	return r
}
