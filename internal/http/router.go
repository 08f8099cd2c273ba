package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// NewRouter wires handler routes, middleware and the metrics endpoint.
// requestTimeout <= 0 disables the per-request deadline.
func NewRouter(h *Handler, metrics http.Handler, requestTimeout time.Duration, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	if metrics != nil {
		router.Handle("/metrics", metrics).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api").Subrouter()
	cacheRoutes := router.PathPrefix("/cache").Subrouter()
	if requestTimeout > 0 {
		api.Use(TimeoutMiddleware(requestTimeout))
		cacheRoutes.Use(TimeoutMiddleware(requestTimeout))
	}
	api.HandleFunc("/temperature-ranking", h.GetTemperatureRanking).Methods(http.MethodGet)
	api.HandleFunc("/description", h.GetDescription).Methods(http.MethodGet)
	cacheRoutes.HandleFunc("/{key}", h.GetCache).Methods(http.MethodGet)
	cacheRoutes.HandleFunc("/{key}", h.PostCache).Methods(http.MethodPost)
	return router
}
