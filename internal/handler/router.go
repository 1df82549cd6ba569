package handler

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/segyhp/settlement-engine/pkg/auth"
	"github.com/segyhp/settlement-engine/pkg/response"
)

const APIPrefix = "/api/v1"

// Routes groups the handlers a node serves. Oracle is nil on nodes that are not oracles.
type Routes struct {
	Health      *HealthHandler
	Obligations *ObligationHandler
	Oracle      *OracleHandler
}

// NewRouter mounts the API behind bearer authentication. Health endpoints stay public.
func NewRouter(routes Routes, jwtSecret string, logger *slog.Logger) *mux.Router {
	response.SetLogger(logger)
	r := mux.NewRouter()
	r.Use(response.LoggingMiddleware(logger))
	r.Use(response.JSONMiddleware)
	r.Use(auth.Middleware(jwtSecret, "/health", "/health/ready"))

	if routes.Health != nil {
		r.HandleFunc("/health", routes.Health.Health).Methods(http.MethodGet)
		r.HandleFunc("/health/ready", routes.Health.Ready).Methods(http.MethodGet)
	}

	api := r.PathPrefix(APIPrefix).Subrouter()
	if routes.Obligations != nil {
		routes.Obligations.RegisterRoutes(api)
	}
	if routes.Oracle != nil {
		routes.Oracle.RegisterRoutes(api)
	}
	return r
}
