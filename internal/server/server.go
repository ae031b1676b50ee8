// Package server implements the EdgeLUN HTTP server exposing the volume
// driver API to the orchestration framework.
package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgelun/edgelun/internal/config"
	"github.com/edgelun/edgelun/internal/driver"
	"github.com/edgelun/edgelun/internal/handlers"
)

// Server is the EdgeLUN HTTP server. It routes incoming requests to the
// volume and snapshot handlers.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	drv        *driver.Driver
	volume     *handlers.VolumeHandler
	snapshot   *handlers.SnapshotHandler
	httpServer *http.Server
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

// New creates a new Server over the given driver and wires up all routes on
// the Chi router with Huma API.
func New(cfg *config.Config, drv *driver.Driver) *Server {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("EdgeLUN Volume Driver API", driver.Version)
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:      cfg,
		router:   router,
		api:      api,
		drv:      drv,
		volume:   handlers.NewVolumeHandler(drv),
		snapshot: handlers.NewSnapshotHandler(drv),
	}
	s.registerRoutes()
	return s
}

// ListenAndServe starts the HTTP server on the given address.
// Middleware chain: metricsMiddleware -> commonHeaders -> accessLog -> router.
func (s *Server) ListenAndServe(addr string) error {
	var handler http.Handler = s.router
	handler = accessLogMiddleware(handler)
	handler = commonHeaders(handler)
	handler = metricsMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes configures all routes on the Chi router. Huma routes
// (/health, /docs, /openapi.json) and /metrics are registered first.
func (s *Server) registerRoutes() {
	// Register /health via Huma for auto-OpenAPI documentation.
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the EdgeLUN server.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		return &HealthOutput{Body: HealthBody{Status: "ok"}}, nil
	})

	// Register /metrics via promhttp.Handler().
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.volume.Stats)
		r.Get("/setup/check", s.volume.CheckSetup)

		r.Route("/volumes", func(r chi.Router) {
			r.Get("/", s.volume.List)
			r.Post("/", s.volume.Create)

			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.volume.Get)
				r.Delete("/", s.volume.Delete)
				r.Post("/extend", s.volume.Extend)
				r.Post("/clone", s.volume.Clone)

				r.Get("/connection", s.volume.Connection)
				r.Delete("/connection", s.volume.TerminateConnection)
				r.Post("/export", s.volume.CreateExport)
				r.Put("/export", s.volume.EnsureExport)
				r.Delete("/export", s.volume.RemoveExport)
				r.Post("/backup", s.volume.Backup)
				r.Post("/restore-backup", s.volume.RestoreBackup)

				r.Route("/snapshots", func(r chi.Router) {
					r.Post("/", s.snapshot.Create)
					r.Delete("/{snapshot}", s.snapshot.Delete)
					r.Post("/{snapshot}/restore", s.snapshot.Restore)
				})
			})
		})
	})
}
