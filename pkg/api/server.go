/*
pmatree REST API

Inspection and mutation surface for a pmatree object store.

Version: 1.0.0
Host: localhost:8080
BasePath: /api/v1

SecurityDefinitions:
  - ApiKeyAuth:
    type: apiKey
    in: header
    name: X-API-Key
*/
package api

import (
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ssargent/pmatree/pkg/engine"
)

// StartServer starts the HTTP server with all routes configured
func StartServer(store *engine.Store, config ServerConfig) error {
	metrics := NewMetrics()
	server := NewServer(store, config, metrics)

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Prometheus metrics endpoint (unprotected for scraping)
	r.Handle("/metrics", promhttp.Handler())

	// API key authentication middleware for protected routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(metrics.InstrumentAuthMiddleware(apiKeyMiddleware(config.APIKey)))

		r.Get("/health", metrics.InstrumentHandler("GET", "/api/v1/health", server.handleHealth))

		// Storage-engine operations, addressed by the full
		// container/object/dkey/akey path.
		r.Put("/records", metrics.InstrumentHandler("PUT", "/api/v1/records", server.handlePut))
		r.Get("/containers/{container}/objects/{object}/dkeys/{dkey}/akeys/{akey}",
			metrics.InstrumentHandler("GET", "/api/v1/containers/{container}/objects/{object}/dkeys/{dkey}/akeys/{akey}", server.handleGet))
		r.Delete("/containers/{container}/objects/{object}/dkeys/{dkey}/akeys/{akey}",
			metrics.InstrumentHandler("DELETE", "/api/v1/containers/{container}/objects/{object}/dkeys/{dkey}/akeys/{akey}", server.handleDelete))
		r.Delete("/containers/{container}/objects/{object}",
			metrics.InstrumentHandler("DELETE", "/api/v1/containers/{container}/objects/{object}", server.handleDestroyObject))

		// Relationships
		r.Post("/relationships", metrics.InstrumentHandler("POST", "/api/v1/relationships", server.handleCreateRelationship))
		r.Delete("/relationships", metrics.InstrumentHandler("DELETE", "/api/v1/relationships", server.handleDeleteRelationship))
		r.Get("/relationships", metrics.InstrumentHandler("GET", "/api/v1/relationships", server.handleGetRelationships))

		// Diagnostics
		r.Get("/explain", metrics.InstrumentHandler("GET", "/api/v1/explain", server.handleExplain))
		r.Get("/stats", metrics.InstrumentHandler("GET", "/api/v1/stats", server.handleStats))
	})

	addr := fmt.Sprintf(":%d", config.Port)
	fmt.Printf("Starting pmatree REST API server on %s\n", addr)
	fmt.Printf("Metrics available at: http://localhost:%d/metrics\n", config.Port)
	log.Fatal(http.ListenAndServe(addr, r))

	return nil
}
