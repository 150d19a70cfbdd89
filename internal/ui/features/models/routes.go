// Package models serves compiled models, introspected sources and query
// results from the cache.
package models

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/leapstack-labs/malloynb/internal/cache"
)

// SetupRoutes registers the models feature routes.
func SetupRoutes(router chi.Router, c *cache.Cache, modelsDir string, logger *slog.Logger) error {
	handlers := NewHandlers(c, modelsDir, logger)

	router.Route("/api/models", func(r chi.Router) {
		r.Get("/", handlers.ListModels)
		r.Get("/{model}", handlers.Model)
		r.Get("/{model}/sources/{source}", handlers.Source)
		r.Get("/{model}/sources/{source}/query", handlers.Query)
		r.Post("/{model}/sources/{source}/query", handlers.Query)
	})
	router.Get("/api/cache/stats", handlers.Stats)

	return nil
}
