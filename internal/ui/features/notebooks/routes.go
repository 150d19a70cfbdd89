// Package notebooks serves parsed notebooks, streams notebook runs and
// pushes file change events.
package notebooks

import (
	"github.com/go-chi/chi/v5"
)

// SetupRoutes registers the notebooks feature routes.
func SetupRoutes(router chi.Router, cfg Config) error {
	handlers := NewHandlers(cfg)

	router.Route("/api/notebooks", func(r chi.Router) {
		r.Get("/", handlers.ListNotebooks)
		r.Get("/updates", handlers.Updates)
		r.Get("/*", handlers.Notebook)
	})
	// Streams one signal patch per finished cell, then the whole output.
	router.Get("/api/run/notebooks/*", handlers.RunNotebook)

	return nil
}
