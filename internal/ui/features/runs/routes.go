// Package runs serves the notebook run history.
package runs

import (
	"github.com/go-chi/chi/v5"
	"github.com/leapstack-labs/malloynb/internal/state"
)

// SetupRoutes registers the runs history feature routes.
func SetupRoutes(router chi.Router, store state.Store) error {
	handlers := NewHandlers(store)

	router.Route("/api/runs", func(r chi.Router) {
		r.Get("/", handlers.ListRuns)      // recent runs, ?notebook= and ?limit=
		r.Get("/{id}", handlers.RunDetail) // run with its cells
	})

	return nil
}
