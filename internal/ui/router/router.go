// Package router sets up HTTP routes for the UI server.
package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/leapstack-labs/malloynb/internal/cache"
	"github.com/leapstack-labs/malloynb/internal/state"
	"github.com/leapstack-labs/malloynb/internal/ui/features/common"
	modelsFeature "github.com/leapstack-labs/malloynb/internal/ui/features/models"
	notebooksFeature "github.com/leapstack-labs/malloynb/internal/ui/features/notebooks"
	runsFeature "github.com/leapstack-labs/malloynb/internal/ui/features/runs"
	"github.com/leapstack-labs/malloynb/internal/ui/notifier"
	"github.com/leapstack-labs/malloynb/pkg/malloy"
)

// Deps are the services shared by the feature routes.
type Deps struct {
	Cache        *cache.Cache
	Runtime      *malloy.Runtime
	Store        state.Store // optional
	Notifier     *notifier.Notifier
	ModelsDir    string
	NotebooksDir string
	Concurrency  int
	Logger       *slog.Logger
}

// SetupRoutes configures all routes for the UI server.
func SetupRoutes(router chi.Router, d Deps) error {
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		common.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Get("/api", func(w http.ResponseWriter, _ *http.Request) {
		common.WriteJSON(w, http.StatusOK, map[string]any{
			"models_dir":    d.ModelsDir,
			"notebooks_dir": d.NotebooksDir,
			"connections":   d.Runtime.Connections(),
			"history":       d.Store != nil,
			"watch":         d.Notifier != nil,
		})
	})

	if err := modelsFeature.SetupRoutes(router, d.Cache, d.ModelsDir, d.Logger); err != nil {
		return err
	}

	if err := notebooksFeature.SetupRoutes(router, notebooksFeature.Config{
		Runtime:      d.Runtime,
		Store:        d.Store,
		Notifier:     d.Notifier,
		ModelsDir:    d.ModelsDir,
		NotebooksDir: d.NotebooksDir,
		Concurrency:  d.Concurrency,
		Logger:       d.Logger,
	}); err != nil {
		return err
	}

	if err := runsFeature.SetupRoutes(router, d.Store); err != nil {
		return err
	}

	return nil
}
