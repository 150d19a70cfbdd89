package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/malloynb/internal/cache"
	"github.com/leapstack-labs/malloynb/internal/cli/config"
	"github.com/leapstack-labs/malloynb/internal/cli/output"
	"github.com/leapstack-labs/malloynb/internal/executor"
	"github.com/leapstack-labs/malloynb/internal/state"
	"github.com/leapstack-labs/malloynb/pkg/malloy"
	"github.com/leapstack-labs/malloynb/pkg/notebook"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext builds a CommandContext from the command's context.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := config.FromContext(cmd.Context())
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat)),
	}
}

// NewRuntime creates a malloy runtime reading models from the models
// directory. The caller must close it.
func (c *CommandContext) NewRuntime() *malloy.Runtime {
	return malloy.NewRuntime(malloy.Config{
		Reader:      malloy.DirReader{Root: c.Cfg.ModelsDir},
		Connections: c.Cfg.AdapterConfigs(),
		RowLimit:    c.Cfg.RowLimit,
		Logger:      c.Logger,
	})
}

// NewCache creates a cache loading models through rt.
func (c *CommandContext) NewCache(rt *malloy.Runtime) *cache.Cache {
	return cache.New(rt, c.Logger, cache.WithTopValuesLimit(c.Cfg.TopValuesLimit))
}

// OpenStore opens the run history database, creating its directory.
func (c *CommandContext) OpenStore() (*state.SQLiteStore, error) {
	if dir := filepath.Dir(c.Cfg.StatePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	store := state.NewSQLiteStore(c.Logger)
	if err := store.Open(c.Cfg.StatePath); err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	return store, nil
}

// Runtimes returns the executor's runtime lookup. Each notebook gets a view
// of rt whose relative imports resolve against the notebook's location.
func (c *CommandContext) Runtimes(rt *malloy.Runtime) executor.RuntimeFunc {
	return executor.NotebookRuntimes(rt, c.Cfg.ModelsDir, c.Cfg.NotebooksDir)
}

// resolveNotebook maps a command argument to a notebook id and path. The
// argument is either a file path or an id relative to the notebooks directory.
func resolveNotebook(cfg *config.Config, arg string) (id, path string, err error) {
	if strings.HasSuffix(arg, notebook.FileExtension) {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return "", "", fmt.Errorf("invalid notebook path %s: %w", arg, err)
		}
		return notebook.ID(cfg.NotebooksDir, abs), abs, nil
	}
	id = strings.TrimPrefix(filepath.ToSlash(arg), "./")
	return id, notebook.Path(cfg.NotebooksDir, id), nil
}
