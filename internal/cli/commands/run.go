package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/leapstack-labs/malloynb/internal/executor"
	"github.com/leapstack-labs/malloynb/pkg/notebook"
	"github.com/spf13/cobra"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	NoHistory bool
}

// ErrCellsFailed is returned by run when the notebook executed but some of
// its cells failed.
var ErrCellsFailed = errors.New("cells failed")

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run <notebook>",
		Short: "Execute a notebook",
		Long: `Execute every cell of a notebook and render the results.

The model is assembled from all malloy cells of the notebook, so a cell may
use sources declared or imported by any other cell. A failing cell is reported
in place and does not stop the others.

The notebook is given either as a path to a .malloynb file or as an id
relative to the notebooks directory. Each run is recorded in the run history
unless --no-history is set.`,
		Example: `  # Run a notebook by id
  malloynb run flights

  # Run a notebook file and print JSON
  malloynb run reports/weekly.malloynb -o json

  # Run without recording history
  malloynb run flights --no-history`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNotebook(cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.NoHistory, "no-history", false, "Don't record the run in the history database")

	return cmd
}

func runNotebook(cmd *cobra.Command, arg string, opts *RunOptions) error {
	ctx := cmd.Context()
	cmdCtx := NewCommandContext(cmd)
	cfg := cmdCtx.Cfg

	id, path, err := resolveNotebook(cfg, arg)
	if err != nil {
		return err
	}
	nb, err := notebook.ParseFile(path)
	if err != nil {
		return err
	}

	rt := cmdCtx.NewRuntime()
	defer func() { _ = rt.Close() }()

	var rec *executor.Recording
	if !opts.NoHistory {
		store, err := cmdCtx.OpenStore()
		if err != nil {
			cmdCtx.Logger.Warn("run history disabled", "error", err)
		} else {
			defer func() { _ = store.Close() }()
			rec = executor.NewRecorder(store, cmdCtx.Logger).Start(ctx, id, nb)
		}
	}

	start := time.Now()
	exec := executor.New(executor.Options{
		Concurrency: cfg.Concurrency,
		Logger:      cmdCtx.Logger,
	})
	out, err := exec.Execute(ctx, cmdCtx.Runtimes(rt), id, nb)
	rec.Finish(ctx, out, err)
	if err != nil {
		return fmt.Errorf("failed to run notebook %s: %w", id, err)
	}

	if err := cmdCtx.Renderer.Notebook(id, out); err != nil {
		return err
	}
	cmdCtx.Logger.Debug("notebook rendered", "notebook", id, "duration_ms", time.Since(start).Milliseconds())

	if failed := out.Failed(); failed > 0 {
		return fmt.Errorf("%w: %d of %d malloy cells in %s", ErrCellsFailed, failed, len(nb.MalloyCells()), id)
	}
	return nil
}
