package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/leapstack-labs/malloynb/internal/cli/output"
	"github.com/leapstack-labs/malloynb/internal/state"
	"github.com/spf13/cobra"
)

// HistoryOptions holds options for the history command.
type HistoryOptions struct {
	Limit int
	Run   string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	opts := &HistoryOptions{}

	cmd := &cobra.Command{
		Use:   "history [notebook]",
		Short: "Show recent notebook runs",
		Long: `Show recent notebook runs, newest first. Pass a notebook id to only list
its runs, or --run to show the cells of one run.`,
		Example: `  malloynb history
  malloynb history flights --limit 5
  malloynb history --run 3f1c2a4e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nb := ""
			if len(args) > 0 {
				nb = args[0]
			}
			return runHistory(cmd, nb, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "Maximum number of runs to show")
	cmd.Flags().StringVar(&opts.Run, "run", "", "Show the cells of one run")

	return cmd
}

func runHistory(cmd *cobra.Command, nb string, opts *HistoryOptions) error {
	ctx := cmd.Context()
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer

	store, err := cmdCtx.OpenStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if opts.Run != "" {
		return showRun(ctx, cmdCtx, store, opts.Run)
	}

	runs, err := store.ListRuns(ctx, nb, opts.Limit)
	if err != nil {
		return err
	}
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(runs)
	}
	if len(runs) == 0 {
		r.Muted("No runs recorded")
		return nil
	}

	rows := make([][]string, len(runs))
	for i, run := range runs {
		rows[i] = []string{
			run.ID,
			run.Notebook,
			string(run.Status),
			strconv.Itoa(run.Cells),
			strconv.Itoa(run.FailedCells),
			run.StartedAt.Local().Format(time.DateTime),
			formatDuration(run.Duration()),
		}
	}
	r.Table([]string{"Run", "Notebook", "Status", "Cells", "Failed", "Started", "Duration"}, rows)
	return nil
}

func showRun(ctx context.Context, cmdCtx *CommandContext, store state.Store, id string) error {
	r := cmdCtx.Renderer

	run, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	cells, err := store.ListCellRuns(ctx, id)
	if err != nil {
		return err
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(struct {
			*state.Run
			CellRuns []state.CellRun `json:"cell_runs"`
		}{run, cells})
	}

	title := run.Notebook
	if run.Title != "" {
		title = fmt.Sprintf("%s (%s)", run.Title, run.Notebook)
	}
	r.Header(1, title)
	r.StatusLine(run.ID, string(run.Status), formatDuration(run.Duration()))
	if run.Error != "" {
		r.Println("    " + run.Error)
	}
	for _, c := range cells {
		detail := c.Type
		switch c.Status {
		case state.CellStatusSuccess:
			detail = fmt.Sprintf("%s, %d rows", c.Type, c.RowCount)
		case state.CellStatusFailed:
			detail = c.Error
		}
		r.StatusLine(fmt.Sprintf("cell %d", c.Index), string(c.Status), detail)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}
