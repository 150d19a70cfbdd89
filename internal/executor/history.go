package executor

import (
	"context"
	"log/slog"

	"github.com/leapstack-labs/malloynb/internal/state"
	"github.com/leapstack-labs/malloynb/pkg/notebook"
)

// Recorder records notebook runs in a history store. Recording failures are
// logged and never fail a run.
type Recorder struct {
	store  state.Store
	logger *slog.Logger
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store state.Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{store: store, logger: logger}
}

// Recording is a run in progress. A nil Recording records nothing.
type Recording struct {
	store  state.Store
	logger *slog.Logger
	run    *state.Run
}

// Start creates a running entry for the notebook. It returns nil when the
// entry could not be created.
func (r *Recorder) Start(ctx context.Context, notebookID string, nb *notebook.Notebook) *Recording {
	run, err := r.store.CreateRun(ctx, notebookID, nb.Metadata.Title, len(nb.Cells))
	if err != nil {
		r.logger.Warn("failed to record run", "notebook", notebookID, "error", err)
		return nil
	}
	return &Recording{store: r.store, logger: r.logger, run: run}
}

// RunID returns the id of the recorded run, or "" for a nil Recording.
func (rec *Recording) RunID() string {
	if rec == nil {
		return ""
	}
	return rec.run.ID
}

// Finish stores the cell outcomes and completes the run. A non-nil runErr
// marks the whole run failed.
func (rec *Recording) Finish(ctx context.Context, out *Output, runErr error) {
	if rec == nil {
		return
	}
	// a cancelled run still gets completed
	ctx = context.WithoutCancel(ctx)

	if runErr != nil {
		if err := rec.store.CompleteRun(ctx, rec.run.ID, state.RunStatusFailed, 0, runErr.Error()); err != nil {
			rec.logger.Warn("failed to complete run", "run", rec.run.ID, "error", err)
		}
		return
	}
	if err := rec.store.RecordCells(ctx, rec.run.ID, CellRuns(out)); err != nil {
		rec.logger.Warn("failed to record cells", "run", rec.run.ID, "error", err)
	}
	if err := rec.store.CompleteRun(ctx, rec.run.ID, state.RunStatusCompleted, out.Failed(), ""); err != nil {
		rec.logger.Warn("failed to complete run", "run", rec.run.ID, "error", err)
	}
}

// CellRuns converts executed cells to history records. Markdown cells and
// cells holding only imports are recorded as skipped.
func CellRuns(out *Output) []state.CellRun {
	cells := make([]state.CellRun, 0, len(out.Cells))
	for i, c := range out.Cells {
		cr := state.CellRun{Index: i, Type: string(c.Type()), Status: state.CellStatusSkipped}
		if m, ok := c.(*MalloyOutput); ok && m.Result != nil {
			switch {
			case m.Failed():
				cr.Status = state.CellStatusFailed
				cr.Error = m.Result.Problems[0].String()
			case m.Result.Data != nil:
				cr.Status = state.CellStatusSuccess
				cr.RowCount = m.Result.Data.RowCount()
				cr.SQL = m.Result.Data.SQL
			}
		}
		cells = append(cells, cr)
	}
	return cells
}
