// Package state records notebook run history in SQLite.
package state

import (
	"context"
	"time"
)

// RunStatus is the lifecycle state of a notebook run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// CellStatus is the outcome of one cell.
type CellStatus string

// Cell statuses.
const (
	CellStatusSuccess CellStatus = "success"
	CellStatusFailed  CellStatus = "failed"
	CellStatusSkipped CellStatus = "skipped"
)

// Run is one execution of a notebook.
type Run struct {
	ID          string     `json:"id"`
	Notebook    string     `json:"notebook"`
	Title       string     `json:"title,omitempty"`
	Status      RunStatus  `json:"status"`
	Cells       int        `json:"cells"`
	FailedCells int        `json:"failed_cells"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Duration returns how long the run took, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// CellRun is the recorded outcome of one cell in a run.
type CellRun struct {
	RunID    string     `json:"run_id"`
	Index    int        `json:"index"`
	Type     string     `json:"type"`
	Status   CellStatus `json:"status"`
	RowCount int        `json:"row_count"`
	SQL      string     `json:"sql,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// Store persists run history.
type Store interface {
	CreateRun(ctx context.Context, notebook, title string, cells int) (*Run, error)
	RecordCells(ctx context.Context, runID string, cells []CellRun) error
	CompleteRun(ctx context.Context, id string, status RunStatus, failedCells int, errMsg string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, notebook string, limit int) ([]*Run, error)
	ListCellRuns(ctx context.Context, runID string) ([]CellRun, error)
	Close() error
}
