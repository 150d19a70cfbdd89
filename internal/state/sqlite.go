package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

// ErrRunNotFound is returned for unknown run ids.
var ErrRunNotFound = errors.New("run not found")

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite state store instance.
// If logger is nil, a discard logger is used.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger}
}

// Open opens the database at path and applies pending migrations.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(path string) error {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	s.logger.Debug("opening state store", "path", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// a second connection would see an empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path

	if err := s.Migrate(); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// generateID creates a new UUID.
func generateID() string {
	return uuid.New().String()
}

// CreateRun starts a run for a notebook.
func (s *SQLiteStore) CreateRun(ctx context.Context, notebook, title string, cells int) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &Run{
		ID:        generateID(),
		Notebook:  notebook,
		Title:     title,
		Status:    RunStatusRunning,
		Cells:     cells,
		StartedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	s.logger.Debug("creating run", "id", run.ID, "notebook", notebook)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, notebook, title, status, cells, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Notebook, run.Title, string(run.Status), run.Cells, run.StartedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// RecordCells stores per-cell outcomes for a run in one transaction.
func (s *SQLiteStore) RecordCells(ctx context.Context, runID string, cells []CellRun) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO cell_runs (run_id, cell_index, cell_type, status, row_count, sql_text, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare cell insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, c := range cells {
		if _, err := stmt.ExecContext(ctx, runID, c.Index, c.Type, string(c.Status), c.RowCount, nullString(c.SQL), nullString(c.Error)); err != nil {
			return fmt.Errorf("failed to record cell %d: %w", c.Index, err)
		}
	}
	return tx.Commit()
}

// CompleteRun marks a run as finished.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, status RunStatus, failedCells int, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, failed_cells = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(status), failedCells, time.Now().UTC().UnixMilli(), nullString(errMsg), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

const runColumns = `id, notebook, title, status, cells, failed_cells, started_at, completed_at, error`

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first. An empty notebook
// lists runs of every notebook.
func (s *SQLiteStore) ListRuns(ctx context.Context, notebook string, limit int) ([]*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE ? = '' OR notebook = ?
		 ORDER BY started_at DESC, rowid DESC
		 LIMIT ?`,
		notebook, notebook, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListCellRuns returns the recorded cells of a run in cell order.
func (s *SQLiteStore) ListCellRuns(ctx context.Context, runID string) ([]CellRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, cell_index, cell_type, status, row_count, sql_text, error
		 FROM cell_runs WHERE run_id = ? ORDER BY cell_index`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list cell runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cells := []CellRun{}
	for rows.Next() {
		var (
			c             CellRun
			status        string
			sqlText, errs sql.NullString
		)
		if err := rows.Scan(&c.RunID, &c.Index, &c.Type, &status, &c.RowCount, &sqlText, &errs); err != nil {
			return nil, fmt.Errorf("failed to scan cell run: %w", err)
		}
		c.Status = CellStatus(status)
		c.SQL = sqlText.String
		c.Error = errs.String
		cells = append(cells, c)
	}
	return cells, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run         Run
		status      string
		startedAt   int64
		completedAt sql.NullInt64
		errMsg      sql.NullString
	)
	if err := row.Scan(&run.ID, &run.Notebook, &run.Title, &status, &run.Cells, &run.FailedCells, &startedAt, &completedAt, &errMsg); err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	if completedAt.Valid {
		t := time.UnixMilli(completedAt.Int64).UTC()
		run.CompletedAt = &t
	}
	run.Error = errMsg.String
	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*SQLiteStore)(nil)
