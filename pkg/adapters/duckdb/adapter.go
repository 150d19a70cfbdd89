// Package duckdb provides a DuckDB database adapter.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/malloynb/pkg/adapter"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// fileExtensions are table references DuckDB reads directly from disk.
var fileExtensions = map[string]bool{
	".csv":     true,
	".tsv":     true,
	".parquet": true,
	".json":    true,
	".jsonl":   true,
	".ndjson":  true,
}

// Adapter implements the adapter.Adapter interface for DuckDB.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new DuckDB adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// DialectName returns the SQL dialect for this adapter.
func (a *Adapter) DialectName() string {
	return "duckdb"
}

// Connect establishes a connection to DuckDB.
// Use ":memory:" (or an empty path) for an in-memory database.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	params, err := parseParams(cfg.Params)
	if err != nil {
		return err
	}

	a.Logger.Debug("connecting to duckdb", slog.String("path", path))

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	a.DB = db
	a.Cfg = cfg

	for _, stmt := range params.setupStatements() {
		if err := a.Exec(ctx, stmt); err != nil {
			_ = a.Close()
			a.DB = nil
			return fmt.Errorf("failed to apply duckdb params: %w", err)
		}
	}

	return nil
}

// TableReference renders ref as a file scan when it names a data file or
// URL, or as a quoted (optionally schema-qualified) table name otherwise.
// Relative file paths resolve against the configured base directory.
func (a *Adapter) TableReference(ref string) string {
	if isFileRef(ref) {
		path := ref
		if !strings.Contains(ref, "://") && !filepath.IsAbs(ref) && a.Cfg.BaseDir != "" {
			path = filepath.Join(a.Cfg.BaseDir, ref)
		}
		return adapter.QuoteLiteral(path)
	}

	schema, name := adapter.ParseQualifiedName(ref, "")
	if schema == "" {
		return a.QuoteIdentifier(name)
	}
	return a.QuoteIdentifier(schema) + "." + a.QuoteIdentifier(name)
}

func isFileRef(ref string) bool {
	if strings.Contains(ref, "://") {
		return true
	}
	ext := strings.ToLower(filepath.Ext(ref))
	if strings.HasSuffix(ext, ".gz") {
		ext = strings.ToLower(filepath.Ext(strings.TrimSuffix(ref, filepath.Ext(ref))))
	}
	return fileExtensions[ext]
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
