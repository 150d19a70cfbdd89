// Package adapter provides the database adapter contract used by the malloy
// runtime to execute compiled queries.
//
// Concrete adapter implementations live in pkg/adapters/ subdirectories and
// register themselves with this package from their init() functions.
package adapter

import (
	"context"
	"database/sql"
)

// Config holds configuration for connecting to a database.
type Config struct {
	Type     string
	Path     string
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Schema   string
	Options  map[string]string
	Params   map[string]any
	// BaseDir resolves relative file references (e.g. CSV/Parquet paths).
	BaseDir string
}

// Column describes a result or table column.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// Adapter defines the interface that all database adapters must implement.
type Adapter interface {
	// Connect establishes a connection to the database using the provided config.
	Connect(ctx context.Context, cfg Config) error

	// Close closes the database connection and releases resources.
	Close() error

	// Exec executes a SQL statement that doesn't return rows.
	Exec(ctx context.Context, sql string) error

	// Query executes a SQL statement that returns rows.
	// The caller must close the returned rows.
	Query(ctx context.Context, sql string) (*sql.Rows, error)

	// DialectName returns the SQL dialect spoken by this adapter.
	DialectName() string

	// QuoteIdentifier quotes a column, table or CTE name.
	QuoteIdentifier(name string) string

	// TableReference renders a table reference from a model source
	// declaration (a table name, schema-qualified name, or file path).
	TableReference(ref string) string
}
