package malloy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/leapstack-labs/malloynb/pkg/adapter"
)

// DefaultConnection is the connection available when none are configured:
// an in-memory DuckDB database.
const DefaultConnection = "duckdb"

// DefaultRowLimit caps the rows materialized for a single result.
const DefaultRowLimit = 10000

// maxQueryDepth bounds how deep named queries may refer to one another.
const maxQueryDepth = 16

// Config configures a Runtime.
type Config struct {
	// Reader resolves import URLs. Without a reader imports fail.
	Reader URLReader
	// Connections maps connection names used in source declarations to
	// adapter configs.
	Connections map[string]adapter.Config
	// RowLimit caps materialized rows per result. Zero uses DefaultRowLimit.
	RowLimit int
	Logger   *slog.Logger
}

// Runtime compiles models and owns the connections their queries run on.
// It is safe for concurrent use.
type Runtime struct {
	reader   URLReader
	baseURL  string
	pool     *connectionPool
	rowLimit int
	logger   *slog.Logger
}

// NewRuntime creates a runtime. Connections are opened on first use.
func NewRuntime(cfg Config) *Runtime {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	rowLimit := cfg.RowLimit
	if rowLimit <= 0 {
		rowLimit = DefaultRowLimit
	}

	configs := make(map[string]adapter.Config, len(cfg.Connections)+1)
	for name, c := range cfg.Connections {
		configs[name] = c
	}
	if _, ok := configs[DefaultConnection]; !ok {
		configs[DefaultConnection] = adapter.Config{Type: "duckdb"}
	}

	return &Runtime{
		reader:   cfg.Reader,
		pool:     &connectionPool{configs: configs, open: make(map[string]adapter.Adapter), logger: logger},
		rowLimit: rowLimit,
		logger:   logger,
	}
}

// WithBaseURL returns a runtime sharing r's connections whose inline models
// resolve relative imports against url.
func (r *Runtime) WithBaseURL(url string) *Runtime {
	c := *r
	c.baseURL = url
	return &c
}

// Connections returns the configured connection names, sorted.
func (r *Runtime) Connections() []string {
	names := make([]string, 0, len(r.pool.configs))
	for name := range r.pool.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadModel compiles model text. Relative imports resolve against the
// runtime's base URL.
func (r *Runtime) LoadModel(ctx context.Context, text string) (Materializer, error) {
	m, err := r.newCompiler().compileText(ctx, r.baseURL, text, nil)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("compiled model", "base_url", r.baseURL, "sources", len(m.Sources))
	return &materializer{rt: r, model: m}, nil
}

// LoadModelFromURL reads and compiles the model at url.
func (r *Runtime) LoadModelFromURL(ctx context.Context, url string) (Materializer, error) {
	m, err := r.newCompiler().compileURL(ctx, url)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("compiled model", "url", url, "sources", len(m.Sources))
	return &materializer{rt: r, model: m}, nil
}

// Close closes every open connection.
func (r *Runtime) Close() error {
	return r.pool.close()
}

func (r *Runtime) newCompiler() *compiler {
	return newCompiler(r.reader, r.pool.has)
}

type connectionPool struct {
	mu      sync.Mutex
	configs map[string]adapter.Config
	open    map[string]adapter.Adapter
	logger  *slog.Logger
}

func (p *connectionPool) has(name string) bool {
	_, ok := p.configs[name]
	return ok
}

// get returns the named connection, connecting it on first use.
func (p *connectionPool) get(ctx context.Context, name string) (adapter.Adapter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if a, ok := p.open[name]; ok {
		return a, nil
	}
	cfg, ok := p.configs[name]
	if !ok {
		return nil, fmt.Errorf("connection %q is not configured", name)
	}

	p.logger.Debug("connecting", "connection", name, "adapter_type", cfg.Type)
	a, err := adapter.NewAdapter(cfg, p.logger)
	if err != nil {
		return nil, fmt.Errorf("connection %q: %w", name, err)
	}
	if err := a.Connect(ctx, cfg); err != nil {
		return nil, fmt.Errorf("connection %q: %w", name, err)
	}
	p.open[name] = a
	return a, nil
}

func (p *connectionPool) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for name, a := range p.open {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(p.open, name)
	}
	return errors.Join(errs...)
}

type materializer struct {
	rt    *Runtime
	model *Model
}

func (m *materializer) Model() *Model {
	return m.model
}

// extend compiles querySrc on top of the model. Text without any statement
// keyword is taken as the expression of a run statement.
func (m *materializer) extend(ctx context.Context, querySrc string) (*Model, error) {
	if stmts, _ := splitStatements(querySrc); len(stmts) == 0 && strings.TrimSpace(querySrc) != "" {
		querySrc = "run: " + querySrc
	}
	ext, err := m.rt.newCompiler().compileText(ctx, m.model.URL, querySrc, m.model)
	if err != nil {
		var me *ModelError
		if errors.As(err, &me) {
			return nil, &QueryError{Problems: me.Problems, Err: err}
		}
		return nil, err
	}
	return ext, nil
}

func (m *materializer) LoadQuery(ctx context.Context, querySrc string) (*Query, error) {
	ext, err := m.extend(ctx, querySrc)
	if err != nil {
		return nil, err
	}
	if len(ext.Runs) == 0 {
		return nil, nil
	}
	return ParseQuery(ext, ext.Runs[len(ext.Runs)-1])
}

func (m *materializer) RunQuery(ctx context.Context, querySrc string) (*Result, error) {
	ext, err := m.extend(ctx, querySrc)
	if err != nil {
		return nil, err
	}
	if len(ext.Runs) == 0 {
		return &Result{Definitions: true}, nil
	}
	expr, err := resolveNamed(ext, ext.Runs[len(ext.Runs)-1])
	if err != nil {
		return nil, err
	}

	if p := sqlExprPattern.FindStringSubmatch(expr); p != nil {
		conn := p[1]
		if !m.rt.pool.has(conn) {
			return nil, &QueryError{Problems: []Diagnostic{
				errorDiag(0, "Unknown connection", "connection '%s' is not configured", conn),
			}}
		}
		return m.execute(ctx, conn, strings.TrimSpace(firstNonEmpty(p[2], p[3], p[4])))
	}

	q, err := parseStructured(ext, expr)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, &QueryError{Problems: []Diagnostic{
			errorDiag(0, "Unsupported query", "cannot interpret query %q", truncate(expr, 60)),
		}}
	}
	return m.Run(ctx, q)
}

func (m *materializer) Run(ctx context.Context, q *Query) (*Result, error) {
	if q == nil || q.Source == nil {
		return nil, &QueryError{Problems: []Diagnostic{errorDiag(0, "Invalid query", "query has no source")}}
	}
	a, err := m.rt.pool.get(ctx, q.Source.Connection)
	if err != nil {
		return nil, queryErr(err, "Connection error")
	}
	res, err := m.executeOn(ctx, a, q.Source.Connection, q.SQL(a))
	if err != nil {
		return nil, err
	}
	res.Source = q.Source.Name
	return res, nil
}

func (m *materializer) execute(ctx context.Context, conn, sqlText string) (*Result, error) {
	a, err := m.rt.pool.get(ctx, conn)
	if err != nil {
		return nil, queryErr(err, "Connection error")
	}
	return m.executeOn(ctx, a, conn, sqlText)
}

func (m *materializer) executeOn(ctx context.Context, a adapter.Adapter, conn, sqlText string) (*Result, error) {
	m.rt.logger.Debug("executing query", "connection", conn, "sql", sqlText)

	rows, err := a.Query(ctx, sqlText)
	if err != nil {
		return nil, queryErr(err, "Execution error")
	}
	defer func() { _ = rows.Close() }()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, queryErr(err, "Execution error")
	}
	res := &Result{SQL: sqlText, Connection: conn, Columns: make([]adapter.Column, len(types)), Rows: [][]any{}}
	for i, t := range types {
		nullable, _ := t.Nullable()
		res.Columns[i] = adapter.Column{Name: t.Name(), Type: t.DatabaseTypeName(), Nullable: nullable}
	}

	for rows.Next() {
		if len(res.Rows) >= m.rt.rowLimit {
			res.Truncated = true
			break
		}
		vals := make([]any, len(types))
		ptrs := make([]any, len(types))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, queryErr(err, "Execution error")
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr(err, "Execution error")
	}
	return res, nil
}

// resolveNamed follows references to named queries.
func resolveNamed(m *Model, expr string) (string, error) {
	for range maxQueryDepth {
		if !identPattern.MatchString(expr) {
			return expr, nil
		}
		next, ok := m.Queries[expr]
		if !ok {
			return "", &QueryError{Problems: []Diagnostic{
				errorDiag(0, "Unknown query", "query '%s' is not defined", expr),
			}}
		}
		expr = next
	}
	return "", &QueryError{Problems: []Diagnostic{
		errorDiag(0, "Invalid query", "named queries nest deeper than %d levels", maxQueryDepth),
	}}
}
