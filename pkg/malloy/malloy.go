// Package malloy compiles Malloy-style semantic models and runs their queries
// against SQL adapters.
//
// It understands a deliberately small subset of the language:
//
//	import { flights } from './flights.malloy'
//	source: carriers is duckdb.table('data/carriers.csv')
//	source: recent is duckdb.sql("""SELECT * FROM 'data/flights.parquet' WHERE year > 2020""")
//	source: airlines is carriers
//	query: by_carrier is flights -> { group_by: carrier; aggregate: flight_count is count() }
//	run: flights -> { group_by: origin; aggregate: n is count(); order_by: n desc; limit: 10 }
//	run: duckdb.sql("""SELECT 42 AS answer""")
//
// Structured queries (source -> { ... }) are compiled to SQL with the source
// as a CTE. Anything else is executed as raw SQL or rejected with a
// diagnostic.
package malloy

import (
	"context"

	"github.com/leapstack-labs/malloynb/pkg/adapter"
)

// Materializer loads and runs queries against one compiled model.
type Materializer interface {
	// Model returns the compiled model.
	Model() *Model

	// LoadQuery parses querySrc into a structured query. A nil query with a
	// nil error means querySrc is valid but not a structured query.
	LoadQuery(ctx context.Context, querySrc string) (*Query, error)

	// Run executes a structured query.
	Run(ctx context.Context, q *Query) (*Result, error)

	// RunQuery compiles querySrc against the model and executes its final
	// run statement. Code that only defines sources or queries yields a
	// result with Definitions set.
	RunQuery(ctx context.Context, querySrc string) (*Result, error)

	// DescribeSource introspects the fields of a named source.
	DescribeSource(ctx context.Context, source string) (*SourceInfo, error)

	// SearchValueMap computes the most frequent values of each string field
	// of a named source.
	SearchValueMap(ctx context.Context, source string, limit int) ([]FieldValues, error)
}

// SourceKind identifies how a source is declared.
type SourceKind string

// Source kinds.
const (
	SourceKindTable SourceKind = "table"
	SourceKindSQL   SourceKind = "sql"
)

// Source is a named, queryable relation declared in a model.
type Source struct {
	Name       string     `json:"name"`
	Connection string     `json:"connection"`
	Kind       SourceKind `json:"kind"`
	// Ref is the table reference for table sources or the SQL text for sql
	// sources.
	Ref string `json:"ref"`
	// Origin is the URL of the model that declared the source.
	Origin string `json:"origin,omitempty"`
}

// sameDefinition reports whether two declarations describe the same relation.
func (s *Source) sameDefinition(o *Source) bool {
	return s.Connection == o.Connection && s.Kind == o.Kind && s.Ref == o.Ref
}

// SQL renders the source as a SELECT for the given adapter.
func (s *Source) SQL(a adapter.Adapter) string {
	if s.Kind == SourceKindSQL {
		return s.Ref
	}
	return "SELECT * FROM " + a.TableReference(s.Ref)
}

// Model is a compiled unit of sources and named queries.
type Model struct {
	URL     string             `json:"url,omitempty"`
	Sources map[string]*Source `json:"sources"`
	// SourceOrder lists source names in declaration order.
	SourceOrder []string          `json:"source_order"`
	Queries     map[string]string `json:"queries,omitempty"`
	// Runs holds the bodies of run statements in order.
	Runs    []string `json:"runs,omitempty"`
	Imports []string `json:"imports,omitempty"`
}

func newModel(url string) *Model {
	return &Model{
		URL:     url,
		Sources: make(map[string]*Source),
		Queries: make(map[string]string),
	}
}

// Source looks up a source by name.
func (m *Model) Source(name string) (*Source, bool) {
	s, ok := m.Sources[name]
	return s, ok
}

// ListSources returns the model's sources in declaration order.
func (m *Model) ListSources() []*Source {
	out := make([]*Source, 0, len(m.SourceOrder))
	for _, name := range m.SourceOrder {
		out = append(out, m.Sources[name])
	}
	return out
}

func (m *Model) clone() *Model {
	c := newModel(m.URL)
	for k, v := range m.Sources {
		c.Sources[k] = v
	}
	c.SourceOrder = append(c.SourceOrder, m.SourceOrder...)
	for k, v := range m.Queries {
		c.Queries[k] = v
	}
	c.Imports = append(c.Imports, m.Imports...)
	return c
}

// Field is a column of a source.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// SourceInfo is the introspected shape of a source.
type SourceInfo struct {
	Name       string  `json:"name"`
	Connection string  `json:"connection"`
	Fields     []Field `json:"fields"`
}

// ValueCount is one frequent value of a field.
type ValueCount struct {
	Value any   `json:"value"`
	Count int64 `json:"count"`
}

// FieldValues holds the top values of one field.
type FieldValues struct {
	Field  string       `json:"field"`
	Values []ValueCount `json:"values"`
}

// Result is the structured outcome of running a query.
type Result struct {
	Columns    []adapter.Column `json:"columns,omitempty"`
	Rows       [][]any          `json:"rows,omitempty"`
	SQL        string           `json:"sql,omitempty"`
	Connection string           `json:"connection,omitempty"`
	Source     string           `json:"source,omitempty"`
	// Truncated is set when the row limit cut the result short.
	Truncated bool `json:"truncated,omitempty"`
	// Definitions is set when the code only declared sources or queries.
	Definitions bool `json:"definitions,omitempty"`
}

// RowCount returns the number of returned rows.
func (r *Result) RowCount() int {
	return len(r.Rows)
}
