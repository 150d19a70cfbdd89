package malloy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func knownConns(names ...string) func(string) bool {
	return func(n string) bool {
		for _, name := range names {
			if n == name {
				return true
			}
		}
		return false
	}
}

func compileWith(t *testing.T, files MapReader, text string) (*Model, error) {
	t.Helper()
	return newCompiler(files, knownConns("duckdb", "warehouse")).compileText(context.Background(), "notebooks/nb.malloynb", text, nil)
}

func TestCompile_Sources(t *testing.T) {
	m, err := compileWith(t, nil, `
source: carriers is duckdb.table('data/carriers.csv')
source: recent is warehouse.sql("""SELECT * FROM flights WHERE year > 2020;""")
source: airlines is carriers
query: top is carriers -> { select: * }
`)
	require.NoError(t, err)

	assert.Equal(t, []string{"carriers", "recent", "airlines"}, m.SourceOrder)
	assert.Equal(t, &Source{Name: "carriers", Connection: "duckdb", Kind: SourceKindTable, Ref: "data/carriers.csv", Origin: "notebooks/nb.malloynb"}, m.Sources["carriers"])
	assert.Equal(t, SourceKindSQL, m.Sources["recent"].Kind)
	assert.Equal(t, "SELECT * FROM flights WHERE year > 2020;", m.Sources["recent"].Ref)
	assert.Equal(t, "warehouse", m.Sources["recent"].Connection)
	assert.Equal(t, "data/carriers.csv", m.Sources["airlines"].Ref)
	assert.Equal(t, "carriers -> { select: * }", m.Queries["top"])
	assert.Empty(t, m.Runs)
}

func TestCompile_Imports(t *testing.T) {
	files := MapReader{
		"models/flights.malloy":  "source: flights is duckdb.table('flights.parquet')\nsource: airports is duckdb.table('airports.csv')",
		"notebooks/local.malloy": "source: local is duckdb.table('local.csv')",
	}

	t.Run("selective", func(t *testing.T) {
		m, err := compileWith(t, files, "import { flights } from '../models/flights.malloy'")
		require.NoError(t, err)
		assert.Equal(t, []string{"flights"}, m.SourceOrder)
		assert.Equal(t, []string{"models/flights.malloy"}, m.Imports)
		assert.Equal(t, "models/flights.malloy", m.Sources["flights"].Origin)
	})

	t.Run("whole file", func(t *testing.T) {
		m, err := compileWith(t, files, `import "/models/flights.malloy"`)
		require.NoError(t, err)
		assert.Equal(t, []string{"flights", "airports"}, m.SourceOrder)
	})

	t.Run("relative to importing model", func(t *testing.T) {
		m, err := compileWith(t, files, "import { local } from './local.malloy'")
		require.NoError(t, err)
		assert.Contains(t, m.Sources, "local")
	})

	t.Run("same source imported twice", func(t *testing.T) {
		m, err := compileWith(t, files, "import { flights } from '../models/flights.malloy'\nimport { flights, airports } from '../models/flights.malloy'")
		require.NoError(t, err)
		assert.Equal(t, []string{"flights", "airports"}, m.SourceOrder)
	})

	t.Run("missing source", func(t *testing.T) {
		_, err := compileWith(t, files, "import { nope } from '../models/flights.malloy'")
		requireProblem(t, err, "Unresolved import")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := compileWith(t, files, "import { a } from './missing.malloy'")
		requireProblem(t, err, "Unresolved import")
	})
}

func TestCompile_ImportCycle(t *testing.T) {
	files := MapReader{
		"a.malloy": "import 'b.malloy'\nsource: a is duckdb.table('a.csv')",
		"b.malloy": "import 'a.malloy'\nsource: b is duckdb.table('b.csv')",
	}
	_, err := newCompiler(files, knownConns("duckdb")).compileURL(context.Background(), "a.malloy")
	requireProblem(t, err, "Import cycle")
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		title string
	}{
		{"duplicate source", "source: a is duckdb.table('a.csv')\nsource: a is duckdb.table('b.csv')", "Duplicate source"},
		{"unknown connection", "source: a is bigquery.table('a')", "Unknown connection"},
		{"unknown alias", "source: a is b", "Unknown source"},
		{"unsupported expression", "source: a is duckdb.table('a.csv') extend { dimension: x is 1 }", "Unsupported source"},
		{"malformed definition", "source: duckdb.table('a.csv')", "Syntax error"},
		{"malformed query", "query: duckdb", "Syntax error"},
		{"empty run", "run:", "Syntax error"},
		{"stray text", "SELECT 1", "Syntax error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileWith(t, nil, tt.text)
			requireProblem(t, err, tt.title)
		})
	}
}

func TestCompile_RedefinitionIdentical(t *testing.T) {
	m, err := compileWith(t, nil, "source: a is duckdb.table('a.csv')\nsource: a is duckdb.table('a.csv')")
	require.NoError(t, err)
	assert.Len(t, m.SourceOrder, 1)
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		base, ref, want string
	}{
		{"", "flights.malloy", "flights.malloy"},
		{"nb.malloynb", "./flights.malloy", "flights.malloy"},
		{"sales/weekly.malloynb", "./orders.malloy", "sales/orders.malloy"},
		{"sales/weekly.malloynb", "../shared/common.malloy", "shared/common.malloy"},
		{"sales/weekly.malloynb", "/shared/common.malloy", "shared/common.malloy"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveURL(tt.base, tt.ref), "%s + %s", tt.base, tt.ref)
	}
}

func requireProblem(t *testing.T, err error, title string) {
	t.Helper()
	require.Error(t, err)
	var me *ModelError
	var qe *QueryError
	require.True(t, errors.As(err, &me) || errors.As(err, &qe), "unexpected error type %T", err)

	titles := make([]string, 0)
	for _, d := range Problems(err) {
		titles = append(titles, d.Title)
	}
	assert.Contains(t, titles, title)
}
