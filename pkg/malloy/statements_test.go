package malloy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		keywords []string
		bodies   []string
	}{
		{
			name:     "one per line",
			text:     "source: a is duckdb.table('a.csv')\nrun: a -> { select: * }",
			keywords: []string{"source", "run"},
			bodies:   []string{"a is duckdb.table('a.csv')", "a -> { select: * }"},
		},
		{
			name: "multi-line block",
			text: "run: a -> {\n  group_by: x\n  aggregate: n is count()\n}\n",
			keywords: []string{"run"},
			bodies:   []string{"a -> {\n  group_by: x\n  aggregate: n is count()\n}"},
		},
		{
			name:     "keyword inside triple-quoted sql",
			text:     "source: s is duckdb.sql(\"\"\"\nrun: not a statement\n\"\"\")",
			keywords: []string{"source"},
		},
		{
			name:     "comments ignored",
			text:     "// header\n-- another\nsource: a is b // trailing\n# annotation\nrun: a",
			keywords: []string{"source", "run"},
			bodies:   []string{"a is b", "a"},
		},
		{
			name:     "imports",
			text:     "import { a, b } from './m.malloy'\nimport \"x.malloy\"",
			keywords: []string{"import", "import"},
			bodies:   []string{"{ a, b } from './m.malloy'", "\"x.malloy\""},
		},
		{
			name:     "identifier starting with import is not a statement",
			text:     "run: a -> {\nselect: important\n}",
			keywords: []string{"run"},
		},
		{
			name:     "trailing semicolon",
			text:     "run: a -> { select: * };",
			keywords: []string{"run"},
			bodies:   []string{"a -> { select: * }"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmts, diags := splitStatements(tt.text)
			assert.Empty(t, diags)

			keywords := make([]string, len(stmts))
			for i, s := range stmts {
				keywords[i] = s.keyword
			}
			assert.Equal(t, tt.keywords, keywords)

			if tt.bodies != nil {
				bodies := make([]string, len(stmts))
				for i, s := range stmts {
					bodies[i] = s.body
				}
				assert.Equal(t, tt.bodies, bodies)
			}
		})
	}
}

func TestSplitStatements_LineNumbers(t *testing.T) {
	stmts, diags := splitStatements("\n\nsource: a is b\n\nrun: a")
	require.Empty(t, diags)
	require.Len(t, stmts, 2)
	assert.Equal(t, 3, stmts[0].line)
	assert.Equal(t, 5, stmts[1].line)
}

func TestSplitStatements_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"leading text", "hello\nrun: a"},
		{"unbalanced brace", "run: a -> {\n group_by: x"},
		{"unterminated triple quote", "source: s is duckdb.sql(\"\"\"SELECT 1"},
		{"unterminated string", "source: a is duckdb.table('a.csv)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, diags := splitStatements(tt.text)
			require.NotEmpty(t, diags)
			assert.Equal(t, SeverityError, diags[0].Severity)
		})
	}
}
