package malloy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/malloynb/pkg/adapter"
)

// sourceAlias names the CTE that wraps a query's source.
const sourceAlias = "__malloynb_source"

// SQL compiles the query for the given adapter.
func (q *Query) SQL(a adapter.Adapter) string {
	quote := a.QuoteIdentifier
	var b strings.Builder

	fmt.Fprintf(&b, "WITH %s AS (\n%s\n)\n", sourceAlias, sourceSelect(q.Source, a))

	b.WriteString("SELECT ")
	var cols []string
	if q.SelectAll {
		cols = append(cols, "*")
	}
	for _, f := range q.Fields() {
		cols = append(cols, translateExpr(f.Expr, quote)+" AS "+quote(f.Name))
	}
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString("\nFROM " + sourceAlias)

	if len(q.Where) > 0 {
		b.WriteString("\nWHERE " + joinConditions(q.Where, quote))
	}
	if len(q.GroupBy) > 0 {
		b.WriteString("\nGROUP BY " + strings.Join(positions(len(q.GroupBy)), ", "))
	}
	if len(q.Having) > 0 {
		b.WriteString("\nHAVING " + joinConditions(q.Having, quote))
	}
	if order := q.orderClause(quote); order != "" {
		b.WriteString("\nORDER BY " + order)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, "\nLIMIT %d", q.Limit)
	}
	return b.String()
}

// orderClause renders ORDER BY. Without an explicit order, aggregating
// queries sort by their first aggregate descending and grouping-only queries
// by their first dimension.
func (q *Query) orderClause(quote func(string) string) string {
	if len(q.OrderBy) == 0 {
		switch {
		case len(q.Aggregate) > 0:
			return quote(q.Aggregate[0].Name) + " DESC"
		case len(q.GroupBy) > 0:
			return quote(q.GroupBy[0].Name) + " ASC"
		}
		return ""
	}

	outputs := make(map[string]bool)
	for _, f := range q.Fields() {
		outputs[f.Name] = true
	}
	parts := make([]string, len(q.OrderBy))
	for i, o := range q.OrderBy {
		ref := o.Field
		switch {
		case outputs[strings.Trim(ref, "`")]:
			ref = quote(strings.Trim(ref, "`"))
		case isInteger(ref):
		default:
			ref = translateExpr(ref, quote)
		}
		dir := " ASC"
		if o.Desc {
			dir = " DESC"
		}
		parts[i] = ref + dir
	}
	return strings.Join(parts, ", ")
}

func sourceSelect(s *Source, a adapter.Adapter) string {
	return strings.TrimRight(strings.TrimSpace(s.SQL(a)), ";")
}

func joinConditions(conds []string, quote func(string) string) string {
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = "(" + translateExpr(c, quote) + ")"
	}
	return strings.Join(parts, " AND ")
}

func positions(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(i + 1)
	}
	return out
}

func isInteger(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}
