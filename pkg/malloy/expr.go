package malloy

import (
	"regexp"
	"strings"

	"github.com/leapstack-labs/malloynb/pkg/adapter"
)

var (
	methodAggPattern = regexp.MustCompile(`\b([A-Za-z_][\w.]*)\.(sum|avg|min|max|count)\(\s*\)`)
	countStarPattern = regexp.MustCompile(`\bcount\(\s*\)`)
	countExprPattern = regexp.MustCompile(`\bcount\(\s*(?:distinct\s+)?([^()]+?)\s*\)`)
	coalescePattern  = regexp.MustCompile(`([\w."]+)\s*\?\?\s*([\w."']+)`)
)

// translateExpr rewrites a field expression into SQL. String literals in
// either quote style become single-quoted SQL literals and backquoted names
// become quoted identifiers. Aggregate shorthands are expanded:
//
//	count()       COUNT(*)
//	count(x)      COUNT(DISTINCT x)
//	x.sum()       SUM(x)   (also avg, min, max, count)
//	a ?? b        COALESCE(a, b)
func translateExpr(expr string, quote func(string) string) string {
	var b strings.Builder
	var plain strings.Builder

	flush := func() {
		if plain.Len() > 0 {
			b.WriteString(rewriteAggregates(plain.String()))
			plain.Reset()
		}
	}

	for i := 0; i < len(expr); {
		c := expr[i]
		if c != '\'' && c != '"' && c != '`' {
			plain.WriteByte(c)
			i++
			continue
		}
		j := skipQuoted(expr, i)
		end := j - 1
		if end <= i || end >= len(expr) || expr[end] != c {
			end = j
		}
		content := unescapeQuoted(expr[i+1 : min(end, len(expr))])
		flush()
		if c == '`' {
			b.WriteString(quote(content))
		} else {
			b.WriteString(adapter.QuoteLiteral(content))
		}
		i = j
	}
	flush()
	return strings.TrimSpace(b.String())
}

func rewriteAggregates(s string) string {
	s = methodAggPattern.ReplaceAllStringFunc(s, func(m string) string {
		p := methodAggPattern.FindStringSubmatch(m)
		return strings.ToUpper(p[2]) + "(" + p[1] + ")"
	})
	s = countStarPattern.ReplaceAllString(s, "COUNT(*)")
	s = countExprPattern.ReplaceAllString(s, "COUNT(DISTINCT $1)")
	s = coalescePattern.ReplaceAllString(s, "COALESCE($1, $2)")
	return s
}

func unescapeQuoted(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
