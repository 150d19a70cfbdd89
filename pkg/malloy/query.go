package malloy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// FieldExpr is a named output field of a query.
type FieldExpr struct {
	Name string `json:"name"`
	Expr string `json:"expr"`
}

// OrderItem orders query output by a field name or 1-based position.
type OrderItem struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Query is a structured query against one source.
type Query struct {
	Source    *Source     `json:"source"`
	GroupBy   []FieldExpr `json:"group_by,omitempty"`
	Aggregate []FieldExpr `json:"aggregate,omitempty"`
	Select    []FieldExpr `json:"select,omitempty"`
	SelectAll bool        `json:"select_all,omitempty"`
	Where     []string    `json:"where,omitempty"`
	Having    []string    `json:"having,omitempty"`
	OrderBy   []OrderItem `json:"order_by,omitempty"`
	Limit     int         `json:"limit,omitempty"`
	// Text is the query expression the query was parsed from.
	Text string `json:"text"`
}

// Fields returns the output fields in column order.
func (q *Query) Fields() []FieldExpr {
	if len(q.Select) > 0 {
		return q.Select
	}
	out := make([]FieldExpr, 0, len(q.GroupBy)+len(q.Aggregate))
	out = append(out, q.GroupBy...)
	return append(out, q.Aggregate...)
}

var (
	arrowPattern  = regexp.MustCompile(`(?s)^([A-Za-z_]\w*)\s*->\s*(\{.*\})$`)
	clausePattern = regexp.MustCompile(`\b([a-z_]+)\s*:`)
	orderPattern  = regexp.MustCompile(`(?is)^(.+?)(?:\s+(asc|desc))?$`)
	fieldPattern  = regexp.MustCompile("^(?:[A-Za-z_][\\w.]*|`[^`]+`)$")
)

var supportedClauses = map[string]bool{
	"group_by":  true,
	"aggregate": true,
	"select":    true,
	"project":   true,
	"where":     true,
	"having":    true,
	"order_by":  true,
	"limit":     true,
	"top":       true,
}

var knownClauses = map[string]bool{
	"nest":         true,
	"calculate":    true,
	"index":        true,
	"declare":      true,
	"extend":       true,
	"join_one":     true,
	"join_many":    true,
	"join_cross":   true,
	"dimension":    true,
	"measure":      true,
	"sample":       true,
	"timezone":     true,
	"partition_by": true,
}

// ParseQuery parses expr, a query expression or the name of a named query,
// against m. It returns a nil query without error when expr is not a
// structured query.
func ParseQuery(m *Model, expr string) (*Query, error) {
	expr, err := resolveNamed(m, strings.TrimSpace(expr))
	if err != nil {
		return nil, err
	}
	return parseStructured(m, expr)
}

// parseStructured parses a "source -> { ... }" query expression against m.
// It returns a nil query without error when expr is not of that shape.
func parseStructured(m *Model, expr string) (*Query, error) {
	p := arrowPattern.FindStringSubmatch(strings.TrimSpace(expr))
	if p == nil {
		return nil, nil
	}
	block := p[2]
	if matchingBrace(block, 0) != len(block)-1 {
		// pipelines of several stages
		return nil, nil
	}

	src, ok := m.Source(p[1])
	if !ok {
		return nil, &QueryError{Problems: []Diagnostic{
			errorDiag(0, "Unknown source", "source '%s' is not defined", p[1]),
		}}
	}

	q := &Query{Source: src, Text: strings.TrimSpace(expr)}
	if diags := q.parseClauses(block[1 : len(block)-1]); len(diags) > 0 {
		return nil, &QueryError{Problems: diags}
	}
	return q, nil
}

func (q *Query) parseClauses(body string) []Diagnostic {
	mask := topLevelMask(body)
	var clauses [][]int
	for _, loc := range clausePattern.FindAllStringSubmatchIndex(body, -1) {
		keyword := body[loc[2]:loc[3]]
		if !mask[loc[0]] || (!supportedClauses[keyword] && !knownClauses[keyword]) {
			continue
		}
		// x::type is a cast, not a clause
		if loc[1] < len(body) && body[loc[1]] == ':' {
			continue
		}
		clauses = append(clauses, loc)
	}

	if len(clauses) == 0 {
		return []Diagnostic{errorDiag(0, "Syntax error", "query block has no clauses")}
	}
	if lead := strings.Trim(body[:clauses[0][0]], " \t\r\n;"); lead != "" {
		return []Diagnostic{errorDiag(0, "Syntax error", "unexpected %q in query block", truncate(lead, 40))}
	}

	var diags []Diagnostic
	for n, loc := range clauses {
		end := len(body)
		if n+1 < len(clauses) {
			end = clauses[n+1][0]
		}
		keyword := body[loc[2]:loc[3]]
		text := body[loc[1]:end]
		if !supportedClauses[keyword] {
			diags = append(diags, errorDiag(0, "Unsupported clause", "'%s:' is not supported", keyword))
			continue
		}
		diags = append(diags, q.applyClause(keyword, splitItems(text))...)
	}
	if len(diags) > 0 {
		return diags
	}
	return q.check()
}

func (q *Query) applyClause(keyword string, items []string) []Diagnostic {
	var diags []Diagnostic
	switch keyword {
	case "group_by":
		for _, it := range items {
			f, err := parseField(it, false)
			if err != nil {
				diags = append(diags, errorDiag(0, "Syntax error", "group_by: %v", err))
				continue
			}
			q.GroupBy = append(q.GroupBy, f)
		}
	case "aggregate":
		for _, it := range items {
			f, err := parseField(it, true)
			if err != nil {
				diags = append(diags, errorDiag(0, "Syntax error", "aggregate: %v", err))
				continue
			}
			q.Aggregate = append(q.Aggregate, f)
		}
	case "select", "project":
		for _, it := range items {
			if it == "*" {
				q.SelectAll = true
				continue
			}
			f, err := parseField(it, false)
			if err != nil {
				diags = append(diags, errorDiag(0, "Syntax error", "%s: %v", keyword, err))
				continue
			}
			q.Select = append(q.Select, f)
		}
	case "where":
		q.Where = append(q.Where, items...)
	case "having":
		q.Having = append(q.Having, items...)
	case "order_by":
		for _, it := range items {
			op := orderPattern.FindStringSubmatch(it)
			if op == nil {
				diags = append(diags, errorDiag(0, "Syntax error", "%s: cannot parse %q", keyword, it))
				continue
			}
			q.OrderBy = append(q.OrderBy, OrderItem{
				Field: strings.TrimSpace(op[1]),
				Desc:  strings.EqualFold(op[2], "desc"),
			})
		}
	case "limit", "top":
		if len(items) != 1 {
			return []Diagnostic{errorDiag(0, "Syntax error", "%s: expected a single integer", keyword)}
		}
		n, err := strconv.Atoi(items[0])
		if err != nil || n < 0 {
			return []Diagnostic{errorDiag(0, "Syntax error", "%s: %q is not a non-negative integer", keyword, items[0])}
		}
		q.Limit = n
	}
	return diags
}

func (q *Query) check() []Diagnostic {
	projecting := len(q.Select) > 0 || q.SelectAll
	grouping := len(q.GroupBy) > 0 || len(q.Aggregate) > 0
	switch {
	case projecting && grouping:
		return []Diagnostic{errorDiag(0, "Invalid query", "select cannot be combined with group_by or aggregate")}
	case !projecting && !grouping:
		return []Diagnostic{errorDiag(0, "Invalid query", "query has no output fields")}
	case len(q.Having) > 0 && len(q.Aggregate) == 0:
		return []Diagnostic{errorDiag(0, "Invalid query", "having requires an aggregate")}
	}

	seen := make(map[string]bool)
	for _, f := range q.Fields() {
		if seen[f.Name] {
			return []Diagnostic{errorDiag(0, "Invalid query", "field '%s' is defined more than once", f.Name)}
		}
		seen[f.Name] = true
	}
	return nil
}

// parseField parses "name is expr" or a bare field reference.
func parseField(item string, named bool) (FieldExpr, error) {
	if name, expr, ok := splitDefinition(item); ok {
		return FieldExpr{Name: name, Expr: expr}, nil
	}
	if named || !fieldPattern.MatchString(item) {
		return FieldExpr{}, fmt.Errorf("expected 'name is <expression>', got %q", truncate(item, 40))
	}
	name := strings.Trim(item, "`")
	if i := strings.LastIndexByte(name, '.'); i >= 0 && !strings.HasPrefix(item, "`") {
		name = name[i+1:]
	}
	return FieldExpr{Name: name, Expr: item}, nil
}

// splitItems splits clause text on top-level commas, semicolons and
// newlines.
func splitItems(text string) []string {
	mask := topLevelMask(text)
	var items []string
	start := 0
	for i := 0; i <= len(text); i++ {
		if i < len(text) && !(mask[i] && (text[i] == ',' || text[i] == ';' || text[i] == '\n')) {
			continue
		}
		if it := strings.TrimSpace(text[start:i]); it != "" {
			items = append(items, it)
		}
		start = i + 1
	}
	return items
}

// topLevelMask marks the byte positions of s that lie outside strings and
// brackets.
func topLevelMask(s string) []bool {
	mask := make([]bool, len(s))
	depth := 0
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case strings.HasPrefix(s[i:], `"""`):
			end := strings.Index(s[i+3:], `"""`)
			if end < 0 {
				return mask
			}
			i += 3 + end + 3
			continue
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(s, i)
			continue
		case c == '(' || c == '[' || c == '{':
			mask[i] = depth == 0
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
			mask[i] = depth == 0
		default:
			mask[i] = depth == 0
		}
		i++
	}
	return mask
}

// matchingBrace returns the index of the bracket closing the one at open,
// or -1.
func matchingBrace(s string, open int) int {
	depth := 0
	for i := open; i < len(s); {
		c := s[i]
		switch {
		case strings.HasPrefix(s[i:], `"""`):
			end := strings.Index(s[i+3:], `"""`)
			if end < 0 {
				return -1
			}
			i += 3 + end + 3
			continue
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(s, i)
			continue
		case c == '{' || c == '(' || c == '[':
			depth++
		case c == '}' || c == ')' || c == ']':
			depth--
			if depth == 0 {
				return i
			}
		}
		i++
	}
	return -1
}
