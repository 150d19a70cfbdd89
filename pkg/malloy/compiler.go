package malloy

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

var (
	importBodyPattern = regexp.MustCompile(`(?s)^(?:([A-Za-z_]\w*)\s*,?\s*)?(?:\{([^}]*)\}\s*)?(?:from\s+)?(?:'([^']*)'|"([^"]*)")$`)
	definitionPattern = regexp.MustCompile(`(?s)^([A-Za-z_]\w*)\s+is\s+(.+)$`)
	tableExprPattern  = regexp.MustCompile(`(?s)^([A-Za-z_]\w*)\.table\s*\(\s*(?:'([^']*)'|"([^"]*)")\s*\)$`)
	sqlExprPattern    = regexp.MustCompile(`(?s)^([A-Za-z_]\w*)\.sql\s*\(\s*(?:"""(.*?)"""|'([^']*)'|"([^"]*)")\s*\)$`)
	identPattern      = regexp.MustCompile(`^[A-Za-z_]\w*$`)
)

// compiler compiles one model and its transitive imports. Each imported URL
// is compiled at most once per compiler.
type compiler struct {
	reader   URLReader
	hasConn  func(string) bool
	compiled map[string]*Model
	visiting map[string]bool
}

func newCompiler(reader URLReader, hasConn func(string) bool) *compiler {
	return &compiler{
		reader:   reader,
		hasConn:  hasConn,
		compiled: make(map[string]*Model),
		visiting: make(map[string]bool),
	}
}

func (c *compiler) compileURL(ctx context.Context, url string) (*Model, error) {
	if m, ok := c.compiled[url]; ok {
		return m, nil
	}
	if c.visiting[url] {
		return nil, &ModelError{URL: url, Problems: []Diagnostic{
			errorDiag(0, "Import cycle", "%s imports itself", url),
		}}
	}
	if c.reader == nil {
		return nil, &ModelError{URL: url, Problems: []Diagnostic{
			errorDiag(0, "Unresolved import", "no reader configured for %s", url),
		}}
	}

	c.visiting[url] = true
	defer delete(c.visiting, url)

	text, err := c.reader.ReadURL(ctx, url)
	if err != nil {
		return nil, &ModelError{URL: url, Err: err, Problems: []Diagnostic{
			errorDiag(0, "Unresolved import", "%v", err),
		}}
	}
	m, err := c.compileText(ctx, url, text, nil)
	if err != nil {
		return nil, err
	}
	c.compiled[url] = m
	return m, nil
}

// compileText compiles text as the model at url. When base is non-nil the
// text extends a copy of base instead of starting empty.
func (c *compiler) compileText(ctx context.Context, url, text string, base *Model) (*Model, error) {
	m := newModel(url)
	if base != nil {
		m = base.clone()
	}

	stmts, diags := splitStatements(text)
	for _, st := range stmts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch st.keyword {
		case keywordImport:
			diags = append(diags, c.importInto(ctx, m, url, st)...)
		case keywordSource:
			diags = append(diags, c.defineSource(m, url, st)...)
		case keywordQuery:
			name, expr, ok := splitDefinition(st.body)
			if !ok {
				diags = append(diags, errorDiag(st.line, "Syntax error", "expected 'query: name is <query>'"))
				continue
			}
			m.Queries[name] = expr
		case keywordRun:
			if st.body == "" {
				diags = append(diags, errorDiag(st.line, "Syntax error", "empty run statement"))
				continue
			}
			m.Runs = append(m.Runs, st.body)
		}
	}

	if hasErrors(diags) {
		return nil, &ModelError{URL: url, Problems: diags}
	}
	return m, nil
}

func (c *compiler) importInto(ctx context.Context, m *Model, url string, st statement) []Diagnostic {
	parts := importBodyPattern.FindStringSubmatch(st.body)
	if parts == nil {
		return []Diagnostic{errorDiag(st.line, "Syntax error", "malformed import %q", truncate(st.body, 60))}
	}
	ref := parts[3]
	if ref == "" {
		ref = parts[4]
	}
	target := ResolveURL(url, ref)

	imported, err := c.compileURL(ctx, target)
	if err != nil {
		var me *ModelError
		if errors.As(err, &me) {
			out := make([]Diagnostic, len(me.Problems))
			for i, d := range me.Problems {
				d.Line = st.line
				if d.Title != "Unresolved import" && d.Title != "Import cycle" {
					d.Content = target + ": " + d.Content
				}
				out[i] = d
			}
			return out
		}
		return []Diagnostic{errorDiag(st.line, "Unresolved import", "%v", err)}
	}
	m.Imports = append(m.Imports, target)

	var diags []Diagnostic
	if parts[2] == "" {
		for _, s := range imported.ListSources() {
			diags = append(diags, addSource(m, s, st.line)...)
		}
		return diags
	}
	for _, name := range strings.Split(parts[2], ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		s, ok := imported.Source(name)
		if !ok {
			diags = append(diags, errorDiag(st.line, "Unresolved import", "%s does not define source '%s'", target, name))
			continue
		}
		diags = append(diags, addSource(m, s, st.line)...)
	}
	return diags
}

func (c *compiler) defineSource(m *Model, url string, st statement) []Diagnostic {
	name, expr, ok := splitDefinition(st.body)
	if !ok {
		return []Diagnostic{errorDiag(st.line, "Syntax error", "expected 'source: name is <source>'")}
	}

	src := &Source{Name: name, Origin: url}
	switch {
	case tableExprPattern.MatchString(expr):
		p := tableExprPattern.FindStringSubmatch(expr)
		src.Connection, src.Kind, src.Ref = p[1], SourceKindTable, firstNonEmpty(p[2], p[3])
	case sqlExprPattern.MatchString(expr):
		p := sqlExprPattern.FindStringSubmatch(expr)
		src.Connection, src.Kind = p[1], SourceKindSQL
		src.Ref = strings.TrimSpace(firstNonEmpty(p[2], p[3], p[4]))
	case identPattern.MatchString(expr):
		base, ok := m.Source(expr)
		if !ok {
			return []Diagnostic{errorDiag(st.line, "Unknown source", "source '%s' is not defined", expr)}
		}
		src.Connection, src.Kind, src.Ref = base.Connection, base.Kind, base.Ref
	default:
		return []Diagnostic{errorDiag(st.line, "Unsupported source", "cannot interpret source expression %q", truncate(expr, 60))}
	}

	if c.hasConn != nil && !c.hasConn(src.Connection) {
		return []Diagnostic{errorDiag(st.line, "Unknown connection", "connection '%s' is not configured", src.Connection)}
	}
	if src.Ref == "" {
		return []Diagnostic{errorDiag(st.line, "Syntax error", "source '%s' has an empty %s reference", name, src.Kind)}
	}
	return addSource(m, src, st.line)
}

// addSource declares s in m. Redeclaring a name with an identical
// definition is a no-op.
func addSource(m *Model, s *Source, line int) []Diagnostic {
	if existing, ok := m.Sources[s.Name]; ok {
		if existing.sameDefinition(s) {
			return nil
		}
		return []Diagnostic{errorDiag(line, "Duplicate source", "source '%s' is already defined", s.Name)}
	}
	m.Sources[s.Name] = s
	m.SourceOrder = append(m.SourceOrder, s.Name)
	return nil
}

func splitDefinition(body string) (name, expr string, ok bool) {
	p := definitionPattern.FindStringSubmatch(body)
	if p == nil {
		return "", "", false
	}
	return p[1], strings.TrimSpace(p[2]), true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
