package malloy

import (
	"strings"
)

// Statement keywords recognized at the top level of a model.
const (
	keywordImport = "import"
	keywordSource = "source"
	keywordQuery  = "query"
	keywordRun    = "run"
)

type statement struct {
	keyword string
	body    string
	line    int
}

var statementPrefixes = []struct {
	prefix  string
	keyword string
}{
	{"source:", keywordSource},
	{"query:", keywordQuery},
	{"run:", keywordRun},
	{"import", keywordImport},
}

// splitStatements breaks model text into top-level statements. A statement
// starts at a keyword that begins a line outside of any string, comment or
// bracket, and runs until the next one.
func splitStatements(text string) ([]statement, []Diagnostic) {
	clean, diags := stripComments(text)

	type start struct {
		keyword   string
		bodyStart int
		pos       int
		line      int
	}
	var starts []start

	depth := 0
	line := 1
	lineBlank := true
	for i := 0; i < len(clean); {
		c := clean[i]
		if c == '\n' {
			line++
			lineBlank = true
			i++
			continue
		}
		if c == ' ' || c == '\t' || c == '\r' {
			i++
			continue
		}

		if lineBlank && depth == 0 {
			for _, p := range statementPrefixes {
				if matchKeyword(clean[i:], p.prefix) {
					starts = append(starts, start{keyword: p.keyword, bodyStart: i + len(p.prefix), pos: i, line: line})
					break
				}
			}
		}
		lineBlank = false

		switch {
		case strings.HasPrefix(clean[i:], `"""`):
			end := strings.Index(clean[i+3:], `"""`)
			if end < 0 {
				// reported by stripComments
				i = len(clean)
				continue
			}
			line += strings.Count(clean[i:i+3+end+3], "\n")
			i += 3 + end + 3
			continue
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(clean, i)
			continue
		case c == '{' || c == '(' || c == '[':
			depth++
		case c == '}' || c == ')' || c == ']':
			depth--
			if depth < 0 {
				diags = append(diags, errorDiag(line, "Syntax error", "unexpected %q", string(c)))
				depth = 0
			}
		}
		i++
	}
	if depth > 0 {
		diags = append(diags, errorDiag(line, "Syntax error", "unbalanced brackets at end of input"))
	}

	firstPos := len(clean)
	if len(starts) > 0 {
		firstPos = starts[0].pos
	}
	if lead := strings.TrimSpace(clean[:firstPos]); lead != "" {
		diags = append(diags, errorDiag(1, "Syntax error", "unexpected text %q, expected a statement", truncate(lead, 40)))
	}

	stmts := make([]statement, 0, len(starts))
	for n, s := range starts {
		end := len(clean)
		if n+1 < len(starts) {
			end = starts[n+1].pos
		}
		body := strings.TrimSpace(clean[s.bodyStart:end])
		body = strings.TrimSpace(strings.TrimSuffix(body, ";"))
		stmts = append(stmts, statement{keyword: s.keyword, body: body, line: s.line})
	}
	return stmts, diags
}

// matchKeyword reports whether s starts with prefix as a whole word. The
// colon-terminated prefixes are self-delimiting; "import" must be followed
// by a space, brace or quote.
func matchKeyword(s, prefix string) bool {
	if !strings.HasPrefix(s, prefix) {
		return false
	}
	if strings.HasSuffix(prefix, ":") {
		return true
	}
	if len(s) == len(prefix) {
		return false
	}
	switch s[len(prefix)] {
	case ' ', '\t', '{', '\'', '"':
		return true
	}
	return false
}

// skipQuoted returns the index just past the quoted string starting at i.
// An unterminated string extends to the end of its line.
func skipQuoted(s string, i int) int {
	q := s[i]
	j := i + 1
	for j < len(s) {
		switch s[j] {
		case '\\':
			j += 2
			continue
		case '\n':
			return j
		case q:
			return j + 1
		}
		j++
	}
	return j
}

// stripComments blanks out // and -- line comments and # annotation lines,
// preserving string contents and line structure.
func stripComments(text string) (string, []Diagnostic) {
	var diags []Diagnostic
	out := []byte(text)
	line := 1
	lineBlank := true

	blank := func(from, to int) {
		for k := from; k < to; k++ {
			if out[k] != '\n' {
				out[k] = ' '
			}
		}
	}
	lineEnd := func(i int) int {
		if n := strings.IndexByte(text[i:], '\n'); n >= 0 {
			return i + n
		}
		return len(text)
	}

	for i := 0; i < len(text); {
		c := text[i]
		switch {
		case c == '\n':
			line++
			lineBlank = true
			i++
			continue
		case c == ' ' || c == '\t' || c == '\r':
			i++
			continue
		case c == '#' && lineBlank:
			end := lineEnd(i)
			blank(i, end)
			i = end
			continue
		case strings.HasPrefix(text[i:], "//") || strings.HasPrefix(text[i:], "--"):
			end := lineEnd(i)
			blank(i, end)
			i = end
			continue
		case strings.HasPrefix(text[i:], `"""`):
			end := strings.Index(text[i+3:], `"""`)
			if end < 0 {
				diags = append(diags, errorDiag(line, "Syntax error", "unterminated triple-quoted string"))
				return string(out), diags
			}
			line += strings.Count(text[i:i+3+end+3], "\n")
			i += 3 + end + 3
		case c == '\'' || c == '"' || c == '`':
			j := skipQuoted(text, i)
			if j > len(text) || j == i+1 || text[j-1] != c {
				diags = append(diags, errorDiag(line, "Syntax error", "unterminated string"))
			}
			i = j
		default:
			i++
		}
		lineBlank = false
	}
	return string(out), diags
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
