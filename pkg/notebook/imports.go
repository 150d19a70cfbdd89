package notebook

import (
	"regexp"
	"strings"
)

// SourceReference is a source a notebook imports from another model.
// Model is the import path without a leading "./" and without the ".malloy"
// suffix, e.g. "./models/flights.malloy" becomes "models/flights".
type SourceReference struct {
	Name  string `json:"name"`
	Model string `json:"model"`
}

// ModelExtension is the extension of model files.
const ModelExtension = ".malloy"

// importPattern matches, across lines:
//
//	import { a, b } from './m.malloy'
//	import m from "./m.malloy"
//	import m, { a, b, } from './m.malloy'
var importPattern = regexp.MustCompile(
	`\bimport\s+(?:([A-Za-z_][A-Za-z0-9_]*)\s*,?\s*)?(?:\{([^}]*)\})?\s*from\s+['"]([^'"]+)['"]`,
)

// ExtractSources scans malloy cells in order for import statements and
// returns the referenced sources, deduplicated by name. The first reference
// to a name wins, even when a later cell imports the same name from a
// different model.
func ExtractSources(cells []*MalloyCell) []SourceReference {
	refs := []SourceReference{}
	seen := make(map[string]bool)

	for _, cell := range cells {
		for _, ref := range scanImports(cell.Code) {
			if seen[ref.Name] {
				continue
			}
			seen[ref.Name] = true
			refs = append(refs, ref)
		}
	}
	return refs
}

// scanImports returns every reference in code, in statement order, default
// import name first.
func scanImports(code string) []SourceReference {
	var refs []SourceReference

	for _, m := range importPattern.FindAllStringSubmatch(code, -1) {
		path := m[3]
		if !strings.HasSuffix(path, ModelExtension) {
			continue
		}
		model := ModelName(path)

		if def := m[1]; def != "" {
			refs = append(refs, SourceReference{Name: def, Model: model})
		}
		for _, name := range strings.Split(m[2], ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			refs = append(refs, SourceReference{Name: name, Model: model})
		}
	}
	return refs
}

// ModelName converts an import path into a model name.
func ModelName(importPath string) string {
	return strings.TrimSuffix(strings.TrimPrefix(importPath, "./"), ModelExtension)
}

// IsImportLine reports whether a line is an import statement. Import lines
// are model-assembly directives and are never executed as queries.
func IsImportLine(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "import ")
}

// StripImports removes import lines from code and trims the remainder.
// A multi-line import statement is removed as a whole.
func StripImports(code string) string {
	var b strings.Builder
	last := 0
	for _, loc := range importPattern.FindAllStringIndex(code, -1) {
		lineStart := strings.LastIndex(code[:loc[0]], "\n") + 1
		if strings.TrimSpace(code[lineStart:loc[0]]) != "" {
			continue
		}
		b.WriteString(code[last:loc[0]])
		last = loc[1]
	}
	b.WriteString(code[last:])

	lines := strings.Split(b.String(), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if IsImportLine(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
