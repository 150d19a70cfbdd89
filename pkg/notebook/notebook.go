// Package notebook parses Malloy notebook files into ordered markdown and
// malloy cells and extracts the cross-model imports those cells declare.
//
// A notebook is plain, line-oriented text:
//
//	>>>markdown
//	# Title
//	free text...
//	>>>malloy
//	import { flights } from './flights.malloy'
//	run: flights -> { aggregate: flight_count is count() }
//
// Everything up to the next delimiter (or EOF) belongs to the preceding cell.
package notebook

import "strings"

// CellType identifies the kind of a notebook cell.
type CellType string

// Cell types.
const (
	CellTypeMalloy   CellType = "malloy"
	CellTypeMarkdown CellType = "markdown"
)

// Cell is either a *MalloyCell or a *MarkdownCell.
// The unexported method keeps the set closed so a type switch over the two
// variants is exhaustive.
type Cell interface {
	Type() CellType
	isCell()
}

// MalloyCell holds query or model-definition source.
type MalloyCell struct {
	Code string `json:"code"`
}

// Type implements Cell.
func (*MalloyCell) Type() CellType { return CellTypeMalloy }

func (*MalloyCell) isCell() {}

// MarkdownCell holds prose.
type MarkdownCell struct {
	Content string `json:"content"`
}

// Type implements Cell.
func (*MarkdownCell) Type() CellType { return CellTypeMarkdown }

func (*MarkdownCell) isCell() {}

// Metadata is notebook-level information derived from its cells.
type Metadata struct {
	Title string `json:"title,omitempty"`
}

// HasTitle reports whether a title heading was found.
func (m Metadata) HasTitle() bool {
	return m.Title != ""
}

// Notebook is the parsed, immutable form of a notebook file.
type Notebook struct {
	Cells    []Cell   `json:"cells"`
	Metadata Metadata `json:"metadata"`
}

// MalloyCells returns the malloy cells in source order.
func (n *Notebook) MalloyCells() []*MalloyCell {
	var cells []*MalloyCell
	for _, c := range n.Cells {
		if mc, ok := c.(*MalloyCell); ok {
			cells = append(cells, mc)
		}
	}
	return cells
}

// ToModel concatenates the code of every malloy cell, newline-joined.
// The result is the compilable model source for the whole notebook.
func (n *Notebook) ToModel() string {
	cells := n.MalloyCells()
	parts := make([]string, len(cells))
	for i, c := range cells {
		parts[i] = c.Code
	}
	return strings.Join(parts, "\n")
}

// Sources returns the import references declared across the notebook's
// malloy cells.
func (n *Notebook) Sources() []SourceReference {
	return ExtractSources(n.MalloyCells())
}
