package executor

import (
	"encoding/json"

	"github.com/leapstack-labs/malloynb/pkg/malloy"
	"github.com/leapstack-labs/malloynb/pkg/notebook"
)

// CellOutput is the output of one cell, either *MarkdownOutput or
// *MalloyOutput.
type CellOutput interface {
	Type() notebook.CellType
	isCellOutput()
}

// MarkdownOutput passes a markdown cell through unchanged.
type MarkdownOutput struct {
	Content string
}

// Type implements CellOutput.
func (*MarkdownOutput) Type() notebook.CellType { return notebook.CellTypeMarkdown }

func (*MarkdownOutput) isCellOutput() {}

// MalloyOutput pairs a malloy cell's code with its result. Result is nil when
// the cell held only imports.
type MalloyOutput struct {
	Code   string
	Result *QueryResult
}

// Type implements CellOutput.
func (*MalloyOutput) Type() notebook.CellType { return notebook.CellTypeMalloy }

func (*MalloyOutput) isCellOutput() {}

// Failed reports whether the cell's query failed.
func (o *MalloyOutput) Failed() bool {
	return o.Result != nil && len(o.Result.Problems) > 0
}

// QueryResult holds either result data or the problems that prevented it.
type QueryResult struct {
	Data     *malloy.Result      `json:"data,omitempty"`
	Problems []malloy.Diagnostic `json:"problems,omitempty"`
}

// Output is an executed notebook.
type Output struct {
	Cells    []CellOutput
	Metadata notebook.Metadata
}

// Failed counts the cells whose query failed.
func (o *Output) Failed() int {
	n := 0
	for _, c := range o.Cells {
		if m, ok := c.(*MalloyOutput); ok && m.Failed() {
			n++
		}
	}
	return n
}

type cellJSON struct {
	Type    notebook.CellType `json:"type"`
	Content string            `json:"content,omitempty"`
	Code    string            `json:"code,omitempty"`
	Result  *QueryResult      `json:"result,omitempty"`
}

// MarshalCell renders a cell output with its type tag.
func MarshalCell(c CellOutput) ([]byte, error) {
	return json.Marshal(toCellJSON(c))
}

func toCellJSON(c CellOutput) cellJSON {
	switch c := c.(type) {
	case *MarkdownOutput:
		return cellJSON{Type: notebook.CellTypeMarkdown, Content: c.Content}
	case *MalloyOutput:
		return cellJSON{Type: notebook.CellTypeMalloy, Code: c.Code, Result: c.Result}
	}
	return cellJSON{}
}

// MarshalJSON renders the output with tagged cells.
func (o *Output) MarshalJSON() ([]byte, error) {
	cells := make([]cellJSON, len(o.Cells))
	for i, c := range o.Cells {
		cells[i] = toCellJSON(c)
	}
	return json.Marshal(struct {
		Cells    []cellJSON        `json:"cells"`
		Metadata notebook.Metadata `json:"metadata"`
	}{cells, o.Metadata})
}
