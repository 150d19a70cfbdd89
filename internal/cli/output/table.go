package output

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/leapstack-labs/malloynb/pkg/malloy"
)

// Table writes rows under header, as a boxed table in text mode or a
// markdown table otherwise.
func (r *Renderer) Table(header []string, rows [][]string) {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleLight)
	// field names are case sensitive
	t.Style().Format.Header = text.FormatDefault

	headerRow := make(table.Row, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	t.AppendHeader(headerRow)

	for _, row := range rows {
		tr := make(table.Row, len(row))
		for i, v := range row {
			tr[i] = v
		}
		t.AppendRow(tr)
	}

	if r.EffectiveMode() == ModeMarkdown {
		t.RenderMarkdown()
		return
	}
	t.Render()
}

// Result writes a query result as a table followed by its row count.
func (r *Renderer) Result(res *malloy.Result) {
	if res == nil {
		return
	}
	if res.Definitions {
		r.Muted("(definitions only)")
		return
	}
	if len(res.Rows) == 0 {
		r.Println("(0 rows)")
		return
	}

	header := make([]string, len(res.Columns))
	for i, c := range res.Columns {
		header[i] = c.Name
	}
	rows := make([][]string, len(res.Rows))
	for i, row := range res.Rows {
		rows[i] = make([]string, len(row))
		for j, v := range row {
			rows[i][j] = FormatValue(v)
		}
	}
	r.Table(header, rows)

	count := fmt.Sprintf("(%d rows)", res.RowCount())
	if res.Truncated {
		count = fmt.Sprintf("(%d rows, truncated)", res.RowCount())
	}
	r.Println(count)
}

// FormatValue renders a result value for display.
func FormatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case time.Time:
		if v.Hour() == 0 && v.Minute() == 0 && v.Second() == 0 && v.Nanosecond() == 0 {
			return v.Format(time.DateOnly)
		}
		return v.Format(time.DateTime)
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
