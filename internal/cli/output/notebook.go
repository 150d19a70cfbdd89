package output

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/malloynb/internal/executor"
	"github.com/leapstack-labs/malloynb/pkg/malloy"
)

// Notebook writes an executed notebook. Markdown cells pass through, malloy
// cells are shown with their code and then their result or problems.
func (r *Renderer) Notebook(id string, out *executor.Output) error {
	if r.EffectiveMode() == ModeJSON {
		return r.JSON(out)
	}

	title := id
	if out.Metadata.HasTitle() {
		title = out.Metadata.Title
	}
	r.Header(1, title)
	if r.EffectiveMode() == ModeText {
		r.Println("")
	}

	for i, cell := range out.Cells {
		switch c := cell.(type) {
		case *executor.MarkdownOutput:
			r.Println(strings.TrimRight(c.Content, "\n"))
		case *executor.MalloyOutput:
			r.malloyCell(i, c)
		}
		r.Println("")
	}
	return nil
}

func (r *Renderer) malloyCell(index int, c *executor.MalloyOutput) {
	code := strings.TrimSpace(c.Code)
	if r.EffectiveMode() == ModeMarkdown {
		r.Println("```malloy")
		r.Println(code)
		r.Println("```")
		r.Println("")
	} else {
		r.Println(r.styles.Muted.Render(fmt.Sprintf("[%d]", index)) + " " + r.styles.Code.Render(code))
	}

	if c.Result == nil {
		return
	}
	if len(c.Result.Problems) > 0 {
		r.Problems(c.Result.Problems)
		return
	}
	r.Result(c.Result.Data)
}

// Problems writes query diagnostics, one per line.
func (r *Renderer) Problems(problems []malloy.Diagnostic) {
	for _, p := range problems {
		style := r.styles.Error
		icon := IconFailed
		if p.Severity != malloy.SeverityError {
			style = r.styles.Warning
			icon = IconWarning
		}
		if r.EffectiveMode() == ModeMarkdown {
			r.Printf("> **%s**\n", p.String())
			continue
		}
		r.Println(style.Render(icon + " " + p.String()))
	}
}
