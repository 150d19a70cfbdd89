package commands

import (
	"fmt"

	"github.com/leapstack-labs/malloynb/internal/cli/output"
	"github.com/spf13/cobra"
)

// SourceOptions holds options for the source command.
type SourceOptions struct {
	TopValues bool
}

// NewSourceCommand creates the source command.
func NewSourceCommand() *cobra.Command {
	opts := &SourceOptions{}

	cmd := &cobra.Command{
		Use:   "source <model> <source>",
		Short: "Describe a source's fields",
		Long: `Describe the fields of a source declared in a model. With --top-values the
most frequent values of each string field are listed as well.`,
		Example: `  malloynb source flights flights
  malloynb source models/airports airports --top-values`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSource(cmd, args[0], args[1], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.TopValues, "top-values", false, "Include the most frequent values of string fields")

	return cmd
}

func runSource(cmd *cobra.Command, model, source string, opts *SourceOptions) error {
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer

	rt := cmdCtx.NewRuntime()
	defer func() { _ = rt.Close() }()

	entry, err := cmdCtx.NewCache(rt).LoadSource(cmd.Context(), model, source, opts.TopValues)
	if err != nil {
		return err
	}
	view := entry.View()

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(view)
	}

	r.Header(1, fmt.Sprintf("%s (%s)", view.Source, view.Model))
	fields := make([][]string, len(view.Fields))
	for i, f := range view.Fields {
		fields[i] = []string{f.Name, f.Type}
	}
	r.Table([]string{"Field", "Type"}, fields)

	if len(view.TopValues) == 0 {
		return nil
	}
	r.Println("")
	r.Header(2, "Top values")
	var rows [][]string
	for _, fv := range view.TopValues {
		for _, v := range fv.Values {
			rows = append(rows, []string{fv.Field, output.FormatValue(v.Value), fmt.Sprintf("%d", v.Count)})
		}
	}
	r.Table([]string{"Field", "Value", "Count"}, rows)
	return nil
}
