package commands

import (
	"github.com/leapstack-labs/malloynb/internal/cli/output"
	"github.com/leapstack-labs/malloynb/pkg/notebook"
	"github.com/spf13/cobra"
)

// NewSourcesCommand creates the sources command.
func NewSourcesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sources <notebook>",
		Short: "List the sources a notebook imports",
		Long: `List the sources a notebook imports from model files, in the order they are
first imported. When a name is imported more than once the first import wins.`,
		Example: `  malloynb sources flights
  malloynb sources reports/weekly.malloynb -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx := NewCommandContext(cmd)
			r := cmdCtx.Renderer

			_, path, err := resolveNotebook(cmdCtx.Cfg, args[0])
			if err != nil {
				return err
			}
			nb, err := notebook.ParseFile(path)
			if err != nil {
				return err
			}
			refs := nb.Sources()

			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(refs)
			}
			if len(refs) == 0 {
				r.Muted("No imported sources")
				return nil
			}
			rows := make([][]string, len(refs))
			for i, ref := range refs {
				rows[i] = []string{ref.Name, ref.Model}
			}
			r.Table([]string{"Source", "Model"}, rows)
			return nil
		},
	}
}
