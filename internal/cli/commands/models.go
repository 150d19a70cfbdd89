package commands

import (
	"fmt"

	"github.com/leapstack-labs/malloynb/internal/cache"
	"github.com/leapstack-labs/malloynb/internal/cli/output"
	"github.com/leapstack-labs/malloynb/pkg/malloy"
	"github.com/leapstack-labs/malloynb/pkg/notebook"
	"github.com/spf13/cobra"
)

// modelStatus is one row of the models listing.
type modelStatus struct {
	cache.ModelView
	Problems []malloy.Diagnostic `json:"problems,omitempty"`
}

// NewModelsCommand creates the models command.
func NewModelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models and their sources",
		Long: `Compile every .malloy file in the models directory and list the sources and
named queries each declares. Models that fail to compile are listed with
their problems.`,
		Example: `  malloynb models
  malloynb models -o json`,
		Args: cobra.NoArgs,
		RunE: runModels,
	}
}

func runModels(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer

	names, err := notebook.ListModels(cmdCtx.Cfg.ModelsDir)
	if err != nil {
		return err
	}

	rt := cmdCtx.NewRuntime()
	defer func() { _ = rt.Close() }()
	c := cmdCtx.NewCache(rt)

	models := make([]modelStatus, 0, len(names))
	for _, name := range names {
		entry, err := c.LoadModel(ctx, name)
		if err != nil {
			models = append(models, modelStatus{ModelView: cache.ModelView{Name: name}, Problems: malloy.Problems(err)})
			continue
		}
		models = append(models, modelStatus{ModelView: entry.View()})
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(models)
	}
	if len(models) == 0 {
		r.Muted(fmt.Sprintf("No models found in %s", cmdCtx.Cfg.ModelsDir))
		return nil
	}

	rows := make([][]string, 0, len(models))
	for _, m := range models {
		if len(m.Problems) > 0 {
			rows = append(rows, []string{m.Name, "", "", m.Problems[0].String()})
			continue
		}
		for _, s := range m.Sources {
			rows = append(rows, []string{m.Name, s.Name, s.Connection, string(s.Kind) + " " + s.Ref})
		}
		for _, q := range m.Queries {
			rows = append(rows, []string{m.Name, q, "", "query"})
		}
	}
	r.Table([]string{"Model", "Name", "Connection", "Definition"}, rows)
	return nil
}
