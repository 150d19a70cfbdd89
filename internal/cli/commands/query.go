package commands

import (
	"github.com/leapstack-labs/malloynb/internal/cli/output"
	"github.com/spf13/cobra"
)

// QueryOptions holds options for the query command.
type QueryOptions struct {
	SQL bool
}

// NewQueryCommand creates the query command.
func NewQueryCommand() *cobra.Command {
	opts := &QueryOptions{}

	cmd := &cobra.Command{
		Use:   "query <model> <source> <query>",
		Short: "Run a query against a model's source",
		Long: `Run a query in the context of a model. The query is either a structured
query such as "flights -> { group_by: carrier }", a run statement, or a
named query declared in the model.`,
		Example: `  # Structured query
  malloynb query flights flights 'flights -> { group_by: carrier; aggregate: n is count() }'

  # Named query
  malloynb query flights flights 'run: by_carrier'

  # Show the SQL that ran instead of the rows
  malloynb query flights flights 'flights -> { select: * }' --sql`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args[0], args[1], args[2], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.SQL, "sql", false, "Print the SQL that ran instead of the rows")

	return cmd
}

func runQuery(cmd *cobra.Command, model, source, querySrc string, opts *QueryOptions) error {
	ctx := cmd.Context()
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer

	rt := cmdCtx.NewRuntime()
	defer func() { _ = rt.Close() }()
	c := cmdCtx.NewCache(rt)

	entry, err := c.LoadSource(ctx, model, source, false)
	if err != nil {
		return err
	}
	query, err := c.LoadQuery(ctx, entry, querySrc)
	if err != nil {
		return err
	}

	res, err := c.LoadQueryResult(ctx, entry, nil, query, querySrc)
	if err != nil {
		return err
	}
	if opts.SQL {
		r.Println(res.SQL)
		return nil
	}
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(res)
	}
	r.Result(res)
	return nil
}
