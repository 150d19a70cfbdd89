package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/leapstack-labs/malloynb/internal/cli/output"
	"github.com/leapstack-labs/malloynb/pkg/malloy"
	"github.com/leapstack-labs/malloynb/pkg/notebook"
	"github.com/spf13/cobra"
)

// ValidateOptions holds options for the validate command.
type ValidateOptions struct {
	Compile bool
}

// validation is the outcome for one notebook.
type validation struct {
	Notebook string              `json:"notebook"`
	Valid    bool                `json:"valid"`
	Cells    int                 `json:"cells"`
	Errors   []string            `json:"errors,omitempty"`
	Problems []malloy.Diagnostic `json:"problems,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	opts := &ValidateOptions{}

	cmd := &cobra.Command{
		Use:   "validate [notebook...]",
		Short: "Check notebooks for structural errors",
		Long: `Check that notebooks are well formed: not empty and split into cells by
>>>malloy or >>>markdown delimiters.

With --compile the model assembled from each notebook's malloy cells is also
compiled, which resolves imports and source declarations without running any
query. Without arguments every notebook in the notebooks directory is checked.`,
		Example: `  # Validate every notebook
  malloynb validate

  # Validate and compile one notebook
  malloynb validate flights --compile`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Compile, "compile", false, "Also compile each notebook's model")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string, opts *ValidateOptions) error {
	cmdCtx := NewCommandContext(cmd)
	r := cmdCtx.Renderer

	if len(args) == 0 {
		ids, err := notebook.List(cmdCtx.Cfg.NotebooksDir)
		if err != nil {
			return err
		}
		args = ids
	}

	var compile func(id string, nb *notebook.Notebook) error
	if opts.Compile {
		rt := cmdCtx.NewRuntime()
		defer func() { _ = rt.Close() }()
		runtimes := cmdCtx.Runtimes(rt)
		compile = func(id string, nb *notebook.Notebook) error {
			nbRuntime, err := runtimes(id)
			if err != nil {
				return err
			}
			_, err = nbRuntime.LoadModel(cmd.Context(), nb.ToModel())
			return err
		}
	}

	results := make([]validation, 0, len(args))
	invalid := 0
	for _, arg := range args {
		v := validateNotebook(cmdCtx, arg, compile)
		if !v.Valid {
			invalid++
		}
		results = append(results, v)
	}

	if r.EffectiveMode() == output.ModeJSON {
		if err := r.JSON(results); err != nil {
			return err
		}
	} else {
		for _, v := range results {
			if v.Valid {
				r.StatusLine(v.Notebook, "success", fmt.Sprintf("(%d cells)", v.Cells))
				continue
			}
			r.StatusLine(v.Notebook, "failed", "")
			for _, e := range v.Errors {
				r.Println("    " + e)
			}
			for _, p := range v.Problems {
				r.Println("    " + p.String())
			}
		}
	}

	if invalid > 0 {
		return fmt.Errorf("%d of %d notebooks are invalid", invalid, len(results))
	}
	return nil
}

func validateNotebook(cmdCtx *CommandContext, arg string, compile func(string, *notebook.Notebook) error) validation {
	id, path, err := resolveNotebook(cmdCtx.Cfg, arg)
	if err != nil {
		return validation{Notebook: arg, Errors: []string{err.Error()}}
	}
	v := validation{Notebook: id}

	content, err := os.ReadFile(path) //nolint:gosec // path is a notebook chosen by the user
	if err != nil {
		v.Errors = []string{err.Error()}
		return v
	}
	if res := notebook.Validate(string(content)); !res.Valid {
		v.Errors = res.Errors
		return v
	}

	nb := notebook.Parse(string(content))
	v.Cells = len(nb.Cells)
	if compile != nil {
		if err := compile(id, nb); err != nil {
			var modelErr *malloy.ModelError
			if errors.As(err, &modelErr) {
				v.Problems = modelErr.Problems
			} else {
				v.Errors = []string{err.Error()}
			}
			return v
		}
	}
	v.Valid = true
	return v
}
