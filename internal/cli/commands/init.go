package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/malloynb/internal/cli/config"
	"github.com/leapstack-labs/malloynb/internal/cli/output"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// projectFile is the layout of a generated malloynb.yaml.
type projectFile struct {
	ModelsDir      string                             `yaml:"models_dir"`
	NotebooksDir   string                             `yaml:"notebooks_dir"`
	StatePath      string                             `yaml:"state_path"`
	Concurrency    int                                `yaml:"concurrency"`
	TopValuesLimit int                                `yaml:"top_values_limit"`
	RowLimit       int                                `yaml:"row_limit"`
	Connections    map[string]config.ConnectionConfig `yaml:"connections"`
	UI             config.UIConfig                    `yaml:"ui"`
}

func defaultProjectFile() projectFile {
	return projectFile{
		ModelsDir:      config.DefaultModelsDir,
		NotebooksDir:   config.DefaultModelsDir,
		StatePath:      config.DefaultStateFile,
		Concurrency:    config.DefaultConcurrency,
		TopValuesLimit: config.DefaultTopValuesLimit,
		RowLimit:       config.DefaultRowLimit,
		Connections: map[string]config.ConnectionConfig{
			"duckdb": {Type: "duckdb", Database: ":memory:"},
		},
		UI: config.UIConfig{Port: config.DefaultUIPort, Watch: true},
	}
}

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool
	var example bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new malloynb project",
		Long: `Initialize a new malloynb project by writing a malloynb.yaml configuration
file with an in-memory DuckDB connection.

Use --example to also create a sample model, its CSV data and a notebook
that queries it.`,
		Example: `  # Initialize in current directory
  malloynb init

  # Initialize a new directory with a working example
  malloynb init my-project --example

  # Overwrite an existing config
  malloynb init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			cfg := config.FromContext(cmd.Context())
			r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat))
			return runInit(r, dir, force, example)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")
	cmd.Flags().BoolVar(&example, "example", false, "Create an example model, data and notebook")

	return cmd
}

func runInit(r *output.Renderer, dir string, force, example bool) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	configPath := filepath.Join(dir, config.DefaultConfigFile)
	if _, err := os.Stat(configPath); err == nil && !force {
		return errors.New(config.DefaultConfigFile + " already exists. Use --force to overwrite")
	}

	content, err := yaml.Marshal(defaultProjectFile())
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(configPath, content, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", configPath, err)
	}
	r.StatusLine(config.DefaultConfigFile, "success", "")

	if example {
		files, err := copyTemplate("example", dir, force)
		if err != nil {
			return fmt.Errorf("failed to initialize project: %w", err)
		}
		for _, f := range files {
			r.StatusLine(f, "success", "")
		}
	}

	r.Println("")
	r.Success("malloynb project initialized!")
	r.Println("")
	r.Println("Next steps:")
	r.Println("  1. Declare sources in a .malloy model file")
	r.Println("  2. Write a .malloynb notebook that imports them")
	if example {
		r.Println("  3. Run 'malloynb run flights' to execute the example notebook")
	} else {
		r.Println("  3. Run 'malloynb run <notebook>' to execute it")
	}
	return nil
}
