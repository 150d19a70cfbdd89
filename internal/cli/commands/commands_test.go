package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/malloynb/internal/cli/config"
	"github.com/leapstack-labs/malloynb/internal/cli/testutil"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	// Register adapters via init()
	_ "github.com/leapstack-labs/malloynb/pkg/adapters/duckdb"
)

// executeCommand runs cmd against the project in dir, the way the root
// command would after loading its config.
func executeCommand(t *testing.T, dir, format string, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()

	cfg, err := config.LoadConfig(filepath.Join(dir, config.DefaultConfigFile), nil)
	require.NoError(t, err)
	if format != "" {
		cfg.OutputFormat = format
	}

	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err = cmd.ExecuteContext(config.WithConfig(context.Background(), cfg))
	return buf.String(), err
}

func TestCommandMetadata(t *testing.T) {
	tests := []struct {
		cmd   *cobra.Command
		use   string
		flags []string
	}{
		{NewRunCommand(), "run <notebook>", []string{"no-history"}},
		{NewValidateCommand(), "validate [notebook...]", []string{"compile"}},
		{NewSourcesCommand(), "sources <notebook>", nil},
		{NewModelsCommand(), "models", nil},
		{NewSourceCommand(), "source <model> <source>", []string{"top-values"}},
		{NewQueryCommand(), "query <model> <source> <query>", []string{"sql"}},
		{NewHistoryCommand(), "history [notebook]", []string{"limit", "run"}},
		{NewServeCommand(), "serve", []string{"port", "open", "watch", "no-history"}},
		{NewInitCommand(), "init [directory]", []string{"force", "example"}},
	}

	for _, tt := range tests {
		t.Run(tt.cmd.Name(), func(t *testing.T) {
			assert.Equal(t, tt.use, tt.cmd.Use)
			assert.NotEmpty(t, tt.cmd.Short, "Short should not be empty")
			for _, flag := range tt.flags {
				assert.NotNil(t, tt.cmd.Flags().Lookup(flag), "flag %q should exist", flag)
			}
		})
	}
}

func TestRunCommand(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	out, err := executeCommand(t, dir, "markdown", NewRunCommand(), "flights")
	require.ErrorIs(t, err, ErrCellsFailed)
	assert.Contains(t, err.Error(), "1 of 3 malloy cells in flights")

	assert.Contains(t, out, "# Flights by carrier")
	assert.Contains(t, out, "flight_count")
	assert.Contains(t, out, "Unknown source")
	testutil.AssertNoANSI(t, out)
	testutil.AssertValidMarkdown(t, out)

	_, err = os.Stat(filepath.Join(dir, ".malloynb", "state.db"))
	assert.NoError(t, err, "run should be recorded")
}

func TestRunCommand_NoHistory(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	_, err := executeCommand(t, dir, "markdown", NewRunCommand(), "flights.malloynb", "--no-history")
	require.ErrorIs(t, err, ErrCellsFailed)

	_, err = os.Stat(filepath.Join(dir, ".malloynb", "state.db"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunCommand_NotFound(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	_, err := executeCommand(t, dir, "", NewRunCommand(), "missing", "--no-history")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCellsFailed)
}

func TestHistoryCommand(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	out, err := executeCommand(t, dir, "markdown", NewHistoryCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded")

	_, err = executeCommand(t, dir, "", NewRunCommand(), "flights")
	require.ErrorIs(t, err, ErrCellsFailed)

	out, err = executeCommand(t, dir, "json", NewHistoryCommand(), "flights")
	require.NoError(t, err)

	var runs []struct {
		ID          string `json:"id"`
		Notebook    string `json:"notebook"`
		Status      string `json:"status"`
		FailedCells int    `json:"failed_cells"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "flights", runs[0].Notebook)
	assert.Equal(t, "completed", runs[0].Status)
	assert.Equal(t, 1, runs[0].FailedCells)

	out, err = executeCommand(t, dir, "markdown", NewHistoryCommand(), "--run", runs[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Flights by carrier (flights)")
	assert.Contains(t, out, "cell 2")

	_, err = executeCommand(t, dir, "", NewHistoryCommand(), "--run", "no-such-run")
	assert.Error(t, err)
}

func TestModelsCommand(t *testing.T) {
	dir := testutil.SetupTestProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.malloy"), []byte("source: a is b\n"), 0600))

	out, err := executeCommand(t, dir, "json", NewModelsCommand())
	require.NoError(t, err)

	var models []struct {
		Name    string `json:"name"`
		Sources []struct {
			Name string `json:"name"`
		} `json:"sources"`
		Queries  []string          `json:"queries"`
		Problems []json.RawMessage `json:"problems"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &models))
	require.Len(t, models, 2)

	assert.Equal(t, "broken", models[0].Name)
	assert.NotEmpty(t, models[0].Problems)

	assert.Equal(t, "flights", models[1].Name)
	require.Len(t, models[1].Sources, 1)
	assert.Equal(t, "flights", models[1].Sources[0].Name)
	assert.Equal(t, []string{"by_carrier"}, models[1].Queries)
}

func TestSourceCommand(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	out, err := executeCommand(t, dir, "markdown", NewSourceCommand(), "flights", "flights", "--top-values")
	require.NoError(t, err)
	assert.Contains(t, out, "flights (flights)")
	assert.Contains(t, out, "carrier")
	assert.Contains(t, out, "Top values")
	assert.Contains(t, out, "SFO")

	_, err = executeCommand(t, dir, "", NewSourceCommand(), "flights", "boats")
	assert.Error(t, err)
}

func TestSourcesCommand(t *testing.T) {
	dir := testutil.SetupTestProject(t)
	nb := ">>>malloy\nimport { flights } from './flights.malloy'\n>>>malloy\nimport { flights, carriers } from \"reports/carriers.malloy\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "imports.malloynb"), []byte(nb), 0600))

	out, err := executeCommand(t, dir, "json", NewSourcesCommand(), "imports")
	require.NoError(t, err)

	var refs []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &refs))
	require.Len(t, refs, 2)
	assert.Equal(t, "flights", refs[0].Name)
	assert.Equal(t, "flights", refs[0].Model)
	assert.Equal(t, "carriers", refs[1].Name)
	assert.Equal(t, "reports/carriers", refs[1].Model)

	out, err = executeCommand(t, dir, "markdown", NewSourcesCommand(), "flights")
	require.NoError(t, err)
	assert.Contains(t, out, "No imported sources")
}

func TestValidateCommand(t *testing.T) {
	dir := testutil.SetupTestProject(t)

	out, err := executeCommand(t, dir, "markdown", NewValidateCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "flights")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "plain.malloynb"), []byte("no cells here\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.malloynb"), []byte(">>>malloy\nimport \"missing.malloy\"\n"), 0600))

	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"valid notebook", []string{"flights"}, false},
		{"compiles", []string{"flights", "--compile"}, false},
		{"no delimiters", []string{"plain"}, true},
		{"missing file", []string{"missing"}, true},
		{"missing import parses", []string{"broken"}, false},
		{"missing import fails to compile", []string{"broken", "--compile"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(t, dir, "markdown", NewValidateCommand(), tt.args...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
