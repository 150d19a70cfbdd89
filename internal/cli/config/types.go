// Package config provides configuration management for the malloynb CLI.
package config

import (
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/malloynb/pkg/adapter"
	"github.com/leapstack-labs/malloynb/pkg/malloy"
)

// Default configuration values.
const (
	DefaultConfigFile     = "malloynb.yaml"
	DefaultModelsDir      = "."
	DefaultStateFile      = ".malloynb/state.db"
	DefaultOutput         = "auto" // Auto-detect: TTY=text, non-TTY=markdown
	DefaultConcurrency    = 4
	DefaultTopValuesLimit = 10
	DefaultRowLimit       = 10000
	DefaultUIPort         = 8765
)

// ConnectionConfig describes one named database connection that model
// sources can refer to, e.g. duckdb.table('flights.parquet').
type ConnectionConfig struct {
	Type     string            `koanf:"type" yaml:"type"`
	Database string            `koanf:"database" yaml:"database,omitempty"`
	Host     string            `koanf:"host" yaml:"host,omitempty"`
	Port     int               `koanf:"port" yaml:"port,omitempty"`
	User     string            `koanf:"user" yaml:"user,omitempty"`
	Password string            `koanf:"password" yaml:"password,omitempty"`
	Schema   string            `koanf:"schema" yaml:"schema,omitempty"`
	Options  map[string]string `koanf:"options" yaml:"options,omitempty"`
	Params   map[string]any    `koanf:"params" yaml:"params,omitempty"`
}

// AdapterConfig converts the connection to an adapter config. Relative file
// references in the connection's sources resolve against baseDir.
func (c ConnectionConfig) AdapterConfig(baseDir string) adapter.Config {
	return adapter.Config{
		Type:     strings.ToLower(c.Type),
		Path:     c.Database,
		Database: c.Database,
		Host:     c.Host,
		Port:     c.Port,
		Username: c.User,
		Password: c.Password,
		Schema:   c.Schema,
		Options:  c.Options,
		Params:   c.Params,
		BaseDir:  baseDir,
	}
}

// UIConfig holds configuration for the HTTP server.
type UIConfig struct {
	Port  int  `koanf:"port" yaml:"port"`
	Watch bool `koanf:"watch" yaml:"watch"`
}

// Config holds all CLI configuration options.
type Config struct {
	ModelsDir      string                      `koanf:"models_dir"`
	NotebooksDir   string                      `koanf:"notebooks_dir"`
	StatePath      string                      `koanf:"state_path"`
	Verbose        bool                        `koanf:"verbose"`
	OutputFormat   string                      `koanf:"output"`
	Concurrency    int                         `koanf:"concurrency"`
	TopValuesLimit int                         `koanf:"top_values_limit"`
	RowLimit       int                         `koanf:"row_limit"`
	Connections    map[string]ConnectionConfig `koanf:"connections"`
	UI             *UIConfig                   `koanf:"ui"`

	// ProjectRoot anchors relative paths. Set by the loader.
	ProjectRoot string `koanf:"-"`
	// ConfigFile is the config file that was read, if any.
	ConfigFile string `koanf:"-"`
}

// Default returns a config holding only default values, rooted at the
// current directory.
func Default() *Config {
	return &Config{
		ModelsDir:      DefaultModelsDir,
		NotebooksDir:   DefaultModelsDir,
		StatePath:      DefaultStateFile,
		OutputFormat:   DefaultOutput,
		Concurrency:    DefaultConcurrency,
		TopValuesLimit: DefaultTopValuesLimit,
		RowLimit:       DefaultRowLimit,
		UI:             &UIConfig{Port: DefaultUIPort, Watch: true},
		ProjectRoot:    ".",
	}
}

// GetUIConfig returns the UI config with defaults applied for any unset values.
func (c *Config) GetUIConfig() *UIConfig {
	if c.UI == nil {
		return &UIConfig{Port: DefaultUIPort, Watch: true}
	}
	ui := *c.UI
	if ui.Port == 0 {
		ui.Port = DefaultUIPort
	}
	return &ui
}

// AdapterConfigs returns the adapter config of every connection, plus the
// in-memory DuckDB default when no connection takes its name. File
// references resolve against the models directory.
func (c *Config) AdapterConfigs() map[string]adapter.Config {
	out := make(map[string]adapter.Config, len(c.Connections)+1)
	for name, conn := range c.Connections {
		out[name] = conn.AdapterConfig(c.ModelsDir)
	}
	if _, ok := out[malloy.DefaultConnection]; !ok {
		out[malloy.DefaultConnection] = adapter.Config{Type: "duckdb", BaseDir: c.ModelsDir}
	}
	return out
}

// resolvePathRelativeTo resolves path against base unless it is already
// absolute.
func resolvePathRelativeTo(path, base string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
