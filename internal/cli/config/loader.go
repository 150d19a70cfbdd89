package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes environment variables read into the config.
// MALLOYNB_MODELS_DIR sets models_dir; a double underscore descends into a
// section, so MALLOYNB_UI__PORT sets ui.port.
const EnvPrefix = "MALLOYNB_"

// Context keys for values shared between the root command and subcommands.
type (
	loggerKey struct{}
	configKey struct{}
)

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

var configNames = []string{DefaultConfigFile, "malloynb.yml"}

// configIn returns the config file in dir, or "".
func configIn(dir string) string {
	for _, name := range configNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// findProjectRootUpward searches upward from startDir for a malloynb config file.
// Returns empty string if not found within maxUpwardSearchLevels.
func findProjectRootUpward(startDir string) string {
	dir := startDir
	for range maxUpwardSearchLevels {
		if configIn(dir) != "" {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// inferProjectRoot determines the project root.
// Priority:
//  1. Directory of an explicit config file
//  2. Nearest ancestor of CWD holding malloynb.yaml
//  3. Current working directory
func inferProjectRoot(cfgFile string) string {
	if cfgFile != "" {
		if abs, err := filepath.Abs(cfgFile); err == nil {
			return filepath.Dir(abs)
		}
		return filepath.Dir(cfgFile)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	if root := findProjectRootUpward(cwd); root != "" {
		return root
	}
	return cwd
}

// flagKey maps a flag name to its config key.
func flagKey(name string) string {
	if name == "state" {
		return "state_path"
	}
	return strings.ReplaceAll(name, "-", "_")
}

// pathFlags are resolved against CWD rather than the project root.
var pathFlags = map[string]bool{"models-dir": true, "notebooks-dir": true, "state": true}

// LoadConfig loads configuration from defaults, the config file, environment
// variables and flags, in increasing order of precedence. Only flags that
// were explicitly set override lower layers.
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	projectRoot := inferProjectRoot(cfgFile)

	// 1. Defaults
	if err := k.Load(confmap.Provider(map[string]any{
		"models_dir":       DefaultModelsDir,
		"notebooks_dir":    "",
		"state_path":       DefaultStateFile,
		"verbose":          false,
		"output":           DefaultOutput,
		"concurrency":      DefaultConcurrency,
		"top_values_limit": DefaultTopValuesLimit,
		"row_limit":        DefaultRowLimit,
		"ui.port":          DefaultUIPort,
		"ui.watch":         true,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	if cfgFile == "" {
		cfgFile = configIn(projectRoot)
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	// 3. Environment variables
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	flagPaths := map[string]string{}
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			if pathFlags[f.Name] {
				if abs, err := filepath.Abs(f.Value.String()); err == nil {
					flagPaths[flagKey(f.Name)] = abs
				}
			}
			return flagKey(f.Name), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.ProjectRoot = projectRoot
	cfg.ConfigFile = cfgFile

	// Paths from flags are relative to CWD, everything else to the project root.
	resolve := func(key, path string) string {
		if abs, ok := flagPaths[key]; ok {
			return abs
		}
		return resolvePathRelativeTo(path, projectRoot)
	}
	cfg.ModelsDir = resolve("models_dir", cfg.ModelsDir)
	cfg.StatePath = resolve("state_path", cfg.StatePath)
	if cfg.NotebooksDir == "" {
		cfg.NotebooksDir = cfg.ModelsDir
	} else {
		cfg.NotebooksDir = resolve("notebooks_dir", cfg.NotebooksDir)
	}

	for name, conn := range cfg.Connections {
		expandConnectionEnvVars(&conn)
		if conn.Type == "" {
			conn.Type = "duckdb"
		}
		if isLocalDatabase(conn) {
			conn.Database = resolvePathRelativeTo(conn.Database, projectRoot)
		}
		cfg.Connections[name] = conn
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// isLocalDatabase reports whether conn names a database file on disk.
func isLocalDatabase(conn ConnectionConfig) bool {
	return strings.EqualFold(conn.Type, "duckdb") &&
		conn.Database != "" && conn.Database != ":memory:" &&
		!strings.Contains(conn.Database, "://") && !strings.HasPrefix(conn.Database, "md:")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
// Unset variables are left as written.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val, ok := os.LookupEnv(match[2 : len(match)-1]); ok {
			return val
		}
		return match
	})
}

// expandConnectionEnvVars expands environment variables in connection fields
// that commonly hold secrets.
func expandConnectionEnvVars(c *ConnectionConfig) {
	c.Password = expandEnvVars(c.Password)
	c.User = expandEnvVars(c.User)
	c.Host = expandEnvVars(c.Host)
	c.Database = expandEnvVars(c.Database)
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// WithConfig stores cfg in ctx.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext retrieves the config from the command context, falling back
// to defaults.
func FromContext(ctx context.Context) *Config {
	if c, ok := ctx.Value(configKey{}).(*Config); ok && c != nil {
		return c
	}
	return Default()
}
