package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/leapstack-labs/malloynb/pkg/adapter"
)

var validOutputs = map[string]bool{"": true, "auto": true, "text": true, "markdown": true, "json": true}

// Validate checks if the configuration is valid. Directory existence is not
// checked here so that commands such as init and help work anywhere.
func (c *Config) Validate() error {
	var errs []error
	if c.ModelsDir == "" {
		errs = append(errs, fmt.Errorf("models_dir is required"))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	if c.TopValuesLimit < 0 {
		errs = append(errs, fmt.Errorf("top_values_limit must not be negative, got %d", c.TopValuesLimit))
	}
	if c.RowLimit < 0 {
		errs = append(errs, fmt.Errorf("row_limit must not be negative, got %d", c.RowLimit))
	}
	if !validOutputs[c.OutputFormat] {
		errs = append(errs, fmt.Errorf("unknown output format %q (want auto, text, markdown or json)", c.OutputFormat))
	}

	names := make([]string, 0, len(c.Connections))
	for name := range c.Connections {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := c.Connections[name].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("connection %s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

// Validate checks that the connection names a registered adapter.
func (c ConnectionConfig) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("connection type is required")
	}
	if !adapter.IsRegistered(strings.ToLower(c.Type)) {
		return &adapter.UnknownAdapterError{
			Type:      c.Type,
			Available: adapter.ListAdapters(),
		}
	}
	return nil
}

// ValidateDirectories checks if required directories exist.
func (c *Config) ValidateDirectories() error {
	if _, err := os.Stat(c.ModelsDir); os.IsNotExist(err) {
		return fmt.Errorf("models directory does not exist: %s\nHint: Create the directory or use --models-dir to specify a different path", c.ModelsDir)
	}
	if _, err := os.Stat(c.NotebooksDir); os.IsNotExist(err) {
		return fmt.Errorf("notebooks directory does not exist: %s\nHint: Create the directory or use --notebooks-dir to specify a different path", c.NotebooksDir)
	}
	return nil
}
