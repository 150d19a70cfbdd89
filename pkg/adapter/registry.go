package adapter

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Factory builds an unconnected adapter for one connection type.
type Factory func(logger *slog.Logger) Adapter

// ErrNoConnectionType is returned when a connection config names no type.
var ErrNoConnectionType = errors.New("connection type not specified")

// connectionTypes maps lower-cased connection types (the `type:` of a
// connection in malloynb.yaml) to their factories.
type connectionTypes struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

var registered = &connectionTypes{factories: make(map[string]Factory)}

func (c *connectionTypes) lookup(name string) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.factories[strings.ToLower(name)]
	return f, ok
}

func (c *connectionTypes) names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.factories))
	for name := range c.factories {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Register makes a connection type available to malloy sources, e.g.
// `duckdb` for `source: x is duckdb.table('...')`. Adapter packages call it
// from init, so importing a package is enough to enable its type.
func Register(name string, factory Factory) {
	registered.mu.Lock()
	defer registered.mu.Unlock()
	registered.factories[strings.ToLower(name)] = factory
}

// Get returns the factory for a connection type, ignoring case.
func Get(name string) (func(*slog.Logger) Adapter, bool) {
	return registered.lookup(name)
}

// NewAdapter builds the adapter behind a connection. It does not connect.
func NewAdapter(cfg Config, logger *slog.Logger) (Adapter, error) {
	if cfg.Type == "" {
		return nil, ErrNoConnectionType
	}
	factory, ok := registered.lookup(cfg.Type)
	if !ok {
		return nil, &UnknownAdapterError{Type: cfg.Type, Available: registered.names()}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return factory(logger.With("connection_type", strings.ToLower(cfg.Type))), nil
}

// ListAdapters returns the registered connection types, sorted.
func ListAdapters() []string {
	return registered.names()
}

// IsRegistered reports whether a connection type can be used.
func IsRegistered(name string) bool {
	_, ok := registered.lookup(name)
	return ok
}

// UnknownAdapterError reports a connection whose type no adapter handles.
type UnknownAdapterError struct {
	Type      string
	Available []string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("unknown adapter type %q: supported connection types are %s (set connections.<name>.type in malloynb.yaml)",
		e.Type, strings.Join(e.Available, ", "))
}
