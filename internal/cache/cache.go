// Package cache memoizes compiled models, introspected sources, parsed
// queries and query results for the lifetime of the process.
//
// Entries are never refreshed or evicted. Keys are compared byte for byte,
// so two equivalent queries written differently are cached separately.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/leapstack-labs/malloynb/pkg/malloy"
	"github.com/leapstack-labs/malloynb/pkg/notebook"
)

// ModelLoader compiles the model stored at a URL.
type ModelLoader interface {
	LoadModelFromURL(ctx context.Context, url string) (malloy.Materializer, error)
}

// ModelEntry is a compiled model.
type ModelEntry struct {
	Name         string
	Materializer malloy.Materializer
	LoadedAt     time.Time
}

// Model returns the compiled model.
func (e *ModelEntry) Model() *malloy.Model {
	return e.Materializer.Model()
}

// SourceKey identifies a source entry. Asking for a source with and without
// top values yields two independent entries.
type SourceKey struct {
	Model     string
	Source    string
	TopValues bool
}

func (k SourceKey) flightKey() string {
	return strconv.Quote(k.Model) + "/" + strconv.Quote(k.Source) + "/" + strconv.FormatBool(k.TopValues)
}

// SourceEntry is an introspected source along with its query and result
// memos.
type SourceEntry struct {
	Key       SourceKey
	Model     *ModelEntry
	Info      *malloy.SourceInfo
	TopValues []malloy.FieldValues

	queries *memo[string, *malloy.Query]
	results *memo[string, *malloy.Result]
}

// Stats is a snapshot of cache traffic.
type Stats struct {
	Models  Counter `json:"models"`
	Sources Counter `json:"sources"`
	Queries Counter `json:"queries"`
	Results Counter `json:"results"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithTopValuesLimit sets how many values per field are computed for
// sources loaded with top values.
func WithTopValuesLimit(n int) Option {
	return func(c *Cache) {
		c.topValuesLimit = n
	}
}

// Cache is a get-or-create store over a ModelLoader. It is safe for
// concurrent use.
type Cache struct {
	loader         ModelLoader
	logger         *slog.Logger
	topValuesLimit int

	models  *memo[string, *ModelEntry]
	sources *memo[SourceKey, *SourceEntry]

	modelStats, sourceStats, queryStats, resultStats counter
}

// New creates an empty cache. A nil logger discards logs.
func New(loader ModelLoader, logger *slog.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Cache{
		loader:         loader,
		logger:         logger,
		topValuesLimit: malloy.DefaultTopValuesLimit,
	}
	c.models = newMemo[string, *ModelEntry](strconv.Quote, &c.modelStats)
	c.sources = newMemo[SourceKey, *SourceEntry](SourceKey.flightKey, &c.sourceStats)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadModel returns the compiled model named modelName, compiling
// "<modelName>.malloy" on first use.
func (c *Cache) LoadModel(ctx context.Context, modelName string) (*ModelEntry, error) {
	return c.models.get(ctx, modelName, func(ctx context.Context) (*ModelEntry, error) {
		start := time.Now()
		mat, err := c.loader.LoadModelFromURL(ctx, modelName+notebook.ModelExtension)
		if err != nil {
			return nil, err
		}
		c.logger.Debug("cached model",
			"model", modelName,
			"sources", len(mat.Model().Sources),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return &ModelEntry{Name: modelName, Materializer: mat, LoadedAt: time.Now()}, nil
	})
}

// LoadSource returns the introspected source, optionally with the top
// values of its string fields.
func (c *Cache) LoadSource(ctx context.Context, modelName, sourceName string, includeTopValues bool) (*SourceEntry, error) {
	key := SourceKey{Model: modelName, Source: sourceName, TopValues: includeTopValues}
	return c.sources.get(ctx, key, func(ctx context.Context) (*SourceEntry, error) {
		model, err := c.LoadModel(ctx, modelName)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		info, err := model.Materializer.DescribeSource(ctx, sourceName)
		if err != nil {
			return nil, fmt.Errorf("failed to describe source %s in model %s: %w", sourceName, modelName, err)
		}

		entry := &SourceEntry{
			Key:     key,
			Model:   model,
			Info:    info,
			queries: newMemo[string, *malloy.Query](strconv.Quote, &c.queryStats),
			results: newMemo[string, *malloy.Result](strconv.Quote, &c.resultStats),
		}
		if includeTopValues {
			entry.TopValues, err = model.Materializer.SearchValueMap(ctx, sourceName, c.topValuesLimit)
			if err != nil {
				return nil, fmt.Errorf("failed to compute top values for %s in model %s: %w", sourceName, modelName, err)
			}
		}

		c.logger.Debug("cached source",
			"model", modelName,
			"source", sourceName,
			"top_values", includeTopValues,
			"fields", len(info.Fields),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return entry, nil
	})
}

// LoadQuery returns querySrc parsed as a structured query against the
// source's model. A nil query means querySrc is not a structured query; that
// outcome is cached like any other.
func (c *Cache) LoadQuery(ctx context.Context, source *SourceEntry, querySrc string) (*malloy.Query, error) {
	return source.queries.get(ctx, querySrc, func(ctx context.Context) (*malloy.Query, error) {
		return source.Model.Materializer.LoadQuery(ctx, querySrc)
	})
}

// LoadQueryResult returns the result of running query, or of running
// querySrc as raw text when query is nil. A nil mat uses the source's model.
func (c *Cache) LoadQueryResult(ctx context.Context, source *SourceEntry, mat malloy.Materializer, query *malloy.Query, querySrc string) (*malloy.Result, error) {
	if mat == nil {
		mat = source.Model.Materializer
	}
	return source.results.get(ctx, querySrc, func(ctx context.Context) (*malloy.Result, error) {
		start := time.Now()
		var (
			res *malloy.Result
			err error
		)
		if query != nil {
			res, err = mat.Run(ctx, query)
		} else {
			res, err = mat.RunQuery(ctx, querySrc)
		}
		if err != nil {
			return nil, err
		}
		c.logger.Debug("cached query result",
			"model", source.Key.Model,
			"source", source.Key.Source,
			"structured", query != nil,
			"rows", res.RowCount(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return res, nil
	})
}

// Models returns the names of cached models, sorted.
func (c *Cache) Models() []string {
	names := c.models.keys()
	sort.Strings(names)
	return names
}

// Stats returns a snapshot of cache traffic.
func (c *Cache) Stats() Stats {
	return Stats{
		Models:  c.modelStats.snapshot(),
		Sources: c.sourceStats.snapshot(),
		Queries: c.queryStats.snapshot(),
		Results: c.resultStats.snapshot(),
	}
}
