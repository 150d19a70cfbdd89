// Package features provides shared test utilities for UI feature tests.
package features

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/malloynb/internal/cache"
	"github.com/leapstack-labs/malloynb/internal/state"
	"github.com/leapstack-labs/malloynb/internal/testutil"
	"github.com/leapstack-labs/malloynb/internal/ui/notifier"
	"github.com/leapstack-labs/malloynb/pkg/adapter"
	"github.com/leapstack-labs/malloynb/pkg/malloy"

	// Import adapter packages to ensure adapters are registered via init()
	_ "github.com/leapstack-labs/malloynb/pkg/adapters/duckdb"
)

// ProjectFiles is the project written by SetupTestFixture, keyed by path
// relative to the project directory.
var ProjectFiles = map[string]string{
	"flights.csv": `carrier,origin,distance
AA,SFO,2586
AA,JFK,337
UA,SFO,1846
`,
	"flights.malloy": `source: flights is duckdb.table('flights.csv')
query: by_carrier is flights -> { group_by: carrier; aggregate: flight_count is count() }
`,
	"reports/carriers.malloy": `import "../flights.malloy"
source: carriers is flights
`,
	"flights.malloynb": `>>>markdown
# Flights

>>>malloy
import "flights.malloy"

>>>malloy
run: by_carrier

>>>malloy
run: nope -> { group_by: carrier }
`,
	"reports/broken.malloynb": `>>>malloy
import "missing.malloy"
run: flights -> { group_by: carrier }
`,
	"empty.malloynb": "no delimiters here\n",
}

// TestFixture holds all dependencies needed for UI handler tests.
type TestFixture struct {
	Dir      string
	Runtime  *malloy.Runtime
	Cache    *cache.Cache
	Store    *state.SQLiteStore
	Notifier *notifier.Notifier
	Logger   *slog.Logger
}

// SetupTestFixture writes ProjectFiles to a temp directory and wires a
// runtime, cache, in-memory run store and notifier over it.
func SetupTestFixture(t *testing.T) *TestFixture {
	t.Helper()

	logger := testutil.NewTestLogger(t)
	dir := t.TempDir()

	for name, content := range ProjectFiles {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	}

	rt := malloy.NewRuntime(malloy.Config{
		Reader:      malloy.DirReader{Root: dir},
		Connections: map[string]adapter.Config{"duckdb": {Type: "duckdb", BaseDir: dir}},
		Logger:      logger,
	})
	t.Cleanup(func() { _ = rt.Close() })

	store := state.NewSQLiteStore(logger)
	require.NoError(t, store.Open(":memory:"))
	t.Cleanup(func() { _ = store.Close() })

	return &TestFixture{
		Dir:      dir,
		Runtime:  rt,
		Cache:    cache.New(rt, logger, cache.WithTopValuesLimit(5)),
		Store:    store,
		Notifier: notifier.New(),
		Logger:   logger,
	}
}

// RequestWithPathParams wraps a request with chi URL params given as
// key, value pairs.
func RequestWithPathParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
