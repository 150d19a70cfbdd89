package ui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/malloynb/internal/ui/features"
	"github.com/leapstack-labs/malloynb/internal/ui/notifier"
)

func newTestServer(t *testing.T, watch bool) (*Server, *features.TestFixture) {
	t.Helper()
	fixture := features.SetupTestFixture(t)
	return NewServer(Config{
		Cache:       fixture.Cache,
		Runtime:     fixture.Runtime,
		Store:       fixture.Store,
		Watch:       watch,
		ModelsDir:   fixture.Dir,
		Concurrency: 2,
		Logger:      fixture.Logger,
	}), fixture
}

func TestServer_Handler(t *testing.T) {
	s, _ := newTestServer(t, false)
	h, err := s.Handler()
	require.NoError(t, err)

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, true, info["history"])
	assert.Equal(t, false, info["watch"])
	assert.Contains(t, info["connections"], "duckdb")

	resp, err = http.Get(srv.URL + "/api/models/flights/sources/flights")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_WatchFiles(t *testing.T) {
	s, fixture := newTestServer(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.watchFiles(ctx) }()

	events := s.Notifier().Subscribe()
	defer s.Notifier().Unsubscribe(events)

	target := filepath.Join(fixture.Dir, "reports", "airports.malloy")
	ignored := filepath.Join(fixture.Dir, "notes.txt")

	var got notifier.Event
	deadline := time.After(3 * time.Second)
wait:
	for {
		// the watcher may not be registered yet, so keep touching the file
		require.NoError(t, os.WriteFile(ignored, []byte("x"), 0600))
		require.NoError(t, os.WriteFile(target, []byte("source: airports is duckdb.table('a.csv')\n"), 0600))
		select {
		case got = <-events:
			break wait
		case <-time.After(150 * time.Millisecond):
		case <-deadline:
			t.Fatal("no change event received")
		}
	}

	assert.Equal(t, "reports/airports.malloy", got.Path)
	assert.Equal(t, "model", got.Kind)
	assert.False(t, got.At.IsZero())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestFileKind(t *testing.T) {
	assert.Equal(t, "model", fileKind("/x/flights.malloy"))
	assert.Equal(t, "notebook", fileKind("/x/flights.malloynb"))
	assert.Empty(t, fileKind("/x/flights.csv"))
}

func TestServer_RelPath(t *testing.T) {
	s := NewServer(Config{ModelsDir: "/project/models", NotebooksDir: "/project/notebooks"})

	assert.Equal(t, "weekly.malloynb", s.relPath("/project/notebooks/weekly.malloynb"))
	assert.Equal(t, "sales/orders.malloy", s.relPath("/project/models/sales/orders.malloy"))
	assert.Equal(t, "/elsewhere/x.malloy", s.relPath("/elsewhere/x.malloy"))
}

func TestUniqueDirs(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, uniqueDirs("a", "", "b", "a"))
}
