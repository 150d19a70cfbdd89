package notebooks

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/malloynb/internal/state"
	"github.com/leapstack-labs/malloynb/internal/ui/features"
	"github.com/leapstack-labs/malloynb/internal/ui/notifier"
)

func setupTestRouter(t *testing.T) (http.Handler, *features.TestFixture) {
	t.Helper()

	fixture := features.SetupTestFixture(t)
	r := chi.NewRouter()
	require.NoError(t, SetupRoutes(r, Config{
		Runtime:      fixture.Runtime,
		Store:        fixture.Store,
		Notifier:     fixture.Notifier,
		ModelsDir:    fixture.Dir,
		NotebooksDir: fixture.Dir,
		Concurrency:  2,
		Logger:       fixture.Logger,
	}))
	return r, fixture
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestListNotebooks(t *testing.T) {
	r, _ := setupTestRouter(t)

	rec := get(r, "/api/notebooks")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Notebooks []NotebookSummary `json:"notebooks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Notebooks, 3)

	assert.Equal(t, "empty", resp.Notebooks[0].ID)
	assert.NotEmpty(t, resp.Notebooks[0].Error)
	assert.Equal(t, "flights", resp.Notebooks[1].ID)
	assert.Equal(t, "Flights", resp.Notebooks[1].Title)
	assert.Equal(t, "reports/broken", resp.Notebooks[2].ID)
	assert.Empty(t, resp.Notebooks[2].Error)
}

func TestNotebook(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantStatus int
	}{
		{"by id", "/api/notebooks/flights", http.StatusOK},
		{"with extension", "/api/notebooks/flights.malloynb", http.StatusOK},
		{"nested", "/api/notebooks/reports/broken", http.StatusOK},
		{"missing", "/api/notebooks/nope", http.StatusNotFound},
		{"invalid", "/api/notebooks/empty", http.StatusUnprocessableEntity},
		{"escapes the notebooks dir", "/api/notebooks/..%2Fetc%2Fpasswd", http.StatusBadRequest},
	}

	r, _ := setupTestRouter(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(r, tt.target)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
		})
	}
}

func TestNotebook_Cells(t *testing.T) {
	r, _ := setupTestRouter(t)

	rec := get(r, "/api/notebooks/flights")
	require.Equal(t, http.StatusOK, rec.Code)

	var view NotebookView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "flights", view.ID)
	assert.Equal(t, "Flights", view.Metadata.Title)
	require.Len(t, view.Cells, 4)
	assert.Equal(t, "markdown", string(view.Cells[0].Type))
	assert.Contains(t, view.Cells[0].Content, "# Flights")
	assert.Equal(t, "malloy", string(view.Cells[2].Type))
	assert.Contains(t, view.Cells[2].Code, "run: by_carrier")
	assert.NotNil(t, view.Sources)
}

func TestRunNotebook(t *testing.T) {
	r, fixture := setupTestRouter(t)

	rec := get(r, "/api/run/notebooks/flights")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")

	body := rec.Body.String()
	assert.Contains(t, body, "datastar-patch-signals")
	assert.Contains(t, body, `"running":true`)
	assert.Contains(t, body, `"cells":{"2":`)
	assert.Contains(t, body, `"running":false`)
	assert.Contains(t, body, `"failed":1`)
	assert.Contains(t, body, "Unknown source")

	runs, err := fixture.Store.ListRuns(context.Background(), "flights", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, state.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, 1, runs[0].FailedCells)
	assert.Contains(t, body, runs[0].ID)
}

func TestRunNotebook_CompileFailure(t *testing.T) {
	r, fixture := setupTestRouter(t)

	rec := get(r, "/api/run/notebooks/reports/broken")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"error":`)
	assert.Contains(t, body, "missing.malloy")

	runs, err := fixture.Store.ListRuns(context.Background(), "reports/broken", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, state.RunStatusFailed, runs[0].Status)
}

func TestRunNotebook_NotFound(t *testing.T) {
	r, _ := setupTestRouter(t)

	rec := get(r, "/api/run/notebooks/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunNotebook_WithoutStore(t *testing.T) {
	fixture := features.SetupTestFixture(t)
	r := chi.NewRouter()
	require.NoError(t, SetupRoutes(r, Config{
		Runtime:      fixture.Runtime,
		ModelsDir:    fixture.Dir,
		NotebooksDir: fixture.Dir,
	}))

	rec := get(r, "/api/run/notebooks/flights")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"run_id"`)
}

func TestUpdates(t *testing.T) {
	r, fixture := setupTestRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	// broadcast once the stream has subscribed
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for fixture.Notifier.Listeners() == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		fixture.Notifier.Broadcast(notifier.Event{Path: "flights.malloy", Kind: "model"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/notebooks/updates", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	found := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), "flights.malloy") {
			found = true
			break
		}
	}
	assert.True(t, found, "stream should carry the changed path")

	cancel()
	assert.Eventually(t, func() bool { return fixture.Notifier.Listeners() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestUpdates_Disabled(t *testing.T) {
	fixture := features.SetupTestFixture(t)
	r := chi.NewRouter()
	require.NoError(t, SetupRoutes(r, Config{Runtime: fixture.Runtime, NotebooksDir: fixture.Dir}))

	rec := get(r, "/api/notebooks/updates")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotebookID(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"flights", "flights", false},
		{"reports/weekly.malloynb", "reports/weekly", false},
		{"reports%2Fweekly", "reports/weekly", false},
		{"", "", true},
		{"../secret", "", true},
		{"a/./b", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			req := features.RequestWithPathParams(httptest.NewRequest(http.MethodGet, "/", nil), "*", tt.raw)
			got, err := notebookID(req)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
