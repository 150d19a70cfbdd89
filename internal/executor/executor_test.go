package executor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/leapstack-labs/malloynb/internal/testutil"
	"github.com/leapstack-labs/malloynb/pkg/adapter"
	"github.com/leapstack-labs/malloynb/pkg/malloy"
	"github.com/leapstack-labs/malloynb/pkg/notebook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	// Register adapters via init()
	_ "github.com/leapstack-labs/malloynb/pkg/adapters/duckdb"
)

// fakeMaterializer answers RunQuery from a map keyed by query text.
type fakeMaterializer struct {
	mu      sync.Mutex
	results map[string]*malloy.Result
	queries []string
}

func (f *fakeMaterializer) Model() *malloy.Model { return nil }

func (f *fakeMaterializer) LoadQuery(context.Context, string) (*malloy.Query, error) {
	return nil, nil
}

func (f *fakeMaterializer) Run(context.Context, *malloy.Query) (*malloy.Result, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeMaterializer) RunQuery(_ context.Context, q string) (*malloy.Result, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	if res, ok := f.results[q]; ok {
		return res, nil
	}
	return nil, &malloy.QueryError{Problems: []malloy.Diagnostic{
		{Severity: malloy.SeverityError, Title: "Unknown source", Content: q},
	}}
}

func (f *fakeMaterializer) DescribeSource(context.Context, string) (*malloy.SourceInfo, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeMaterializer) SearchValueMap(context.Context, string, int) ([]malloy.FieldValues, error) {
	return nil, errors.New("not implemented")
}

// panickingMaterializer panics on queries containing "boom".
type panickingMaterializer struct {
	fakeMaterializer
}

func (p *panickingMaterializer) RunQuery(ctx context.Context, q string) (*malloy.Result, error) {
	if strings.Contains(q, "boom") {
		panic("boom")
	}
	return p.fakeMaterializer.RunQuery(ctx, q)
}

// staticRuntime serves one materializer for every model.
type staticRuntime struct {
	mat malloy.Materializer
}

func (r staticRuntime) LoadModel(context.Context, string) (malloy.Materializer, error) {
	return r.mat, nil
}

type fakeRuntime struct {
	mat     *fakeMaterializer
	loadErr error
	models  []string
}

func (r *fakeRuntime) LoadModel(_ context.Context, source string) (malloy.Materializer, error) {
	r.models = append(r.models, source)
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	return r.mat, nil
}

func runtimeFor(rt Runtime) RuntimeFunc {
	return func(string) (Runtime, error) { return rt, nil }
}

const isolationNotebook = `>>>markdown
# Flights
>>>malloy
import { flights } from './flights.malloy'
>>>malloy
run: broken -> { select: * }
>>>malloy
run: flights -> { group_by: carrier }
`

func TestExecute_CellIsolation(t *testing.T) {
	ok := &malloy.Result{Rows: [][]any{{"AA"}}}
	rt := &fakeRuntime{mat: &fakeMaterializer{results: map[string]*malloy.Result{
		"run: flights -> { group_by: carrier }": ok,
	}}}
	nb := notebook.Parse(isolationNotebook)

	out, err := New(Options{Logger: testutil.NewTestLogger(t)}).Execute(context.Background(), runtimeFor(rt), "flights", nb)
	require.NoError(t, err)
	require.Len(t, out.Cells, 4)

	assert.Equal(t, &MarkdownOutput{Content: "# Flights"}, out.Cells[0])

	importOnly, isMalloy := out.Cells[1].(*MalloyOutput)
	require.True(t, isMalloy)
	assert.Nil(t, importOnly.Result)

	failed := out.Cells[2].(*MalloyOutput)
	require.NotNil(t, failed.Result)
	assert.Nil(t, failed.Result.Data)
	require.Len(t, failed.Result.Problems, 1)
	assert.Equal(t, "Unknown source", failed.Result.Problems[0].Title)

	succeeded := out.Cells[3].(*MalloyOutput)
	require.NotNil(t, succeeded.Result)
	assert.Same(t, ok, succeeded.Result.Data)
	assert.Empty(t, succeeded.Result.Problems)

	assert.Equal(t, 1, out.Failed())
	assert.Equal(t, "Flights", out.Metadata.Title)
	assert.Len(t, rt.mat.queries, 2, "import-only cell must not execute")
}

func TestExecute_ModelIsAllMalloyCells(t *testing.T) {
	rt := &fakeRuntime{mat: &fakeMaterializer{}}
	nb := notebook.Parse(isolationNotebook)

	_, err := Execute(context.Background(), runtimeFor(rt), "flights", nb)
	require.NoError(t, err)
	require.Len(t, rt.models, 1)
	assert.Equal(t, nb.ToModel(), rt.models[0])
	assert.True(t, strings.HasPrefix(rt.models[0], "import { flights }"))
}

func TestExecute_ModelErrorFailsNotebook(t *testing.T) {
	modelErr := &malloy.ModelError{URL: "nb", Problems: []malloy.Diagnostic{{Severity: malloy.SeverityError, Title: "Unresolved import"}}}
	rt := &fakeRuntime{mat: &fakeMaterializer{}, loadErr: modelErr}

	out, err := Execute(context.Background(), runtimeFor(rt), "nb", notebook.Parse(isolationNotebook))
	require.Error(t, err)
	assert.Nil(t, out)

	var me *malloy.ModelError
	require.True(t, errors.As(err, &me))
	assert.Empty(t, rt.mat.queries)
}

func TestExecute_RuntimeError(t *testing.T) {
	runtimes := func(string) (Runtime, error) { return nil, errors.New("no such notebook") }

	_, err := Execute(context.Background(), runtimes, "missing", notebook.Parse(isolationNotebook))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestExecute_PreservesOrderUnderConcurrency(t *testing.T) {
	var b strings.Builder
	results := make(map[string]*malloy.Result)
	for i := range 20 {
		q := "run: q" + string(rune('a'+i))
		b.WriteString(">>>malloy\n" + q + "\n")
		results[q] = &malloy.Result{SQL: q}
	}
	rt := &fakeRuntime{mat: &fakeMaterializer{results: results}}

	var calls atomic.Int32
	e := New(Options{Concurrency: 8, OnCell: func(int, CellOutput) { calls.Add(1) }})
	out, err := e.Execute(context.Background(), runtimeFor(rt), "many", notebook.Parse(b.String()))
	require.NoError(t, err)

	require.Len(t, out.Cells, 20)
	for i, c := range out.Cells {
		m := c.(*MalloyOutput)
		assert.Equal(t, "run: q"+string(rune('a'+i)), m.Result.Data.SQL)
	}
	assert.Equal(t, int32(20), calls.Load())
	assert.Zero(t, out.Failed())
}

func TestExecute_CancelledContext(t *testing.T) {
	rt := &fakeRuntime{mat: &fakeMaterializer{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Execute(ctx, runtimeFor(rt), "nb", notebook.Parse(isolationNotebook))
	require.ErrorIs(t, err, context.Canceled)
}

func TestOutput_MarshalJSON(t *testing.T) {
	out := &Output{
		Cells: []CellOutput{
			&MarkdownOutput{Content: "# T"},
			&MalloyOutput{Code: "run: x", Result: &QueryResult{Problems: []malloy.Diagnostic{{Severity: malloy.SeverityError, Title: "Boom"}}}},
		},
		Metadata: notebook.Metadata{Title: "T"},
	}

	data, err := json.Marshal(out)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	cells := decoded["cells"].([]any)
	require.Len(t, cells, 2)
	assert.Equal(t, "markdown", cells[0].(map[string]any)["type"])
	assert.Equal(t, "malloy", cells[1].(map[string]any)["type"])
	assert.Equal(t, map[string]any{"title": "T"}, decoded["metadata"])
}

func TestExecute_CellPanicIsIsolated(t *testing.T) {
	ok := &malloy.Result{Rows: [][]any{{"AA"}}}
	mat := &panickingMaterializer{fakeMaterializer{results: map[string]*malloy.Result{
		"run: flights -> { group_by: carrier }": ok,
	}}}
	nb := notebook.Parse(">>>malloy\nrun: boom -> { select: * }\n>>>malloy\nrun: flights -> { group_by: carrier }\n")

	out, err := New(Options{Logger: testutil.NewTestLogger(t)}).Execute(context.Background(), runtimeFor(staticRuntime{mat: mat}), "flights", nb)
	require.NoError(t, err)
	require.Len(t, out.Cells, 2)

	failed := out.Cells[0].(*MalloyOutput)
	require.NotNil(t, failed.Result)
	require.Len(t, failed.Result.Problems, 1)
	assert.Equal(t, "Internal error", failed.Result.Problems[0].Title)
	assert.Contains(t, failed.Result.Problems[0].Content, "boom")

	assert.Same(t, ok, out.Cells[1].(*MalloyOutput).Result.Data)
	assert.Equal(t, 1, out.Failed())
}

func TestExecute_MultilineOrderBy(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flights.csv"), []byte("carrier,origin\nAA,SFO\nAA,JFK\nUA,SFO\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flights.malloy"), []byte("source: flights is duckdb.table('flights.csv')\n"), 0o600))

	rt := malloy.NewRuntime(malloy.Config{
		Reader:      malloy.DirReader{Root: dir},
		Connections: map[string]adapter.Config{"duckdb": {Type: "duckdb", BaseDir: dir}},
	})
	t.Cleanup(func() { _ = rt.Close() })

	nb := notebook.Parse(`>>>malloy
import { flights } from './flights.malloy'
>>>malloy
run: flights -> {
  group_by: carrier
  order_by: (carrier
    || 'x') desc
}
>>>malloy
run: flights -> { group_by: carrier }
`)

	var out *Output
	var err error
	require.NotPanics(t, func() {
		out, err = New(Options{Logger: testutil.NewTestLogger(t)}).Execute(context.Background(), runtimeFor(rt), "flights", nb)
	})
	require.NoError(t, err)
	require.Len(t, out.Cells, 3)

	ordered := out.Cells[1].(*MalloyOutput)
	require.NotNil(t, ordered.Result)

	sibling := out.Cells[2].(*MalloyOutput)
	require.NotNil(t, sibling.Result)
	require.NotNil(t, sibling.Result.Data)
	assert.Equal(t, 2, sibling.Result.Data.RowCount())
}
