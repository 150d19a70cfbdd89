package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leapstack-labs/malloynb/internal/testutil"
	"github.com/leapstack-labs/malloynb/pkg/malloy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingMaterializer struct {
	model      *malloy.Model
	describes  atomic.Int32
	topValues  atomic.Int32
	loads      atomic.Int32
	runs       atomic.Int32
	rawRuns    atomic.Int32
	describeIn time.Duration
}

func (m *countingMaterializer) Model() *malloy.Model { return m.model }

func (m *countingMaterializer) LoadQuery(_ context.Context, q string) (*malloy.Query, error) {
	m.loads.Add(1)
	if strings.Contains(q, "->") {
		return &malloy.Query{Text: q}, nil
	}
	return nil, nil
}

func (m *countingMaterializer) Run(_ context.Context, q *malloy.Query) (*malloy.Result, error) {
	m.runs.Add(1)
	return &malloy.Result{SQL: "structured:" + q.Text}, nil
}

func (m *countingMaterializer) RunQuery(_ context.Context, q string) (*malloy.Result, error) {
	m.rawRuns.Add(1)
	if strings.Contains(q, "fail") {
		return nil, &malloy.QueryError{Problems: []malloy.Diagnostic{{Severity: malloy.SeverityError, Title: "Execution error"}}}
	}
	return &malloy.Result{SQL: "raw:" + q}, nil
}

func (m *countingMaterializer) DescribeSource(_ context.Context, name string) (*malloy.SourceInfo, error) {
	m.describes.Add(1)
	if m.describeIn > 0 {
		time.Sleep(m.describeIn)
	}
	if _, ok := m.model.Sources[name]; !ok {
		return nil, errors.New("unknown source " + name)
	}
	return &malloy.SourceInfo{Name: name, Fields: []malloy.Field{{Name: "carrier", Type: "VARCHAR"}}}, nil
}

func (m *countingMaterializer) SearchValueMap(_ context.Context, _ string, limit int) ([]malloy.FieldValues, error) {
	m.topValues.Add(1)
	return []malloy.FieldValues{{Field: "carrier", Values: []malloy.ValueCount{{Value: "AA", Count: int64(limit)}}}}, nil
}

type countingLoader struct {
	mu    sync.Mutex
	urls  []string
	mat   *countingMaterializer
	fails bool
}

func (l *countingLoader) LoadModelFromURL(_ context.Context, url string) (malloy.Materializer, error) {
	l.mu.Lock()
	l.urls = append(l.urls, url)
	l.mu.Unlock()
	if l.fails {
		return nil, &malloy.ModelError{URL: url}
	}
	return l.mat, nil
}

func (l *countingLoader) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.urls)
}

func newFixture(t *testing.T) (*Cache, *countingLoader) {
	t.Helper()
	mat := &countingMaterializer{model: &malloy.Model{Sources: map[string]*malloy.Source{"flights": {Name: "flights"}}}}
	loader := &countingLoader{mat: mat}
	return New(loader, testutil.NewTestLogger(t), WithTopValuesLimit(7)), loader
}

func TestCache_LoadModelOnce(t *testing.T) {
	c, loader := newFixture(t)
	ctx := context.Background()

	first, err := c.LoadModel(ctx, "models/flights")
	require.NoError(t, err)
	second, err := c.LoadModel(ctx, "models/flights")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, []string{"models/flights.malloy"}, loader.urls)
	assert.Equal(t, []string{"models/flights"}, c.Models())
	assert.Equal(t, Counter{Entries: 1, Hits: 1, Misses: 1}, c.Stats().Models)
}

func TestCache_ModelFailureNotCached(t *testing.T) {
	c, loader := newFixture(t)
	loader.fails = true

	_, err := c.LoadModel(context.Background(), "broken")
	require.Error(t, err)
	var me *malloy.ModelError
	assert.True(t, errors.As(err, &me))

	_, err = c.LoadModel(context.Background(), "broken")
	require.Error(t, err)
	assert.Equal(t, 2, loader.calls())
	assert.Empty(t, c.Models())
}

func TestCache_SourceKeyIndependence(t *testing.T) {
	c, loader := newFixture(t)
	ctx := context.Background()

	plain1, err := c.LoadSource(ctx, "flights", "flights", false)
	require.NoError(t, err)
	plain2, err := c.LoadSource(ctx, "flights", "flights", false)
	require.NoError(t, err)
	top1, err := c.LoadSource(ctx, "flights", "flights", true)
	require.NoError(t, err)
	top2, err := c.LoadSource(ctx, "flights", "flights", true)
	require.NoError(t, err)

	assert.Same(t, plain1, plain2)
	assert.Same(t, top1, top2)
	assert.NotSame(t, plain1, top1)

	assert.Nil(t, plain1.TopValues)
	require.Len(t, top1.TopValues, 1)
	assert.Equal(t, int64(7), top1.TopValues[0].Values[0].Count)

	assert.Equal(t, int32(2), loader.mat.describes.Load(), "each entry introspects exactly once")
	assert.Equal(t, int32(1), loader.mat.topValues.Load())
	assert.Equal(t, 1, loader.calls(), "the model compiles once for both entries")
	assert.Equal(t, Counter{Entries: 2, Hits: 2, Misses: 2}, c.Stats().Sources)
}

func TestCache_SourceKeysDoNotCollide(t *testing.T) {
	c, loader := newFixture(t)
	loader.mat.model.Sources["b:c"] = &malloy.Source{Name: "b:c"}
	loader.mat.model.Sources["c"] = &malloy.Source{Name: "c"}
	ctx := context.Background()

	a, err := c.LoadSource(ctx, "a:b", "c", false)
	require.NoError(t, err)
	b, err := c.LoadSource(ctx, "a", "b:c", false)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, "c", a.Info.Name)
	assert.Equal(t, "b:c", b.Info.Name)
}

func TestCache_ConcurrentMissesComputeOnce(t *testing.T) {
	c, loader := newFixture(t)
	loader.mat.describeIn = 20 * time.Millisecond

	var wg sync.WaitGroup
	entries := make([]*SourceEntry, 16)
	for i := range entries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := c.LoadSource(context.Background(), "flights", "flights", false)
			assert.NoError(t, err)
			entries[i] = e
		}()
	}
	wg.Wait()

	for _, e := range entries {
		assert.Same(t, entries[0], e)
	}
	assert.Equal(t, int32(1), loader.mat.describes.Load())
}

func TestCache_SourceFailure(t *testing.T) {
	c, loader := newFixture(t)

	_, err := c.LoadSource(context.Background(), "flights", "nope", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")

	_, err = c.LoadSource(context.Background(), "flights", "nope", false)
	require.Error(t, err)
	assert.Equal(t, int32(2), loader.mat.describes.Load())
}

func TestCache_LoadQuery(t *testing.T) {
	c, loader := newFixture(t)
	ctx := context.Background()
	src, err := c.LoadSource(ctx, "flights", "flights", false)
	require.NoError(t, err)

	q1, err := c.LoadQuery(ctx, src, "run: flights -> { select: * }")
	require.NoError(t, err)
	require.NotNil(t, q1)
	q2, err := c.LoadQuery(ctx, src, "run: flights -> { select: * }")
	require.NoError(t, err)
	assert.Same(t, q1, q2)

	raw1, err := c.LoadQuery(ctx, src, `run: duckdb.sql("SELECT 1")`)
	require.NoError(t, err)
	assert.Nil(t, raw1)
	raw2, err := c.LoadQuery(ctx, src, `run: duckdb.sql("SELECT 1")`)
	require.NoError(t, err)
	assert.Nil(t, raw2)

	assert.Equal(t, int32(2), loader.mat.loads.Load(), "absent queries are cached too")

	// byte-exact keys
	_, err = c.LoadQuery(ctx, src, "run: flights -> {  select: * }")
	require.NoError(t, err)
	assert.Equal(t, int32(3), loader.mat.loads.Load())
}

func TestCache_LoadQueryResult(t *testing.T) {
	c, loader := newFixture(t)
	ctx := context.Background()
	src, err := c.LoadSource(ctx, "flights", "flights", false)
	require.NoError(t, err)

	structured := "run: flights -> { select: * }"
	q, err := c.LoadQuery(ctx, src, structured)
	require.NoError(t, err)

	res1, err := c.LoadQueryResult(ctx, src, nil, q, structured)
	require.NoError(t, err)
	res2, err := c.LoadQueryResult(ctx, src, src.Model.Materializer, q, structured)
	require.NoError(t, err)
	assert.Same(t, res1, res2)
	assert.Equal(t, "structured:"+structured, res1.SQL)
	assert.Equal(t, int32(1), loader.mat.runs.Load())

	raw := `run: duckdb.sql("SELECT 1")`
	res3, err := c.LoadQueryResult(ctx, src, nil, nil, raw)
	require.NoError(t, err)
	assert.Equal(t, "raw:"+raw, res3.SQL)
	assert.Equal(t, int32(1), loader.mat.rawRuns.Load())

	_, err = c.LoadQueryResult(ctx, src, nil, nil, "fail")
	require.Error(t, err)
	_, err = c.LoadQueryResult(ctx, src, nil, nil, "fail")
	require.Error(t, err)
	assert.Equal(t, int32(3), loader.mat.rawRuns.Load(), "failures are retried")

	stats := c.Stats().Results
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, int64(1), stats.Hits)
}

func TestCache_ResultsScopedPerSource(t *testing.T) {
	c, loader := newFixture(t)
	ctx := context.Background()
	plain, err := c.LoadSource(ctx, "flights", "flights", false)
	require.NoError(t, err)
	top, err := c.LoadSource(ctx, "flights", "flights", true)
	require.NoError(t, err)

	_, err = c.LoadQueryResult(ctx, plain, nil, nil, "q")
	require.NoError(t, err)
	_, err = c.LoadQueryResult(ctx, top, nil, nil, "q")
	require.NoError(t, err)
	assert.Equal(t, int32(2), loader.mat.rawRuns.Load())
}

func TestCache_CallerCancellation(t *testing.T) {
	c, loader := newFixture(t)
	loader.mat.describeIn = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := c.LoadSource(ctx, "flights", "flights", false)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// the detached computation still completes and is stored
	require.Eventually(t, func() bool {
		return c.Stats().Sources.Entries == 1
	}, time.Second, 5*time.Millisecond)

	entry, err := c.LoadSource(context.Background(), "flights", "flights", false)
	require.NoError(t, err)
	assert.Equal(t, "flights", entry.Info.Name)
	assert.Equal(t, int32(1), loader.mat.describes.Load())
}
