// Package executor runs every cell of a parsed notebook against the model
// assembled from its malloy cells.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/malloynb/pkg/malloy"
	"github.com/leapstack-labs/malloynb/pkg/notebook"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of cells executed at once when
// Options.Concurrency is not set.
const DefaultConcurrency = 4

// Runtime compiles model text into a materializer.
type Runtime interface {
	LoadModel(ctx context.Context, source string) (malloy.Materializer, error)
}

// RuntimeFunc returns the runtime for a notebook id.
type RuntimeFunc func(notebookID string) (Runtime, error)

// Options configures an Executor.
type Options struct {
	// Concurrency limits cells executed at once. Zero uses DefaultConcurrency.
	Concurrency int
	// OnCell, if set, is called as each cell finishes. Calls may come from
	// several goroutines at once and in any order.
	OnCell func(index int, out CellOutput)
	Logger *slog.Logger
}

// Executor executes notebooks.
type Executor struct {
	concurrency int
	onCell      func(int, CellOutput)
	logger      *slog.Logger
}

// New creates an executor.
func New(opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Executor{
		concurrency: concurrency,
		onCell:      opts.OnCell,
		logger:      logger,
	}
}

// Execute runs nb with default options.
func Execute(ctx context.Context, runtimes RuntimeFunc, notebookID string, nb *notebook.Notebook) (*Output, error) {
	return New(Options{}).Execute(ctx, runtimes, notebookID, nb)
}

// Execute assembles the notebook's model and runs its cells.
//
// Failing to obtain the runtime or compile the model fails the whole call and
// no cell runs. A query failure in a cell is recorded in that cell's result
// and never affects the other cells. Cells may run concurrently but outputs
// are returned in cell order.
func (e *Executor) Execute(ctx context.Context, runtimes RuntimeFunc, notebookID string, nb *notebook.Notebook) (*Output, error) {
	start := time.Now()
	e.logger.Debug("executing notebook", "notebook", notebookID, "cells", len(nb.Cells))

	rt, err := runtimes(notebookID)
	if err != nil {
		return nil, fmt.Errorf("failed to get runtime for notebook %s: %w", notebookID, err)
	}
	mat, err := rt.LoadModel(ctx, nb.ToModel())
	if err != nil {
		return nil, err
	}

	out := &Output{
		Cells:    make([]CellOutput, len(nb.Cells)),
		Metadata: nb.Metadata,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, cell := range nb.Cells {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			var co CellOutput
			switch c := cell.(type) {
			case *notebook.MarkdownCell:
				co = &MarkdownOutput{Content: c.Content}
			case *notebook.MalloyCell:
				co = e.runCell(gctx, mat, i, c)
			default:
				panic(fmt.Sprintf("executor: unknown cell type %T", cell))
			}

			out.Cells[i] = co
			if e.onCell != nil {
				e.onCell(i, co)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.logger.Debug("notebook executed",
		"notebook", notebookID,
		"failed_cells", out.Failed(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (e *Executor) runCell(ctx context.Context, mat malloy.Materializer, index int, cell *notebook.MalloyCell) (out *MalloyOutput) {
	out = &MalloyOutput{Code: cell.Code}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("cell panicked", "cell", index, "panic", r)
			out.Result = &QueryResult{Problems: []malloy.Diagnostic{{
				Severity: malloy.SeverityError,
				Title:    "Internal error",
				Content:  fmt.Sprintf("query execution panicked: %v", r),
			}}}
		}
	}()

	code := notebook.StripImports(cell.Code)
	if code == "" {
		e.logger.Debug("skipping cell without queries", "cell", index)
		return out
	}

	start := time.Now()
	res, err := mat.RunQuery(ctx, code)
	if err != nil {
		e.logger.Debug("cell failed", "cell", index, "error", err.Error())
		out.Result = &QueryResult{Problems: malloy.Problems(err)}
		return out
	}

	e.logger.Debug("cell executed",
		"cell", index,
		"rows", res.RowCount(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	out.Result = &QueryResult{Data: res}
	return out
}
