package notebooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/leapstack-labs/malloynb/internal/executor"
	"github.com/leapstack-labs/malloynb/internal/state"
	"github.com/leapstack-labs/malloynb/internal/ui/features/common"
	"github.com/leapstack-labs/malloynb/internal/ui/notifier"
	"github.com/leapstack-labs/malloynb/pkg/malloy"
	"github.com/leapstack-labs/malloynb/pkg/notebook"
	"github.com/starfederation/datastar-go/datastar"
)

// Config holds the dependencies of the notebooks feature.
type Config struct {
	Runtime      *malloy.Runtime
	Store        state.Store // optional; runs are not recorded without it
	Notifier     *notifier.Notifier
	ModelsDir    string
	NotebooksDir string
	Concurrency  int
	Logger       *slog.Logger
}

// Handlers provides HTTP handlers for the notebooks feature.
type Handlers struct {
	runtimes     executor.RuntimeFunc
	recorder     *executor.Recorder
	notifier     *notifier.Notifier
	notebooksDir string
	concurrency  int
	logger       *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg Config) *Handlers {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &Handlers{
		runtimes:     executor.NotebookRuntimes(cfg.Runtime, cfg.ModelsDir, cfg.NotebooksDir),
		notifier:     cfg.Notifier,
		notebooksDir: cfg.NotebooksDir,
		concurrency:  cfg.Concurrency,
		logger:       logger,
	}
	if cfg.Store != nil {
		h.recorder = executor.NewRecorder(cfg.Store, logger)
	}
	return h
}

// NotebookSummary is one entry of the notebook list.
type NotebookSummary struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Error string `json:"error,omitempty"`
}

// CellView is a notebook cell tagged with its type.
type CellView struct {
	Type    notebook.CellType `json:"type"`
	Content string            `json:"content,omitempty"`
	Code    string            `json:"code,omitempty"`
}

// NotebookView is a parsed notebook.
type NotebookView struct {
	ID       string                     `json:"id"`
	Metadata notebook.Metadata          `json:"metadata"`
	Cells    []CellView                 `json:"cells"`
	Sources  []notebook.SourceReference `json:"sources"`
}

// RunSignals are the datastar signals patched while a notebook runs.
type RunSignals struct {
	Notebook string              `json:"notebook"`
	Running  bool                `json:"running"`
	RunID    string              `json:"run_id,omitempty"`
	Cells    int                 `json:"cell_count"`
	Failed   int                 `json:"failed"`
	Output   *executor.Output    `json:"output,omitempty"`
	Error    string              `json:"error,omitempty"`
	Problems []malloy.Diagnostic `json:"problems,omitempty"`
}

// ListNotebooks lists the notebooks under the notebooks directory with
// their titles.
func (h *Handlers) ListNotebooks(w http.ResponseWriter, _ *http.Request) {
	ids, err := notebook.List(h.notebooksDir)
	if err != nil {
		common.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	list := make([]NotebookSummary, 0, len(ids))
	for _, id := range ids {
		s := NotebookSummary{ID: id}
		if nb, err := notebook.ParseFile(notebook.Path(h.notebooksDir, id)); err != nil {
			s.Error = err.Error()
		} else {
			s.Title = nb.Metadata.Title
		}
		list = append(list, s)
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"notebooks": list})
}

// Notebook returns a parsed notebook.
func (h *Handlers) Notebook(w http.ResponseWriter, r *http.Request) {
	id, nb, ok := h.load(w, r)
	if !ok {
		return
	}
	view := NotebookView{
		ID:       id,
		Metadata: nb.Metadata,
		Cells:    make([]CellView, len(nb.Cells)),
		Sources:  nb.Sources(),
	}
	if view.Sources == nil {
		view.Sources = []notebook.SourceReference{}
	}
	for i, c := range nb.Cells {
		switch c := c.(type) {
		case *notebook.MarkdownCell:
			view.Cells[i] = CellView{Type: c.Type(), Content: c.Content}
		case *notebook.MalloyCell:
			view.Cells[i] = CellView{Type: c.Type(), Code: c.Code}
		}
	}
	common.WriteJSON(w, http.StatusOK, view)
}

// RunNotebook executes a notebook and streams its cells as datastar signal
// patches. Each finished cell is patched under cells.<index>; the final
// patch carries the whole output.
func (h *Handlers) RunNotebook(w http.ResponseWriter, r *http.Request) {
	id, nb, ok := h.load(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	sse := datastar.NewSSE(w, r)
	if err := sse.MarshalAndPatchSignals(RunSignals{Notebook: id, Running: true, Cells: len(nb.Cells)}); err != nil {
		h.logger.Debug("client went away", "notebook", id, "error", err)
		return
	}

	var mu sync.Mutex
	exec := executor.New(executor.Options{
		Concurrency: h.concurrency,
		Logger:      h.logger,
		OnCell: func(index int, out executor.CellOutput) {
			data, err := executor.MarshalCell(out)
			if err != nil {
				h.logger.Warn("failed to encode cell", "notebook", id, "cell", index, "error", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			_ = sse.MarshalAndPatchSignals(map[string]any{
				"cells": map[string]json.RawMessage{strconv.Itoa(index): data},
			})
		},
	})

	var rec *executor.Recording
	if h.recorder != nil {
		rec = h.recorder.Start(ctx, id, nb)
	}
	out, err := exec.Execute(ctx, h.runtimes, id, nb)
	rec.Finish(ctx, out, err)

	mu.Lock()
	defer mu.Unlock()
	final := RunSignals{Notebook: id, RunID: rec.RunID(), Cells: len(nb.Cells)}
	if err != nil {
		h.logger.Warn("notebook run failed", "notebook", id, "error", err)
		final.Error = err.Error()
		final.Problems = malloy.Problems(err)
		_ = sse.MarshalAndPatchSignals(final)
		_ = sse.ConsoleError(err)
		return
	}
	final.Failed = out.Failed()
	final.Output = out
	_ = sse.MarshalAndPatchSignals(final)
}

// Updates streams file change events as datastar signal patches until the
// client disconnects.
func (h *Handlers) Updates(w http.ResponseWriter, r *http.Request) {
	if h.notifier == nil {
		common.WriteError(w, http.StatusNotFound, errors.New("file watching is disabled"))
		return
	}
	updates := h.notifier.Subscribe()
	defer h.notifier.Unsubscribe(updates)

	sse := datastar.NewSSE(w, r)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-updates:
			if err := sse.MarshalAndPatchSignals(map[string]any{"changed": ev}); err != nil {
				return
			}
		}
	}
}

// load resolves the notebook named by the route wildcard and parses it,
// writing an error response on failure.
func (h *Handlers) load(w http.ResponseWriter, r *http.Request) (string, *notebook.Notebook, bool) {
	id, err := notebookID(r)
	if err != nil {
		common.WriteError(w, http.StatusBadRequest, err)
		return "", nil, false
	}
	nb, err := notebook.ParseFile(notebook.Path(h.notebooksDir, id))
	if err != nil {
		var ve *notebook.ValidationError
		status := 0
		if errors.As(err, &ve) {
			status = http.StatusUnprocessableEntity
		}
		common.WriteError(w, status, err)
		return "", nil, false
	}
	return id, nb, true
}

// notebookID extracts the notebook id from the route wildcard. A trailing
// .malloynb is accepted.
func notebookID(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "*")
	id, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("invalid notebook id %q: %w", raw, err)
	}
	id = strings.TrimSuffix(strings.Trim(id, "/"), notebook.FileExtension)
	if id == "" {
		return "", errors.New("missing notebook id")
	}
	for _, seg := range strings.Split(id, "/") {
		if seg == ".." || seg == "." || seg == "" {
			return "", fmt.Errorf("invalid notebook id %q", id)
		}
	}
	return id, nil
}
