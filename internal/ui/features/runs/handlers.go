package runs

import (
	"errors"
	"net/http"

	"github.com/leapstack-labs/malloynb/internal/state"
	"github.com/leapstack-labs/malloynb/internal/ui/features/common"
)

// defaultLimit is the number of runs listed when ?limit= is not given.
const defaultLimit = 50

// Handlers provides HTTP handlers for the runs history feature.
type Handlers struct {
	store state.Store
}

// NewHandlers creates a new Handlers instance. A nil store answers every
// request with 503.
func NewHandlers(store state.Store) *Handlers {
	return &Handlers{store: store}
}

// RunDetailResponse is a run with its recorded cells.
type RunDetailResponse struct {
	*state.Run
	DurationMs int64           `json:"duration_ms"`
	CellRuns   []state.CellRun `json:"cell_runs"`
}

var errNoStore = errors.New("run history is not available")

// ListRuns lists recent runs, newest first.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		common.WriteError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	runs, err := h.store.ListRuns(r.Context(), r.URL.Query().Get("notebook"), common.QueryInt(r, "limit", defaultLimit))
	if err != nil {
		common.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []*state.Run{}
	}
	common.WriteJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// RunDetail returns one run and its cells.
func (h *Handlers) RunDetail(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		common.WriteError(w, http.StatusServiceUnavailable, errNoStore)
		return
	}
	id, err := common.PathParam(r, "id")
	if err != nil {
		common.WriteError(w, http.StatusBadRequest, err)
		return
	}
	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		common.WriteError(w, 0, err)
		return
	}
	cells, err := h.store.ListCellRuns(r.Context(), id)
	if err != nil {
		common.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	if cells == nil {
		cells = []state.CellRun{}
	}
	common.WriteJSON(w, http.StatusOK, RunDetailResponse{
		Run:        run,
		DurationMs: run.Duration().Milliseconds(),
		CellRuns:   cells,
	})
}
