package models

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/leapstack-labs/malloynb/internal/cache"
	"github.com/leapstack-labs/malloynb/internal/ui/features/common"
	"github.com/leapstack-labs/malloynb/pkg/malloy"
	"github.com/leapstack-labs/malloynb/pkg/notebook"
)

// Handlers provides HTTP handlers for the models feature.
type Handlers struct {
	cache     *cache.Cache
	modelsDir string
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(c *cache.Cache, modelsDir string, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handlers{cache: c, modelsDir: modelsDir, logger: logger}
}

// ModelList is the response of ListModels.
type ModelList struct {
	// Models are the model files found under the models directory.
	Models []string `json:"models"`
	// Cached are the models compiled so far.
	Cached []string `json:"cached"`
}

// QueryRequest is the body of a POSTed query.
type QueryRequest struct {
	Query string `json:"query"`
}

// QueryResponse is the result of a query against a source.
type QueryResponse struct {
	Model      string         `json:"model"`
	Source     string         `json:"source"`
	Query      string         `json:"query"`
	Structured bool           `json:"structured"`
	Result     *malloy.Result `json:"result"`
}

// ListModels lists model files and the models already cached.
func (h *Handlers) ListModels(w http.ResponseWriter, _ *http.Request) {
	models, err := notebook.ListModels(h.modelsDir)
	if err != nil {
		common.WriteError(w, http.StatusInternalServerError, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, ModelList{Models: models, Cached: h.cache.Models()})
}

// Model returns a compiled model, compiling it on first request.
func (h *Handlers) Model(w http.ResponseWriter, r *http.Request) {
	name, err := common.PathParam(r, "model")
	if err != nil {
		common.WriteError(w, http.StatusBadRequest, err)
		return
	}
	entry, err := h.cache.LoadModel(r.Context(), name)
	if err != nil {
		h.logger.Debug("model load failed", "model", name, "error", err)
		common.WriteError(w, 0, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, entry.View())
}

// Source returns an introspected source. ?top_values=true adds the most
// frequent values of its string fields.
func (h *Handlers) Source(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.loadSource(w, r, common.QueryBool(r, "top_values"))
	if !ok {
		return
	}
	common.WriteJSON(w, http.StatusOK, entry.View())
}

// Query runs a query in the context of a source's model. The query comes
// from ?q= or from a JSON body on POST.
func (h *Handlers) Query(w http.ResponseWriter, r *http.Request) {
	querySrc := r.URL.Query().Get("q")
	if r.Method == http.MethodPost {
		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			common.WriteError(w, http.StatusBadRequest, errors.New("invalid query request: "+err.Error()))
			return
		}
		querySrc = req.Query
	}
	if strings.TrimSpace(querySrc) == "" {
		common.WriteError(w, http.StatusBadRequest, errors.New("missing query"))
		return
	}

	entry, ok := h.loadSource(w, r, false)
	if !ok {
		return
	}
	query, err := h.cache.LoadQuery(r.Context(), entry, querySrc)
	if err != nil {
		common.WriteError(w, 0, err)
		return
	}
	res, err := h.cache.LoadQueryResult(r.Context(), entry, nil, query, querySrc)
	if err != nil {
		common.WriteError(w, 0, err)
		return
	}

	common.WriteJSON(w, http.StatusOK, QueryResponse{
		Model:      entry.Key.Model,
		Source:     entry.Key.Source,
		Query:      querySrc,
		Structured: query != nil,
		Result:     res,
	})
}

// Stats reports cache traffic.
func (h *Handlers) Stats(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSON(w, http.StatusOK, h.cache.Stats())
}

func (h *Handlers) loadSource(w http.ResponseWriter, r *http.Request, topValues bool) (*cache.SourceEntry, bool) {
	model, err := common.PathParam(r, "model")
	if err != nil {
		common.WriteError(w, http.StatusBadRequest, err)
		return nil, false
	}
	source, err := common.PathParam(r, "source")
	if err != nil {
		common.WriteError(w, http.StatusBadRequest, err)
		return nil, false
	}
	entry, err := h.cache.LoadSource(r.Context(), model, source, topValues)
	if err != nil {
		h.logger.Debug("source load failed", "model", model, "source", source, "error", err)
		common.WriteError(w, 0, err)
		return nil, false
	}
	return entry, true
}
