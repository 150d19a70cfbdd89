// Package common provides shared helpers for UI feature handlers.
package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/leapstack-labs/malloynb/internal/state"
	"github.com/leapstack-labs/malloynb/pkg/malloy"
)

// ErrorResponse is the body of every failed API request.
type ErrorResponse struct {
	Error    string              `json:"error"`
	Problems []malloy.Diagnostic `json:"problems,omitempty"`
}

// WriteJSON writes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes err as an ErrorResponse. The status is derived from the
// error unless status is non-zero.
func WriteError(w http.ResponseWriter, status int, err error) {
	if status == 0 {
		status = StatusFor(err)
	}
	resp := ErrorResponse{Error: err.Error()}
	var me *malloy.ModelError
	var qe *malloy.QueryError
	if errors.As(err, &me) || errors.As(err, &qe) {
		resp.Problems = malloy.Problems(err)
	}
	WriteJSON(w, status, resp)
}

// StatusFor maps an error to an HTTP status.
func StatusFor(err error) int {
	var me *malloy.ModelError
	var qe *malloy.QueryError
	switch {
	case errors.Is(err, os.ErrNotExist), errors.Is(err, malloy.ErrNotFound), errors.Is(err, state.ErrRunNotFound):
		return http.StatusNotFound
	case errors.As(err, &me), errors.As(err, &qe):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// PathParam returns the unescaped chi URL parameter. Model names holding a
// slash arrive escaped as %2F.
func PathParam(r *http.Request, key string) (string, error) {
	raw := chi.URLParam(r, key)
	v, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if v == "" {
		return "", fmt.Errorf("missing %s", key)
	}
	return v, nil
}

// QueryBool reads a boolean query parameter, defaulting to false.
func QueryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}

// QueryInt reads a positive integer query parameter.
func QueryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
