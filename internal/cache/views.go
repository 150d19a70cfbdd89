package cache

import (
	"sort"
	"time"

	"github.com/leapstack-labs/malloynb/pkg/malloy"
)

// ModelView is the serializable form of a model entry.
type ModelView struct {
	Name     string           `json:"name"`
	Sources  []*malloy.Source `json:"sources"`
	Queries  []string         `json:"queries,omitempty"`
	LoadedAt time.Time        `json:"loaded_at"`
}

// View returns the serializable form of the entry. Named queries are sorted.
func (e *ModelEntry) View() ModelView {
	m := e.Model()
	queries := make([]string, 0, len(m.Queries))
	for name := range m.Queries {
		queries = append(queries, name)
	}
	sort.Strings(queries)
	return ModelView{
		Name:     e.Name,
		Sources:  m.ListSources(),
		Queries:  queries,
		LoadedAt: e.LoadedAt,
	}
}

// SourceView is the serializable form of a source entry.
type SourceView struct {
	Model      string               `json:"model"`
	Source     string               `json:"source"`
	Connection string               `json:"connection"`
	Fields     []malloy.Field       `json:"fields"`
	TopValues  []malloy.FieldValues `json:"top_values,omitempty"`
}

// View returns the serializable form of the entry.
func (e *SourceEntry) View() SourceView {
	return SourceView{
		Model:      e.Key.Model,
		Source:     e.Key.Source,
		Connection: e.Info.Connection,
		Fields:     e.Info.Fields,
		TopValues:  e.TopValues,
	}
}
