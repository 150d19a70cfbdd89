package executor

import (
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/malloynb/pkg/malloy"
	"github.com/leapstack-labs/malloynb/pkg/notebook"
)

// NotebookRuntimes maps a notebook id to a view of rt whose relative
// imports resolve against the notebook's location under modelsDir.
func NotebookRuntimes(rt *malloy.Runtime, modelsDir, notebooksDir string) RuntimeFunc {
	return func(id string) (Runtime, error) {
		return rt.WithBaseURL(NotebookURL(modelsDir, notebooksDir, id)), nil
	}
}

// NotebookURL returns the model URL of a notebook relative to modelsDir.
// Notebooks outside modelsDir resolve imports against its root.
func NotebookURL(modelsDir, notebooksDir, id string) string {
	rel, err := filepath.Rel(modelsDir, notebook.Path(notebooksDir, id))
	if err != nil || strings.HasPrefix(rel, "..") {
		return id + notebook.FileExtension
	}
	return filepath.ToSlash(rel)
}
