package notebook

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// List returns the ids of the notebooks below dir, sorted.
func List(dir string) ([]string, error) {
	return findFiles(dir, FileExtension)
}

// ListModels returns the names of the model files below dir, sorted. A
// model name is its slash-separated path without the extension.
func ListModels(dir string) ([]string, error) {
	return findFiles(dir, ModelExtension)
}

// findFiles walks dir for files with extension ext, skipping hidden
// directories.
func findFiles(dir, ext string) ([]string, error) {
	names := []string{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ext {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		names = append(names, strings.TrimSuffix(filepath.ToSlash(rel), ext))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s files in %s: %w", ext, dir, err)
	}
	sort.Strings(names)
	return names, nil
}
