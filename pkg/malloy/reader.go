package malloy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by readers for URLs that do not exist.
var ErrNotFound = errors.New("not found")

// URLReader resolves model URLs to their text.
type URLReader interface {
	ReadURL(ctx context.Context, url string) (string, error)
}

// DirReader reads model URLs as slash-separated paths under Root.
type DirReader struct {
	Root string
}

// ReadURL implements URLReader.
func (r DirReader) ReadURL(_ context.Context, url string) (string, error) {
	clean := path.Clean("/" + url)[1:]
	if clean == "" {
		return "", fmt.Errorf("%w: empty url", ErrNotFound)
	}
	content, err := os.ReadFile(filepath.Join(r.Root, filepath.FromSlash(clean))) //nolint:gosec // rooted and cleaned above
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", url, err)
	}
	return string(content), nil
}

// MapReader serves model text from memory.
type MapReader map[string]string

// ReadURL implements URLReader.
func (r MapReader) ReadURL(_ context.Context, url string) (string, error) {
	text, ok := r[strings.TrimPrefix(path.Clean("/"+url), "/")]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	return text, nil
}

// ResolveURL resolves ref relative to the URL of the importing model.
// A leading "/" anchors ref at the reader root.
func ResolveURL(base, ref string) string {
	if strings.HasPrefix(ref, "/") {
		return strings.TrimPrefix(path.Clean(ref), "/")
	}
	return strings.TrimPrefix(path.Clean(path.Join(path.Dir(base), ref)), "/")
}
