package notebook

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Cell delimiters. A delimiter must start a trimmed line.
const (
	MalloyDelimiter   = ">>>malloy"
	MarkdownDelimiter = ">>>markdown"
)

// FileExtension is the extension of notebook files.
const FileExtension = ".malloynb"

// Validation messages.
const (
	ErrMsgEmpty        = "Notebook file is empty"
	ErrMsgNoDelimiters = "Notebook must contain at least one >>>malloy or >>>markdown cell"
)

var titlePattern = regexp.MustCompile(`(?m)^#\s+(.+)$`)

// Parse turns raw notebook text into ordered cells plus metadata.
// Content before the first delimiter is discarded.
func Parse(content string) *Notebook {
	nb := &Notebook{Cells: []Cell{}}

	var (
		open bool
		kind CellType
		buf  []string
	)

	flush := func() {
		if !open {
			return
		}
		text := strings.TrimSpace(strings.Join(buf, "\n"))
		switch kind {
		case CellTypeMalloy:
			nb.Cells = append(nb.Cells, &MalloyCell{Code: text})
		case CellTypeMarkdown:
			nb.Cells = append(nb.Cells, &MarkdownCell{Content: text})
		}
		buf = buf[:0]
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSuffix(line, "\r")
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, MalloyDelimiter):
			flush()
			open, kind = true, CellTypeMalloy
		case strings.HasPrefix(trimmed, MarkdownDelimiter):
			flush()
			open, kind = true, CellTypeMarkdown
		case open:
			buf = append(buf, line)
		}
	}
	flush()

	nb.Metadata = extractMetadata(nb.Cells)
	return nb
}

// extractMetadata reads the title from the first markdown cell only.
func extractMetadata(cells []Cell) Metadata {
	for _, c := range cells {
		md, ok := c.(*MarkdownCell)
		if !ok {
			continue
		}
		if m := titlePattern.FindStringSubmatch(md.Content); m != nil {
			return Metadata{Title: strings.TrimSpace(m[1])}
		}
		return Metadata{}
	}
	return Metadata{}
}

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Err returns the result as an error, or nil when valid.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &ValidationError{Errors: r.Errors}
}

// ValidationError reports why a notebook failed validation.
type ValidationError struct {
	Path   string
	Errors []string
}

func (e *ValidationError) Error() string {
	msg := strings.Join(e.Errors, "; ")
	if e.Path != "" {
		return fmt.Sprintf("invalid notebook %s: %s", e.Path, msg)
	}
	return "invalid notebook: " + msg
}

// Validate is a pre-check on raw notebook text. A valid result does not
// guarantee Parse yields any cells.
func Validate(content string) ValidationResult {
	if strings.TrimSpace(content) == "" {
		return ValidationResult{Errors: []string{ErrMsgEmpty}}
	}
	if !strings.Contains(content, MalloyDelimiter) && !strings.Contains(content, MarkdownDelimiter) {
		return ValidationResult{Errors: []string{ErrMsgNoDelimiters}}
	}
	return ValidationResult{Valid: true}
}

// ParseFile reads and validates a notebook file, then parses it.
// Validation failures are returned as *ValidationError.
func ParseFile(path string) (*Notebook, error) {
	content, err := os.ReadFile(path) //nolint:gosec // path comes from the caller's notebooks dir
	if err != nil {
		return nil, fmt.Errorf("failed to read notebook: %w", err)
	}

	if res := Validate(string(content)); !res.Valid {
		return nil, &ValidationError{Path: path, Errors: res.Errors}
	}

	return Parse(string(content)), nil
}

// ID derives a notebook id from its path relative to baseDir, using forward
// slashes and without the file extension.
func ID(baseDir, path string) string {
	rel, err := filepath.Rel(baseDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(path)
	}
	return strings.TrimSuffix(filepath.ToSlash(rel), FileExtension)
}

// Path is the inverse of ID.
func Path(baseDir, id string) string {
	return filepath.Join(baseDir, filepath.FromSlash(id)+FileExtension)
}
