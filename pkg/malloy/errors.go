package malloy

import (
	"errors"
	"fmt"
	"strings"
)

// Severity of a diagnostic.
type Severity string

// Severities.
const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"
	SeverityDebug Severity = "debug"
)

// Diagnostic is a severity-tagged message produced while compiling or
// running a query.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	// Line is 1-based within the compiled text, 0 when unknown.
	Line int `json:"line,omitempty"`
}

func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("%s: %s (line %d): %s", d.Severity, d.Title, d.Line, d.Content)
	}
	return fmt.Sprintf("%s: %s: %s", d.Severity, d.Title, d.Content)
}

func errorDiag(line int, title, format string, args ...any) Diagnostic {
	return Diagnostic{
		Severity: SeverityError,
		Title:    title,
		Content:  fmt.Sprintf(format, args...),
		Line:     line,
	}
}

func hasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ModelError is returned when model source fails to compile, e.g. a syntax
// error or an unresolved import.
type ModelError struct {
	URL      string
	Problems []Diagnostic
	// Err is the reader error when the model text could not be read.
	Err error
}

func (e *ModelError) Error() string {
	where := e.URL
	if where == "" {
		where = "<inline>"
	}
	return fmt.Sprintf("failed to compile model %s: %s", where, joinDiagnostics(e.Problems))
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// QueryError is returned when a query fails to compile or execute.
type QueryError struct {
	Problems []Diagnostic
	Err      error
}

func (e *QueryError) Error() string {
	return "query failed: " + joinDiagnostics(e.Problems)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

func joinDiagnostics(diags []Diagnostic) string {
	parts := make([]string, len(diags))
	for i, d := range diags {
		parts[i] = d.String()
	}
	return strings.Join(parts, "; ")
}

// Problems extracts diagnostics from err. Errors that carry none are reported
// as a single error diagnostic.
func Problems(err error) []Diagnostic {
	if err == nil {
		return nil
	}
	var qe *QueryError
	if errors.As(err, &qe) && len(qe.Problems) > 0 {
		return qe.Problems
	}
	var me *ModelError
	if errors.As(err, &me) && len(me.Problems) > 0 {
		return me.Problems
	}
	return []Diagnostic{{Severity: SeverityError, Title: "Error", Content: err.Error()}}
}

func queryErr(err error, title string) *QueryError {
	return &QueryError{
		Problems: []Diagnostic{{Severity: SeverityError, Title: title, Content: err.Error()}},
		Err:      err,
	}
}
