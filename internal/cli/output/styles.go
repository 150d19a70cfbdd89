package output

import "github.com/charmbracelet/lipgloss"

// Status icons.
const (
	IconSuccess = "✓"
	IconFailed  = "✗"
	IconWarning = "!"
	IconSkipped = "○"
	IconRunning = "●"
)

// Styles holds lipgloss styles used by the renderer.
type Styles struct {
	Header    lipgloss.Style
	Subheader lipgloss.Style
	Success   lipgloss.Style
	Error     lipgloss.Style
	Warning   lipgloss.Style
	Info      lipgloss.Style
	Muted     lipgloss.Style
	Bold      lipgloss.Style
	Code      lipgloss.Style
	Path      lipgloss.Style
}

// DefaultStyles returns styles for color terminals.
func DefaultStyles() *Styles {
	return &Styles{
		Header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Subheader: lipgloss.NewStyle().Bold(true),
		Success:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		Warning:   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Info:      lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		Muted:     lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Bold:      lipgloss.NewStyle().Bold(true),
		Code:      lipgloss.NewStyle().Foreground(lipgloss.Color("13")),
		Path:      lipgloss.NewStyle().Underline(true),
	}
}

// PlainStyles returns styles that render text unchanged.
func PlainStyles() *Styles {
	plain := lipgloss.NewStyle()
	return &Styles{
		Header: plain, Subheader: plain, Success: plain, Error: plain, Warning: plain,
		Info: plain, Muted: plain, Bold: plain, Code: plain, Path: plain,
	}
}

func (r *Renderer) statusIcon(status string) (string, lipgloss.Style) {
	switch status {
	case "success", "completed":
		return IconSuccess, r.styles.Success
	case "failed", "error":
		return IconFailed, r.styles.Error
	case "skipped":
		return IconSkipped, r.styles.Muted
	case "running":
		return IconRunning, r.styles.Info
	default:
		return IconWarning, r.styles.Warning
	}
}
