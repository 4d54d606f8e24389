package tui

import (
	"github.com/charmbracelet/lipgloss"

	"pkt.systems/taskwatch/internal/logclass"
	"pkt.systems/taskwatch/schema"
)

// Theme colors.
const (
	ColorAccent  = "86"
	ColorBorder  = "205"
	ColorDanger  = "196"
	ColorMuted   = "241"
	ColorText    = "252"
	ColorWarning = "208"
	ColorSuccess = "42"
	ColorInfo    = "39"
)

type styles struct {
	Title   lipgloss.Style
	Muted   lipgloss.Style
	Hint    lipgloss.Style
	Banner  lipgloss.Style
	Error   lipgloss.Style
	Stamp   lipgloss.Style
	Online  lipgloss.Style
	Offline lipgloss.Style
	Box     lipgloss.Style
}

var defaultStyles = styles{
	Title: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(ColorAccent)),
	Muted: lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorMuted)),
	Hint: lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorMuted)),
	Banner: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(ColorText)).
		Background(lipgloss.Color(ColorDanger)).
		Padding(0, 1),
	Error: lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorDanger)),
	Stamp: lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorMuted)),
	Online: lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorSuccess)),
	Offline: lipgloss.NewStyle().
		Foreground(lipgloss.Color(ColorDanger)),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorBorder)).
		Padding(0, 1),
}

func categoryStyle(category logclass.Category) lipgloss.Style {
	color := ColorText
	switch category {
	case logclass.Start, logclass.Network:
		color = ColorInfo
	case logclass.Success:
		color = ColorSuccess
	case logclass.Error:
		color = ColorDanger
	case logclass.Warning, logclass.Stop:
		color = ColorWarning
	case logclass.Stats, logclass.Summary:
		color = ColorAccent
	case logclass.Debug, logclass.Time:
		color = ColorMuted
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
}

func statusBadge(status schema.TaskStatus) string {
	color := ColorMuted
	switch status {
	case schema.StatusRunning:
		color = ColorInfo
	case schema.StatusStopping:
		color = ColorWarning
	case schema.StatusCompleted:
		color = ColorSuccess
	case schema.StatusFailed:
		color = ColorDanger
	case schema.StatusStopped, schema.StatusCancelled:
		color = ColorWarning
	}
	label := string(status)
	if label == "" {
		label = string(schema.StatusIdle)
	}
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color(color)).
		Padding(0, 1).
		Render(label)
}
