package tui

import "github.com/charmbracelet/lipgloss"

const (
	maxLogLines    = 200
	minLogPaneRows = 3
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"}).
			Background(lipgloss.AdaptiveColor{Light: "#D0D0D0", Dark: "#303030"}).
			Padding(0, 2)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#606060", Dark: "#A0A0A0"}).
			Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().Bold(true)

	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#808080", Dark: "#808080"})
	runningStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#0000CC", Dark: "#58A6FF"})
	passedStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#006400", Dark: "#32CD32"})
	failedStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#B22222", Dark: "#FF6B6B"})
	cancelledStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#8B4513", Dark: "#FFA500"})

	logLineStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#303030", Dark: "#D0D0D0"})
	logWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#8B4513", Dark: "#FFA500"})
	logErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B22222", Dark: "#FF6B6B"})

	footerStyle = lipgloss.NewStyle().Faint(true)
)
