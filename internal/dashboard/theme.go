package dashboard

import "github.com/charmbracelet/lipgloss"

// Interaction colors.
var (
	colorChat     = lipgloss.Color("#3b82f6")
	colorReaction = lipgloss.Color("#f59e0b")
	colorMic      = lipgloss.Color("#22c55e")
	colorCamera   = lipgloss.Color("#06b6d4")
	colorManual   = lipgloss.Color("#a855f7")
	colorDefault  = lipgloss.Color("#9ca3af")
)

// UI chrome colors.
var (
	colorBorder  = lipgloss.Color("#4b5563")
	colorDimmed  = lipgloss.Color("#6b7280")
	colorBright  = lipgloss.Color("#f9fafb")
	colorHealthy = lipgloss.Color("#22c55e")
	colorWarning = lipgloss.Color("#d97706")
	colorDanger  = lipgloss.Color("#dc2626")
)

var (
	styleHeader   = lipgloss.NewStyle().Foreground(colorBright).Bold(true)
	styleDimmed   = lipgloss.NewStyle().Foreground(colorDimmed)
	styleSelected = lipgloss.NewStyle().Foreground(colorBright).Bold(true)
	styleEnded    = lipgloss.NewStyle().Foreground(colorDimmed).Strikethrough(true)
	styleFeedBox  = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)
)

func interactionColor(name string) lipgloss.Color {
	switch name {
	case "chat":
		return colorChat
	case "reaction":
		return colorReaction
	case "mic_toggle":
		return colorMic
	case "camera_toggle":
		return colorCamera
	case "manual_entry", "attendance":
		return colorManual
	default:
		return colorDefault
	}
}
