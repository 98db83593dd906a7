package dashboard

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/classpulse/classpulse/internal/session"
)

func interactionGlyph(t session.InteractionType) string {
	switch t {
	case session.Chat:
		return "💬"
	case session.Reaction:
		return "✦"
	case session.MicToggle:
		return "🎤"
	case session.CameraToggle:
		return "📷"
	case session.ManualEntry:
		return "✎"
	case session.Attendance:
		return "✓"
	default:
		return "·"
	}
}

// renderEventLine formats one feed entry. Values are truncated so a
// long chat message never wraps the feed.
func renderEventLine(ev *session.ParticipationEvent, showSession bool) string {
	name := ev.DisplayName
	if name == "" {
		name = ev.StudentID
	}
	if name == "" {
		name = "(unknown)"
	}

	typeName := ev.Type.String()
	typeStr := lipgloss.NewStyle().Foreground(interactionColor(typeName)).Render(typeName)

	line := fmt.Sprintf("%s %s %s  %s",
		styleDimmed.Render(ev.OccurredAt.Local().Format("15:04:05")),
		interactionGlyph(ev.Type),
		typeStr,
		name)
	if ev.Value != "" {
		line += styleDimmed.Render("  " + truncate(ev.Value, 40))
	}
	if showSession {
		line += styleDimmed.Render("  [" + truncate(ev.SessionID, 8) + "]")
	}
	return line
}

func renderSystemLine(text string, color lipgloss.Color) string {
	return lipgloss.NewStyle().Foreground(color).Render("── " + text)
}

// truncate shortens s to at most maxLen runes. Chat values carry
// emoji, so cutting on bytes would split a rune mid-sequence.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-1]) + "…"
}
