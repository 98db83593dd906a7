// Package dashboard renders the live participation view: a table of
// active sessions and a scrolling event feed, both driven by the hub's
// broadcast stream. Counts and durations are recomputed locally from
// the stream; the dashboard holds a projection, never authority.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/classpulse/classpulse/internal/dashclient"
	"github.com/classpulse/classpulse/internal/session"
)

const defaultFeedSize = 200

// tickMsg drives the once-a-second duration refresh.
type tickMsg time.Time

// row is the dashboard's local projection of one session.
type row struct {
	session.RegistryEntry
	Ended bool
}

// Model is the root Bubble Tea model.
type Model struct {
	ws     *dashclient.Client
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	width  int
	height int
	now    time.Time

	// Session projection.
	rows         map[string]*row
	participants map[string]map[string]bool
	order        []string
	selectedIdx  int

	// Event feed.
	feed     []string
	feedSize int
	vp       viewport.Model
	follow   bool

	connected bool
	lastErr   string
}

// New creates the root model. feedSize bounds the retained feed lines;
// zero uses the default.
func New(ws *dashclient.Client, feedSize int) Model {
	if feedSize <= 0 {
		feedSize = defaultFeedSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		ws:           ws,
		ctx:          ctx,
		cancel:       cancel,
		keys:         DefaultKeyMap(),
		now:          time.Now(),
		rows:         make(map[string]*row),
		participants: make(map[string]map[string]bool),
		feedSize:     feedSize,
		follow:       true,
	}
}

// Init starts the WebSocket connection and the duration ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.ws.Listen(m.ctx), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.vp.Width = msg.Width - 4
		m.vp.Height = m.feedHeight()
		m.refreshFeed()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.now = time.Time(msg)
		return m, tickCmd()

	case dashclient.ConnectedMsg:
		m.connected = true
		m.lastErr = ""
		return m, m.ws.ReadLoop(m.ctx)

	case dashclient.DisconnectedMsg:
		m.connected = false
		m.appendFeed(renderSystemLine("disconnected, reconnecting…", colorDanger))
		return m, m.ws.Listen(m.ctx)

	case dashclient.SnapshotMsg:
		// A snapshot replaces the projection wholesale; local counters
		// restart from the authoritative registry values.
		m.rows = make(map[string]*row)
		m.participants = make(map[string]map[string]bool)
		for _, e := range msg.Registry {
			m.rows[e.SessionID] = &row{RegistryEntry: e}
		}
		m.rebuildOrder()
		return m, m.ws.ReadLoop(m.ctx)

	case dashclient.SessionStartedMsg:
		s := msg.Session
		m.rows[s.ID] = &row{RegistryEntry: session.RegistryEntry{
			SessionID:      s.ID,
			ClassName:      s.ClassName,
			StartedAt:      s.StartedAt,
			LastActivityAt: s.StartedAt,
		}}
		m.rebuildOrder()
		m.appendFeed(renderSystemLine("session started: "+s.ClassName, colorHealthy))
		return m, m.ws.ReadLoop(m.ctx)

	case dashclient.SessionEndedMsg:
		if r, ok := m.rows[msg.Session.ID]; ok {
			r.Ended = true
			m.appendFeed(renderSystemLine("session ended: "+r.ClassName, colorWarning))
		}
		return m, m.ws.ReadLoop(m.ctx)

	case dashclient.EventMsg:
		m.applyEvent(msg.Event)
		m.ws.Ack(msg.Event.Seq)
		return m, m.ws.ReadLoop(m.ctx)

	case dashclient.ServerErrorMsg:
		m.lastErr = msg.Err
		return m, m.ws.ReadLoop(m.ctx)
	}

	return m, nil
}

// applyEvent folds one accepted event into the projection: bump the
// session's counters, track first-seen participants, append the feed
// line.
func (m *Model) applyEvent(ev *session.ParticipationEvent) {
	r, ok := m.rows[ev.SessionID]
	if !ok {
		// Event for a session we have no row for yet (subscribed
		// mid-stream); a placeholder keeps the counts honest until the
		// next snapshot.
		r = &row{RegistryEntry: session.RegistryEntry{
			SessionID: ev.SessionID,
			ClassName: ev.SessionID,
			StartedAt: ev.OccurredAt,
		}}
		m.rows[ev.SessionID] = r
		m.rebuildOrder()
	}

	r.EventCount++
	r.LastActivityAt = ev.OccurredAt

	participant := ev.StudentID
	if participant == "" {
		participant = ev.DisplayName
	}
	if participant != "" {
		set := m.participants[ev.SessionID]
		if set == nil {
			set = make(map[string]bool)
			m.participants[ev.SessionID] = set
		}
		if !set[participant] {
			set[participant] = true
			r.ParticipantCount++
		}
	}

	m.appendFeed(renderEventLine(ev, len(m.rows) > 1))
}

func (m *Model) appendFeed(line string) {
	m.feed = append(m.feed, line)
	if len(m.feed) > m.feedSize {
		m.feed = m.feed[len(m.feed)-m.feedSize:]
	}
	m.refreshFeed()
}

// refreshFeed re-renders the viewport, keeping the bottom pinned while
// follow mode is on.
func (m *Model) refreshFeed() {
	m.vp.SetContent(strings.Join(m.feed, "\n"))
	if m.follow {
		m.vp.GotoBottom()
	}
}

func (m *Model) rebuildOrder() {
	m.order = make([]string, 0, len(m.rows))
	for id := range m.rows {
		m.order = append(m.order, id)
	}
	sort.Slice(m.order, func(i, j int) bool {
		ri, rj := m.rows[m.order[i]], m.rows[m.order[j]]
		if ri.Ended != rj.Ended {
			return !ri.Ended
		}
		if !ri.StartedAt.Equal(rj.StartedAt) {
			return ri.StartedAt.Before(rj.StartedAt)
		}
		return ri.SessionID < rj.SessionID
	})
	if m.selectedIdx >= len(m.order) {
		m.selectedIdx = 0
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		m.ws.Close()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Down):
		if len(m.order) > 0 {
			m.selectedIdx = (m.selectedIdx + 1) % len(m.order)
		}
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if len(m.order) > 0 {
			m.selectedIdx = (m.selectedIdx - 1 + len(m.order)) % len(m.order)
		}
		return m, nil

	case key.Matches(msg, m.keys.ScrollUp):
		m.follow = false
		m.vp.LineUp(3)
		return m, nil

	case key.Matches(msg, m.keys.ScrollDn):
		m.vp.LineDown(3)
		if m.vp.AtBottom() {
			m.follow = true
		}
		return m, nil

	case key.Matches(msg, m.keys.Follow):
		m.follow = true
		m.vp.GotoBottom()
		return m, nil

	case key.Matches(msg, m.keys.Resync):
		m.ws.Resync()
		return m, nil
	}

	return m, nil
}

func (m Model) feedHeight() int {
	// Status bar, table header, one line per session, help line, box
	// chrome; whatever is left goes to the feed.
	h := m.height - 6 - len(m.rows)
	if h < 3 {
		h = 3
	}
	return h
}

// View renders the full dashboard.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	sections := []string{
		m.renderStatusBar(),
		m.renderTable(),
		m.renderFeed(),
		styleDimmed.Render("  j/k:session  u/d:scroll  f:follow  r:resync  q:quit"),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderStatusBar() string {
	var connStr string
	if m.connected {
		connStr = lipgloss.NewStyle().Foreground(colorHealthy).Render("● Connected")
	} else {
		connStr = lipgloss.NewStyle().Foreground(colorDanger).Render("○ Reconnecting...")
	}

	active := 0
	for _, r := range m.rows {
		if !r.Ended {
			active++
		}
	}
	sep := lipgloss.NewStyle().Foreground(colorBorder).Render(" | ")
	content := connStr + sep + fmt.Sprintf("%d active", active) +
		sep + m.now.Format("15:04:05")
	if m.lastErr != "" {
		content += sep + lipgloss.NewStyle().Foreground(colorDanger).Render(m.lastErr)
	}

	width := m.width
	if width < 40 {
		width = 40
	}
	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(colorBorder).
		Render(content)
}

func (m Model) renderTable() string {
	lines := []string{styleHeader.Render(fmt.Sprintf(
		"  %-24s %-8s %12s %8s %10s %12s",
		"CLASS", "STATUS", "PARTICIPANTS", "EVENTS", "DURATION", "LAST EVENT"))}

	for i, id := range m.order {
		r := m.rows[id]
		prefix := "  "
		if i == m.selectedIdx {
			prefix = "> "
		}

		status := "active"
		duration := m.now.Sub(r.StartedAt).Truncate(time.Second)
		if r.Ended {
			status = "ended"
			duration = r.LastActivityAt.Sub(r.StartedAt).Truncate(time.Second)
		}
		lastEvent := "-"
		if !r.LastActivityAt.IsZero() && r.EventCount > 0 {
			lastEvent = fmt.Sprintf("%vs ago", int(m.now.Sub(r.LastActivityAt).Seconds()))
		}

		line := fmt.Sprintf("%s%-24s %-8s %12d %8d %10v %12s",
			prefix, truncate(r.ClassName, 24), status,
			r.ParticipantCount, r.EventCount, duration, lastEvent)

		switch {
		case r.Ended:
			line = styleEnded.Render(line)
		case i == m.selectedIdx:
			line = styleSelected.Render(line)
		}
		lines = append(lines, line)
	}

	if len(m.order) == 0 {
		lines = append(lines, styleDimmed.Render("  No sessions in progress"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) renderFeed() string {
	title := "FEED"
	if !m.follow {
		title += styleDimmed.Render("  (paused, f to follow)")
	}
	return styleFeedBox.Render(
		lipgloss.JoinVertical(lipgloss.Left, styleHeader.Render(title), m.vp.View()))
}
