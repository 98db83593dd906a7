package dashboard

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/classpulse/classpulse/internal/dashclient"
	"github.com/classpulse/classpulse/internal/session"
)

func newTestModel(t *testing.T) Model {
	t.Helper()
	// A client pointed at nothing: commands it produces are never run
	// in these tests, only the model's message handling is.
	ws := dashclient.New("ws://127.0.0.1:1/ws", "", "", dashclient.Options{})
	m := New(ws, 5)
	m.width = 100
	m.height = 30
	m.vp.Width = 96
	m.vp.Height = 10
	return m
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	nm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}
	return nm
}

func startedMsg(id, className string, at time.Time) dashclient.SessionStartedMsg {
	return dashclient.SessionStartedMsg{Session: &session.Session{
		ID:        id,
		ClassName: className,
		Status:    session.Active,
		StartedAt: at,
	}}
}

func eventMsg(sessionID, displayName string, seq uint64) dashclient.EventMsg {
	return dashclient.EventMsg{Event: &session.ParticipationEvent{
		ID:          "ev",
		SessionID:   sessionID,
		DisplayName: displayName,
		Type:        session.Chat,
		Value:       "hi",
		OccurredAt:  time.Now(),
		Seq:         seq,
	}}
}

func TestSnapshotReplacesProjection(t *testing.T) {
	m := newTestModel(t)
	m = update(t, m, startedMsg("old", "Old Class", time.Now()))

	now := time.Now()
	m = update(t, m, dashclient.SnapshotMsg{Registry: []session.RegistryEntry{
		{SessionID: "s2", ClassName: "Chemistry 200", StartedAt: now},
		{SessionID: "s1", ClassName: "Biology 101", StartedAt: now.Add(-time.Hour)},
	}})

	if len(m.rows) != 2 {
		t.Fatalf("rows = %d, want snapshot to replace the projection", len(m.rows))
	}
	if _, ok := m.rows["old"]; ok {
		t.Error("stale row survived the snapshot")
	}
	// Ordered by start time.
	if m.order[0] != "s1" || m.order[1] != "s2" {
		t.Errorf("order = %v, want [s1 s2]", m.order)
	}
}

func TestEventFoldsIntoProjection(t *testing.T) {
	m := newTestModel(t)
	m = update(t, m, startedMsg("s1", "Biology 101", time.Now()))

	m = update(t, m, eventMsg("s1", "Dana Kim", 2))
	m = update(t, m, eventMsg("s1", "Dana Kim", 3))
	m = update(t, m, eventMsg("s1", "Ben Ito", 4))

	r := m.rows["s1"]
	if r.EventCount != 3 {
		t.Errorf("EventCount = %d, want 3", r.EventCount)
	}
	if r.ParticipantCount != 2 {
		t.Errorf("ParticipantCount = %d, want 2 distinct participants", r.ParticipantCount)
	}
}

func TestEventForUnknownSessionCreatesPlaceholder(t *testing.T) {
	m := newTestModel(t)
	m = update(t, m, eventMsg("mystery", "Dana Kim", 7))

	r, ok := m.rows["mystery"]
	if !ok {
		t.Fatal("expected a placeholder row for the unseen session")
	}
	if r.EventCount != 1 || r.ParticipantCount != 1 {
		t.Errorf("placeholder counts = %d/%d, want 1/1", r.EventCount, r.ParticipantCount)
	}
}

func TestFeedRingBound(t *testing.T) {
	m := newTestModel(t) // feedSize 5
	for seq := uint64(1); seq <= 10; seq++ {
		m = update(t, m, eventMsg("s1", "Dana Kim", seq))
	}
	if len(m.feed) != 5 {
		t.Errorf("feed length = %d, want bounded at 5", len(m.feed))
	}
}

func TestSessionEndedFreezesRow(t *testing.T) {
	started := time.Now().Add(-10 * time.Minute)
	m := newTestModel(t)
	m = update(t, m, startedMsg("s1", "Biology 101", started))
	m = update(t, m, dashclient.SessionEndedMsg{Session: &session.Session{
		ID:        "s1",
		ClassName: "Biology 101",
		Status:    session.Ended,
	}})

	if !m.rows["s1"].Ended {
		t.Fatal("row should be marked ended")
	}
	m.connected = true
	if v := m.View(); !strings.Contains(v, "ended") {
		t.Error("view should show the ended status")
	}
}

func TestTickAdvancesClock(t *testing.T) {
	m := newTestModel(t)
	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.Local)
	m = update(t, m, tickMsg(at))
	if !m.now.Equal(at) {
		t.Errorf("now = %v, want %v", m.now, at)
	}
	if v := m.View(); !strings.Contains(v, "09:30:00") {
		t.Error("view should render the tick clock")
	}
}

func TestFollowToggle(t *testing.T) {
	m := newTestModel(t)
	if !m.follow {
		t.Fatal("follow should default on")
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'u'}})
	if m.follow {
		t.Error("scrolling up should pause follow mode")
	}
	if v := m.View(); !strings.Contains(v, "paused") {
		t.Error("paused feed should be labelled in the view")
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'f'}})
	if !m.follow {
		t.Error("f should resume follow mode")
	}
}

func TestConnectionStates(t *testing.T) {
	m := newTestModel(t)

	m = update(t, m, dashclient.ConnectedMsg{})
	if !m.connected {
		t.Fatal("ConnectedMsg should mark the model connected")
	}
	if v := m.View(); !strings.Contains(v, "Connected") {
		t.Error("view should show the connected indicator")
	}

	m = update(t, m, dashclient.DisconnectedMsg{})
	if m.connected {
		t.Fatal("DisconnectedMsg should mark the model disconnected")
	}
	if v := m.View(); !strings.Contains(v, "Reconnecting") {
		t.Error("view should show the reconnecting indicator")
	}
}

func TestViewLaysOutSessions(t *testing.T) {
	m := newTestModel(t)
	m.connected = true
	m = update(t, m, startedMsg("s1", "Biology 101", time.Now()))
	m = update(t, m, startedMsg("s2", "Chemistry 200", time.Now()))

	v := m.View()
	for _, want := range []string{"Biology 101", "Chemistry 200", "CLASS", "FEED"} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q", want)
		}
	}

	empty := newTestModel(t)
	if v := empty.View(); !strings.Contains(v, "No sessions in progress") {
		t.Error("empty view should show the no-sessions hint")
	}
}
