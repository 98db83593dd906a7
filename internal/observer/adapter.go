package observer

import (
	"time"

	"github.com/classpulse/classpulse/internal/session"
)

// SignalAdapter is the pluggable coupling to one meeting platform. An
// adapter knows how to read interaction signals off its platform's
// meeting surface (chat pane, reaction overlay, participant tiles) and
// report them in a normalized form. New platforms are added by writing
// an adapter; the observer, relay, and hub never change.
//
// Implementations are called from a single goroutine (the observer
// poll loop) and do not need to be safe for concurrent use. Reads must
// capture values at the moment of detection: transient content (chat
// toasts, reaction overlays) may be gone by the next poll.
type SignalAdapter interface {
	// Name returns a short lowercase identifier for the platform,
	// e.g. "meet", "zoom", "sim". Surfaced in logs and signal ids.
	Name() string

	// Poll reports the signals visible on the meeting surface right
	// now. It is called once per tick. Repeated reports of the same
	// underlying action (re-renders) are expected; the observer
	// collapses them by signal id and debounce window.
	Poll() ([]RawSignal, error)
}

// RawSignal is one platform-level observation, before debouncing and
// edge detection.
type RawSignal struct {
	// SignalID identifies the underlying user action, stable across
	// re-renders of the same action (e.g. "jamie r:chat:4129").
	SignalID string

	Type        session.InteractionType
	DisplayName string

	// Value carries the signal payload: chat text, reaction emoji, or
	// "on"/"off" for mic and camera state.
	Value string

	OccurredAt time.Time
}

// Event is the observer's normalized output: exactly one per detected
// user action, in detection order.
type Event struct {
	SignalID    string
	Type        session.InteractionType
	DisplayName string
	Value       string
	OccurredAt  time.Time
}
