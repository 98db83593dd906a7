package hub

import (
	"github.com/classpulse/classpulse/internal/session"
)

// MessageType identifies the kind of broadcast message.
type MessageType string

const (
	MsgEvent          MessageType = "event"
	MsgSessionStarted MessageType = "session_started"
	MsgSessionEnded   MessageType = "session_ended"
	MsgSnapshot       MessageType = "snapshot"
	MsgError          MessageType = "error"
)

// Message is one frame on the broadcast stream. Session lifecycle
// transitions travel on the same stream as events and share the same
// per-session sequence numbering, so a subscriber sees one total order
// per session.
type Message struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Seq       uint64      `json:"seq,omitempty"`

	Event    *session.ParticipationEvent `json:"event,omitempty"`
	Session  *session.Session            `json:"session,omitempty"`
	Registry []session.RegistryEntry     `json:"registry,omitempty"`
	Error    string                      `json:"error,omitempty"`
}

// Publisher fans a message out to matching subscribers. Implemented by
// the ws broadcaster; a no-op implementation serves tests.
type Publisher interface {
	Publish(msg Message)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(msg Message)

func (f PublisherFunc) Publish(msg Message) { f(msg) }
