package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a tracked class session.
type Status int

const (
	Scheduled Status = iota
	Active
	Ended
)

var statusNames = map[Status]string{
	Scheduled: "scheduled",
	Active:    "active",
	Ended:     "ended",
}

var statusFromName = map[string]Status{
	"scheduled": Scheduled,
	"active":    Active,
	"ended":     Ended,
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := statusFromName[name]; ok {
		*s = v
	}
	return nil
}

// CanTransition reports whether moving from s to next is a legal
// lifecycle step. Transitions only run forward: scheduled to active,
// active to ended. Ended is terminal.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case Scheduled:
		return next == Active
	case Active:
		return next == Ended
	default:
		return false
	}
}

// Session is one tracked instance of a class meeting.
type Session struct {
	ID          string     `json:"id"`
	ClassID     string     `json:"classId"`
	ClassName   string     `json:"className"`
	Status      Status     `json:"status"`
	MeetingLink string     `json:"meetingLink,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
}

// Transition advances the session to next, enforcing the forward-only
// lifecycle. EndedAt is stamped on the transition into Ended.
func (s *Session) Transition(next Status, now time.Time) error {
	if !s.Status.CanTransition(next) {
		return fmt.Errorf("illegal session transition %s -> %s", s.Status, next)
	}
	s.Status = next
	switch next {
	case Active:
		s.StartedAt = now
	case Ended:
		t := now
		s.EndedAt = &t
	}
	return nil
}

// Clone returns a deep copy of the Session, duplicating pointer fields
// so the copy can be mutated independently of the original.
func (s *Session) Clone() *Session {
	c := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}
