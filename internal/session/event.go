package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// InteractionType classifies a detected participation signal.
type InteractionType int

const (
	Chat InteractionType = iota
	Reaction
	MicToggle
	CameraToggle
	ManualEntry
	Attendance
)

var interactionNames = map[InteractionType]string{
	Chat:         "chat",
	Reaction:     "reaction",
	MicToggle:    "mic_toggle",
	CameraToggle: "camera_toggle",
	ManualEntry:  "manual_entry",
	Attendance:   "attendance",
}

var interactionFromName = map[string]InteractionType{
	"chat":          Chat,
	"reaction":      Reaction,
	"mic_toggle":    MicToggle,
	"camera_toggle": CameraToggle,
	"manual_entry":  ManualEntry,
	"attendance":    Attendance,
}

func (t InteractionType) String() string {
	if s, ok := interactionNames[t]; ok {
		return s
	}
	return "unknown"
}

func (t InteractionType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *InteractionType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := interactionFromName[s]; ok {
		*t = v
	}
	return nil
}

// ParseInteractionType maps a wire name to its InteractionType.
func ParseInteractionType(s string) (InteractionType, bool) {
	t, ok := interactionFromName[s]
	return t, ok
}

// ParticipationEvent is a single detected interaction tied to a session
// and, when the display name resolved, a student.
type ParticipationEvent struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"sessionId"`
	StudentID   string          `json:"studentId,omitempty"`
	DisplayName string          `json:"displayName,omitempty"`
	Type        InteractionType `json:"type"`
	Value       string          `json:"value,omitempty"`
	OccurredAt  time.Time       `json:"occurredAt"`
	DedupKey    string          `json:"dedupKey"`
	Seq         uint64          `json:"seq,omitempty"` // assigned by the hub, zero until accepted
}

// DedupKey collapses duplicate detections of one underlying action: the
// signal identity plus the occurrence time truncated to a short bucket.
// Two detections of the same signal inside one bucket share a key.
func DedupKey(typ InteractionType, signalID string, occurredAt time.Time, bucket time.Duration) string {
	if bucket <= 0 {
		bucket = time.Second
	}
	return fmt.Sprintf("%s|%s|%d", typ, signalID, occurredAt.Truncate(bucket).Unix())
}
