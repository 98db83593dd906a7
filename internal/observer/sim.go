package observer

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/classpulse/classpulse/internal/session"
)

var simReactions = []string{"👍", "🎉", "😂", "❤️", "🙋"}

var simChats = []string{
	"is the homework due friday?",
	"can you repeat slide 12",
	"got it, thanks",
	"the audio cut out for a second",
	"yes",
	"no",
	"brb",
}

// SimAdapter fabricates participation signals for a made-up roster. It
// stands in for a real meeting platform in demos and development, and
// deliberately re-reports recent signals the way a re-rendering page
// would, so the debounce path is exercised end to end.
type SimAdapter struct {
	roster  []string
	rng     *rand.Rand
	counter int
	mics    map[string]bool
	cams    map[string]bool
	recent  []RawSignal
}

func NewSimAdapter(roster []string, seed int64) *SimAdapter {
	if len(roster) == 0 {
		roster = []string{"Jamie R", "Priya S", "Marcus T", "Lena K", "Diego A"}
	}
	return &SimAdapter{
		roster: roster,
		rng:    rand.New(rand.NewSource(seed)),
		mics:   make(map[string]bool),
		cams:   make(map[string]bool),
	}
}

func (a *SimAdapter) Name() string { return "sim" }

func (a *SimAdapter) Poll() ([]RawSignal, error) {
	now := time.Now()
	var out []RawSignal

	// Re-report a slice of recent signals, simulating page re-renders.
	if len(a.recent) > 0 && a.rng.Intn(2) == 0 {
		out = append(out, a.recent[a.rng.Intn(len(a.recent))])
	}

	// Mic and camera tiles are always visible; report current state for
	// a few random participants whether or not it changed.
	for i := 0; i < 2; i++ {
		name := a.roster[a.rng.Intn(len(a.roster))]
		if a.rng.Intn(10) == 0 {
			a.mics[name] = !a.mics[name]
		}
		out = append(out, RawSignal{
			SignalID:    fmt.Sprintf("%s:mic", name),
			Type:        session.MicToggle,
			DisplayName: name,
			Value:       onOff(a.mics[name]),
			OccurredAt:  now,
		})
	}

	// Occasionally someone chats or reacts.
	switch a.rng.Intn(4) {
	case 0:
		name := a.roster[a.rng.Intn(len(a.roster))]
		a.counter++
		sig := RawSignal{
			SignalID:    fmt.Sprintf("%s:chat:%d", name, a.counter),
			Type:        session.Chat,
			DisplayName: name,
			Value:       simChats[a.rng.Intn(len(simChats))],
			OccurredAt:  now,
		}
		out = append(out, sig)
		a.remember(sig)
	case 1:
		name := a.roster[a.rng.Intn(len(a.roster))]
		a.counter++
		sig := RawSignal{
			SignalID:    fmt.Sprintf("%s:reaction:%d", name, a.counter),
			Type:        session.Reaction,
			DisplayName: name,
			Value:       simReactions[a.rng.Intn(len(simReactions))],
			OccurredAt:  now,
		}
		out = append(out, sig)
		a.remember(sig)
	}

	return out, nil
}

func (a *SimAdapter) remember(sig RawSignal) {
	a.recent = append(a.recent, sig)
	if len(a.recent) > 8 {
		a.recent = a.recent[1:]
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
