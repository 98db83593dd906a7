package observer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/classpulse/classpulse/internal/session"
)

// Observer watches a meeting surface through a SignalAdapter and emits
// one normalized Event per detected user action. All work happens on a
// single goroutine so ordering within one meeting is deterministic.
//
// Failure policy: adapter errors and panics are counted and logged but
// never propagate; a broken poll produces no events and the next tick
// tries again. Tracking degrades silently rather than disturbing the
// meeting.
type Observer struct {
	adapter  SignalAdapter
	emit     func(Event)
	interval time.Duration
	debounce time.Duration

	seen      map[string]time.Time // signal id -> last emission, for debounce
	toggles   map[string]string    // mic/camera signal id -> last seen value
	health    *adapterHealth
	lastSweep time.Time
}

// New creates an observer polling adapter every interval, collapsing
// duplicate detections of one signal id inside the debounce window, and
// calling emit for each accepted event. emit must not block.
func New(adapter SignalAdapter, interval, debounce time.Duration, emit func(Event)) *Observer {
	return &Observer{
		adapter:  adapter,
		emit:     emit,
		interval: interval,
		debounce: debounce,
		seen:     make(map[string]time.Time),
		toggles:  make(map[string]string),
		health:   newAdapterHealth(),
	}
}

// Health returns the adapter failure counters.
func (o *Observer) Health() (consecutiveFailures int, lastErr string) {
	return o.health.snapshot()
}

// Run polls until the context is cancelled.
func (o *Observer) Run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	log.Printf("[%s] observer started (poll %v, debounce %v)", o.adapter.Name(), o.interval, o.debounce)

	o.poll(time.Now())
	for {
		select {
		case <-ctx.Done():
			log.Printf("[%s] observer stopped", o.adapter.Name())
			return
		case now := <-ticker.C:
			o.poll(now)
		}
	}
}

func (o *Observer) poll(now time.Time) {
	signals, err := o.safePoll()
	if err != nil {
		o.health.recordFailure(err)
		log.Printf("[%s] poll error: %v", o.adapter.Name(), err)
		return
	}
	o.health.recordSuccess()

	for _, sig := range signals {
		if ev, ok := o.accept(sig, now); ok {
			o.emit(ev)
		}
	}

	o.sweep(now)
}

// safePoll shields the loop from a misbehaving adapter.
func (o *Observer) safePoll() (signals []RawSignal, err error) {
	defer func() {
		if r := recover(); r != nil {
			signals = nil
			err = fmt.Errorf("adapter panic: %v", r)
		}
	}()
	return o.adapter.Poll()
}

// accept applies edge detection and debounce to one raw signal.
func (o *Observer) accept(sig RawSignal, now time.Time) (Event, bool) {
	if sig.SignalID == "" {
		return Event{}, false
	}

	// Mic and camera signals only count on state change. Periodic
	// re-renders report the same value and are dropped here.
	if sig.Type == session.MicToggle || sig.Type == session.CameraToggle {
		if prev, ok := o.toggles[sig.SignalID]; ok && prev == sig.Value {
			return Event{}, false
		}
		o.toggles[sig.SignalID] = sig.Value
	}

	// At most one event per action: bursts of duplicate notifications
	// for one signal id inside the window collapse to the first.
	if last, ok := o.seen[sig.SignalID]; ok && now.Sub(last) < o.debounce {
		return Event{}, false
	}
	o.seen[sig.SignalID] = now

	at := sig.OccurredAt
	if at.IsZero() {
		at = now
	}
	return Event{
		SignalID:    sig.SignalID,
		Type:        sig.Type,
		DisplayName: sig.DisplayName,
		Value:       sig.Value,
		OccurredAt:  at,
	}, true
}

// sweep drops stale debounce entries so the map doesn't grow with the
// length of the meeting. Toggle state is kept for the whole run.
func (o *Observer) sweep(now time.Time) {
	if now.Sub(o.lastSweep) < 10*o.debounce {
		return
	}
	o.lastSweep = now
	for id, last := range o.seen {
		if now.Sub(last) >= 2*o.debounce {
			delete(o.seen, id)
		}
	}
}
