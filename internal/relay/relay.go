// Package relay owns the per-meeting tracked-session state machine. It
// buffers observer events and forwards them to the hub with
// at-least-once, per-session-ordered delivery. Each tracked meeting tab
// runs its own Relay; instances share nothing.
package relay

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/classpulse/classpulse/internal/observer"
	"github.com/classpulse/classpulse/internal/session"
)

// State is the relay lifecycle: idle until a start command arrives,
// tracking while forwarding, stopped is terminal.
type State int

const (
	Idle State = iota
	Tracking
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Tracking:
		return "tracking"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// ErrRejected marks a terminal ingestion rejection from the hub (the
// session ended or was never known). Delivery must not retry it.
var ErrRejected = errors.New("event rejected by hub")

// ErrBadState is returned for lifecycle commands in the wrong state.
var ErrBadState = errors.New("relay is not in a state that allows this")

// Sender delivers one event to the hub. A nil return acknowledges
// delivery. An error wrapping ErrRejected is terminal for that event;
// any other error means the attempt may be retried.
type Sender interface {
	Send(ctx context.Context, ev *session.ParticipationEvent) error
}

// Options bound the relay queue and its retry behavior.
type Options struct {
	QueueBound     int           // max buffered events; beyond it the oldest is dropped
	DedupBucket    time.Duration // time bucket for dedup key derivation
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

type Relay struct {
	sender Sender
	opts   Options

	mu        sync.Mutex
	cond      *sync.Cond
	state     State
	sessionID string
	queue     []*session.ParticipationEvent
	dropped   int64

	done chan struct{}
}

func New(sender Sender, opts Options) *Relay {
	if opts.QueueBound <= 0 {
		opts.QueueBound = 1024
	}
	if opts.DedupBucket <= 0 {
		opts.DedupBucket = 2 * time.Second
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = time.Second
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 30 * time.Second
	}
	r := &Relay{
		sender: sender,
		opts:   opts,
		state:  Idle,
		done:   make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// State returns the current lifecycle state.
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Dropped reports how many events were discarded because the queue hit
// its bound. A non-zero value is explicit data loss, not silent
// failure.
func (r *Relay) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Start transitions idle -> tracking for the given session and begins
// the delivery loop.
func (r *Relay) Start(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Idle {
		return ErrBadState
	}
	r.state = Tracking
	r.sessionID = sessionID
	go r.run(ctx)
	log.Printf("relay tracking session %s", sessionID)
	return nil
}

// Enqueue accepts an observer event while tracking. Events arriving in
// any other state are discarded. When the queue is full the oldest
// pending event is dropped to admit the new one, and the loss is
// counted and logged.
func (r *Relay) Enqueue(ev observer.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Tracking {
		return
	}

	pe := &session.ParticipationEvent{
		ID:          uuid.NewString(),
		SessionID:   r.sessionID,
		DisplayName: ev.DisplayName,
		Type:        ev.Type,
		Value:       ev.Value,
		OccurredAt:  ev.OccurredAt,
		DedupKey:    session.DedupKey(ev.Type, ev.SignalID, ev.OccurredAt, r.opts.DedupBucket),
	}

	if len(r.queue) >= r.opts.QueueBound {
		r.queue = r.queue[1:]
		r.dropped++
		log.Printf("relay queue full for session %s: dropped oldest event (%d lost so far)", r.sessionID, r.dropped)
	}
	r.queue = append(r.queue, pe)
	r.cond.Signal()
}

// Stop transitions tracking -> stopped. The remaining queue is flushed
// before the delivery loop exits; events observed after Stop are
// discarded. Stop blocks until the flush completes or ctx of the Start
// call is cancelled.
func (r *Relay) Stop() error {
	r.mu.Lock()
	if r.state != Tracking {
		r.mu.Unlock()
		return ErrBadState
	}
	r.state = Stopped
	r.cond.Signal()
	r.mu.Unlock()

	<-r.done
	log.Printf("relay stopped for session %s", r.sessionID)
	return nil
}

// run is the single delivery goroutine: it pops the head of the queue
// and retries it until acknowledged or terminally rejected, preserving
// arrival order. Only one event is in flight at a time; the in-flight
// event is owned by this loop and can never be evicted by the queue
// bound.
func (r *Relay) run(ctx context.Context) {
	defer close(r.done)

	backoff := newBackoff(r.opts.RetryBaseDelay, r.opts.RetryMaxDelay)

	for {
		r.mu.Lock()
		for len(r.queue) == 0 && r.state == Tracking {
			r.cond.Wait()
		}
		if len(r.queue) == 0 {
			// Stopped and drained.
			r.mu.Unlock()
			return
		}
		head := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()

		if !r.deliver(ctx, head, backoff) {
			// Context cancelled mid-delivery: the in-flight event and
			// whatever is still queued are lost, and the loss is counted.
			r.mu.Lock()
			lost := int64(len(r.queue)) + 1
			r.queue = nil
			r.dropped += lost
			r.mu.Unlock()
			log.Printf("relay: context cancelled with %d undelivered events for session %s", lost, r.sessionID)
			return
		}
	}
}

// deliver sends one event, retrying with exponential backoff plus
// jitter on transient failures. Returns false when the context ended.
func (r *Relay) deliver(ctx context.Context, ev *session.ParticipationEvent, b *backoff) bool {
	for attempt := 0; ; attempt++ {
		err := r.sender.Send(ctx, ev)
		if err == nil {
			b.reset()
			return true
		}
		if errors.Is(err, ErrRejected) {
			// Terminal: the hub will never accept this event.
			log.Printf("relay: event %s rejected, dropping: %v", ev.ID, err)
			b.reset()
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		delay := b.next()
		log.Printf("relay: send failed (attempt %d, retry in %v): %v", attempt+1, delay, err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
	}
}
