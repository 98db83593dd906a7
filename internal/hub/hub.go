// Package hub is the authoritative sequencer and fan-out point of the
// participation pipeline. It validates incoming events, assigns
// per-session sequence numbers, deduplicates redeliveries, keeps the
// live registry current, hands persistence to a write-behind worker,
// and publishes ordered messages to subscribers.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/classpulse/classpulse/internal/identity"
	"github.com/classpulse/classpulse/internal/session"
)

// ErrSessionNotActive is the terminal rejection for events targeting a
// session that has ended (or was reaped).
var ErrSessionNotActive = errors.New("session is not active")

// ErrUnknownSession is the terminal rejection for events targeting a
// session the hub has never seen.
var ErrUnknownSession = errors.New("unknown session")

// ErrMalformedEvent rejects events missing required fields.
var ErrMalformedEvent = errors.New("malformed event")

// Persister is the storage collaborator. AppendEvent must be
// idempotent on the (session, dedup key) pair.
type Persister interface {
	StartSession(classID, className, meetingLink string) (*session.Session, error)
	EndSession(sessionID string, at time.Time) error
	AppendEvent(ev *session.ParticipationEvent) (bool, error)
	ActiveSessions() ([]session.RegistryEntry, error)
	GetSession(sessionID string) (*session.Session, error)
	MaxSeq(sessionID string) (uint64, error)
}

// Options tune hub behavior.
type Options struct {
	InactivityTimeout time.Duration
	ReaperInterval    time.Duration
	PersistRetries    int
	PersistRetryDelay time.Duration
}

// owner is the single-writer state for one session. Sequence
// assignment and publication for a session happen only under its
// mutex, so broadcast order always equals sequence order, and
// unrelated sessions never contend. Publish is a non-blocking fan-out,
// so holding the mutex across it never stalls ingestion behind a slow
// subscriber.
type owner struct {
	mu           sync.Mutex
	sess         *session.Session
	seq          uint64
	dedup        map[string]uint64 // dedup key -> assigned seq
	participants map[string]bool
}

func (o *owner) nextSeq() uint64 {
	o.seq++
	return o.seq
}

type Hub struct {
	store    Persister
	resolver identity.Resolver
	pub      Publisher
	registry *session.Registry
	opts     Options

	mu     sync.RWMutex
	owners map[string]*owner

	persistCh chan persistOp
	persistWG sync.WaitGroup
	dropped   int64
	droppedMu sync.Mutex
}

func New(store Persister, resolver identity.Resolver, pub Publisher, opts Options) *Hub {
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = 10 * time.Minute
	}
	if opts.ReaperInterval <= 0 {
		opts.ReaperInterval = 30 * time.Second
	}
	if opts.PersistRetries <= 0 {
		opts.PersistRetries = 5
	}
	if opts.PersistRetryDelay <= 0 {
		opts.PersistRetryDelay = 500 * time.Millisecond
	}
	h := &Hub{
		store:     store,
		resolver:  resolver,
		pub:       pub,
		registry:  session.NewRegistry(),
		opts:      opts,
		owners:    make(map[string]*owner),
		persistCh: make(chan persistOp, 4096),
	}
	h.persistWG.Add(1)
	go h.persistLoop()
	return h
}

// Registry exposes the live projection for snapshot reads.
func (h *Hub) Registry() *session.Registry {
	return h.registry
}

// Restore rebuilds the registry and sequence counters from persisted
// state after a restart. The registry is a projection, not the source
// of truth; this is the one place it is derived rather than maintained.
func (h *Hub) Restore() error {
	entries, err := h.store.ActiveSessions()
	if err != nil {
		return fmt.Errorf("restore active sessions: %w", err)
	}
	for _, e := range entries {
		sess, err := h.store.GetSession(e.SessionID)
		if err != nil {
			return fmt.Errorf("restore session %s: %w", e.SessionID, err)
		}
		maxSeq, err := h.store.MaxSeq(e.SessionID)
		if err != nil {
			return fmt.Errorf("restore seq %s: %w", e.SessionID, err)
		}
		h.mu.Lock()
		h.owners[e.SessionID] = &owner{
			sess:         sess,
			seq:          maxSeq,
			dedup:        make(map[string]uint64),
			participants: make(map[string]bool),
		}
		h.mu.Unlock()
		h.registry.Put(e)
		log.Printf("restored active session %s (%s), seq at %d", e.SessionID, e.ClassName, maxSeq)
	}
	return nil
}

// StartSession creates and activates a session and broadcasts the
// lifecycle transition as the first message of its stream.
func (h *Hub) StartSession(classID, className, meetingLink string) (*session.Session, error) {
	sess, err := h.store.StartSession(classID, className, meetingLink)
	if err != nil {
		return nil, err
	}

	o := &owner{
		sess:         sess,
		dedup:        make(map[string]uint64),
		participants: make(map[string]bool),
	}

	// The owner enters the map already locked, so an ingest racing the
	// start cannot publish its event before the lifecycle message.
	o.mu.Lock()
	h.mu.Lock()
	h.owners[sess.ID] = o
	h.mu.Unlock()

	seq := o.nextSeq()
	h.registry.Put(session.RegistryEntry{
		SessionID:      sess.ID,
		ClassName:      sess.ClassName,
		StartedAt:      sess.StartedAt,
		LastActivityAt: sess.StartedAt,
	})

	log.Printf("session %s started for class %s", sess.ID, sess.ClassID)
	h.pub.Publish(Message{
		Type:      MsgSessionStarted,
		SessionID: sess.ID,
		Seq:       seq,
		Session:   sess.Clone(),
	})
	o.mu.Unlock()
	return sess, nil
}

// EndSession transitions the session to ended, flips its owner into
// the terminal rejecting state, removes its registry entry, and
// broadcasts the transition as the stream's final message.
// Acknowledgments already issued stay valid; only future ingestion is
// refused.
func (h *Hub) EndSession(sessionID string) error {
	h.mu.RLock()
	o := h.owners[sessionID]
	h.mu.RUnlock()
	if o == nil {
		return ErrUnknownSession
	}

	o.mu.Lock()
	if o.sess.Status != session.Active {
		o.mu.Unlock()
		return ErrSessionNotActive
	}
	now := time.Now().UTC()
	if err := o.sess.Transition(session.Ended, now); err != nil {
		o.mu.Unlock()
		return err
	}
	seq := o.nextSeq()
	sess := o.sess.Clone()

	h.registry.Remove(sessionID)
	h.enqueuePersist(persistOp{end: &endOp{sessionID: sessionID, at: now}})

	log.Printf("session %s ended", sessionID)
	h.pub.Publish(Message{
		Type:      MsgSessionEnded,
		SessionID: sessionID,
		Seq:       seq,
		Session:   sess,
	})
	o.mu.Unlock()
	return nil
}

// Ingest validates one event, assigns its sequence number, and fans it
// out. Returns the assigned sequence and whether the event was a
// deduplicated redelivery (acknowledged without a second record or
// broadcast). The returned error is terminal when it wraps
// ErrUnknownSession, ErrSessionNotActive, or ErrMalformedEvent.
func (h *Hub) Ingest(ev *session.ParticipationEvent) (seq uint64, duplicate bool, err error) {
	if ev == nil || ev.SessionID == "" || ev.DedupKey == "" || ev.ID == "" {
		return 0, false, ErrMalformedEvent
	}

	h.mu.RLock()
	o := h.owners[ev.SessionID]
	h.mu.RUnlock()
	if o == nil {
		return 0, false, fmt.Errorf("%w: %s", ErrUnknownSession, ev.SessionID)
	}

	// Identity resolution is an opaque collaborator call; unresolved
	// participants are recorded by display name alone.
	if h.resolver != nil && ev.StudentID == "" && ev.DisplayName != "" {
		if student, ok := h.resolver.Resolve(ev.DisplayName); ok {
			ev.StudentID = student.ID
		}
	}

	o.mu.Lock()
	if o.sess.Status != session.Active {
		o.mu.Unlock()
		return 0, false, fmt.Errorf("%w: %s", ErrSessionNotActive, ev.SessionID)
	}
	if prev, seen := o.dedup[ev.DedupKey]; seen {
		o.mu.Unlock()
		return prev, true, nil
	}
	seq = o.nextSeq()
	o.dedup[ev.DedupKey] = seq
	participant := ev.StudentID
	if participant == "" {
		participant = ev.DisplayName
	}
	newParticipant := participant != "" && !o.participants[participant]
	if newParticipant {
		o.participants[participant] = true
	}

	ev.Seq = seq
	h.registry.Touch(ev.SessionID, newParticipant, time.Now())

	// Write-behind: persistence failure is retried and logged but never
	// delays the ack or the broadcast.
	h.enqueuePersist(persistOp{event: ev})

	h.pub.Publish(Message{
		Type:      MsgEvent,
		SessionID: ev.SessionID,
		Seq:       seq,
		Event:     ev,
	})
	o.mu.Unlock()
	return seq, false, nil
}

// ActiveCount returns the number of active sessions.
func (h *Hub) ActiveCount() int {
	return h.registry.Count()
}

// RunReaper ends sessions with no accepted event inside the inactivity
// timeout. Blocks until the context is cancelled.
func (h *Hub) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(h.opts.ReaperInterval)
	defer ticker.Stop()

	log.Printf("reaper started (timeout %v, interval %v)", h.opts.InactivityTimeout, h.opts.ReaperInterval)
	for {
		select {
		case <-ctx.Done():
			log.Println("reaper stopped")
			return
		case now := <-ticker.C:
			h.ReapOnce(now)
		}
	}
}

// ReapOnce ends every session idle since before now minus the timeout.
func (h *Hub) ReapOnce(now time.Time) {
	for _, id := range h.registry.IdleSince(now.Add(-h.opts.InactivityTimeout)) {
		log.Printf("reaping idle session %s", id)
		if err := h.EndSession(id); err != nil {
			log.Printf("reap %s: %v", id, err)
		}
	}
}

// Close drains the persistence queue and stops the worker.
func (h *Hub) Close() {
	close(h.persistCh)
	h.persistWG.Wait()
}

type endOp struct {
	sessionID string
	at        time.Time
}

type persistOp struct {
	event *session.ParticipationEvent
	end   *endOp
}

func (h *Hub) enqueuePersist(op persistOp) {
	select {
	case h.persistCh <- op:
	default:
		h.droppedMu.Lock()
		h.dropped++
		n := h.dropped
		h.droppedMu.Unlock()
		log.Printf("persist queue full: dropped write (%d lost so far)", n)
	}
}

// persistLoop applies writes with bounded retries. The in-memory
// pipeline stays consistent and ordered even when storage misbehaves;
// durability catches up when it recovers.
func (h *Hub) persistLoop() {
	defer h.persistWG.Done()
	for op := range h.persistCh {
		var err error
		for attempt := 0; attempt <= h.opts.PersistRetries; attempt++ {
			if attempt > 0 {
				time.Sleep(h.opts.PersistRetryDelay)
			}
			switch {
			case op.event != nil:
				_, err = h.store.AppendEvent(op.event)
			case op.end != nil:
				err = h.store.EndSession(op.end.sessionID, op.end.at)
			}
			if err == nil {
				break
			}
			log.Printf("persist attempt %d failed: %v", attempt+1, err)
		}
		if err != nil {
			log.Printf("persist giving up after %d attempts: %v", h.opts.PersistRetries+1, err)
		}
	}
}
