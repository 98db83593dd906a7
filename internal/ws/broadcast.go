package ws

import (
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/classpulse/classpulse/internal/hub"
)

// ErrTooManyConnections is returned by AddClient when the configured
// connection limit is reached.
var ErrTooManyConnections = errors.New("too many websocket connections")

type client struct {
	conn   *websocket.Conn
	b      *Broadcaster
	send   chan []byte
	filter string // session id filter; empty subscribes to everything

	mu      sync.Mutex
	lastAck uint64
}

func newClient(conn *websocket.Conn, b *Broadcaster, filter string) *client {
	c := &client{
		conn:   conn,
		b:      b,
		send:   make(chan []byte, b.buffer),
		filter: filter,
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

func (c *client) matches(sessionID string) bool {
	return c.filter == "" || c.filter == sessionID
}

func (c *client) ack(seq uint64) {
	c.mu.Lock()
	if seq > c.lastAck {
		c.lastAck = seq
	}
	c.mu.Unlock()
}

func (c *client) lastAcked() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAck
}

// Broadcaster fans hub messages out to subscribed dashboard clients.
// Each subscriber has a bounded outbound buffer; a subscriber that
// stops reading is disconnected alone, without stalling ingestion or
// the other subscribers. Recent frames are retained per session so a
// reconnecting client can replay from its last acknowledged sequence
// number instead of taking a full snapshot.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	snapshot func() hub.Message
	buffer   int
	maxConns int

	replayMu sync.Mutex
	replay   map[string][]hub.Message
	window   int
}

// NewBroadcaster creates a broadcaster. snapshot produces the current
// registry snapshot message; buffer bounds each subscriber's outbound
// channel; window bounds the per-session replay ring; maxConns of 0
// means unlimited.
func NewBroadcaster(snapshot func() hub.Message, buffer, window, maxConns int) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	if window <= 0 {
		window = 256
	}
	return &Broadcaster{
		clients:  make(map[*client]bool),
		snapshot: snapshot,
		buffer:   buffer,
		maxConns: maxConns,
		replay:   make(map[string][]hub.Message),
		window:   window,
	}
}

// AddClient registers a connection. The new subscriber first receives
// either a replay of the frames it missed (when fromSeq for the
// filtered session is still inside the replay window) or a fresh
// snapshot to resynchronize from; incremental messages follow.
func (b *Broadcaster) AddClient(conn *websocket.Conn, filter string, fromSeq uint64) (*client, error) {
	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	c := newClient(conn, b, filter)
	b.clients[c] = true
	b.mu.Unlock()

	// The resume point doubles as the initial ack watermark, so a
	// resync issued before any explicit ack replays from here too.
	c.ack(fromSeq)

	if frames, ok := b.Replay(filter, fromSeq); ok {
		for _, m := range frames {
			b.offer(c, m)
		}
	} else {
		b.offer(c, b.snapshot())
	}
	return c, nil
}

// RemoveClient unregisters and closes a subscriber.
func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// Publish implements hub.Publisher: records the frame for replay and
// forwards it, in publish order, to every matching subscriber.
func (b *Broadcaster) Publish(msg hub.Message) {
	b.record(msg)

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		if c.matches(msg.SessionID) {
			clients = append(clients, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range clients {
		b.offer(c, msg)
	}
}

// offer enqueues one frame, disconnecting this subscriber alone if its
// buffer is full.
func (b *Broadcaster) offer(c *client, msg hub.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("ws subscriber can't keep up, disconnecting")
		b.RemoveClient(c)
	}
}

// record appends a frame to its session's replay ring. Snapshot and
// unkeyed frames are not replayable.
func (b *Broadcaster) record(msg hub.Message) {
	if msg.SessionID == "" || msg.Seq == 0 {
		return
	}
	b.replayMu.Lock()
	ring := append(b.replay[msg.SessionID], msg)
	if len(ring) > b.window {
		ring = ring[len(ring)-b.window:]
	}
	b.replay[msg.SessionID] = ring
	b.replayMu.Unlock()
}

// Replay returns the frames for one session with Seq > fromSeq, when
// the ring still covers that point with no gap. A false return means
// the client must resynchronize from a snapshot instead.
func (b *Broadcaster) Replay(sessionID string, fromSeq uint64) ([]hub.Message, bool) {
	if sessionID == "" || fromSeq == 0 {
		return nil, false
	}
	b.replayMu.Lock()
	defer b.replayMu.Unlock()
	ring := b.replay[sessionID]
	if len(ring) == 0 {
		return nil, false
	}
	if ring[0].Seq > fromSeq+1 {
		return nil, false // gap: the missed frames are gone
	}
	var out []hub.Message
	for _, m := range ring {
		if m.Seq > fromSeq {
			out = append(out, m)
		}
	}
	return out, true
}

// SendSnapshot pushes a fresh snapshot to one subscriber.
func (b *Broadcaster) SendSnapshot(c *client) {
	b.offer(c, b.snapshot())
}

// Resync answers an explicit resync request: the frames after the
// subscriber's last acknowledged sequence when the replay ring still
// covers them, a fresh snapshot otherwise. Unfiltered subscribers have
// no single-session watermark and always get the snapshot.
func (b *Broadcaster) Resync(c *client) {
	if frames, ok := b.Replay(c.filter, c.lastAcked()); ok {
		for _, m := range frames {
			b.offer(c, m)
		}
		return
	}
	b.SendSnapshot(c)
}

// ClientCount returns the number of connected subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
