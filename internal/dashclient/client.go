// Package dashclient maintains the dashboard's WebSocket subscription
// to the hub: connecting, authenticating, resuming after disconnects,
// and dispatching hub frames as Bubble Tea messages.
package dashclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/url"
	"strconv"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/classpulse/classpulse/internal/hub"
	"github.com/classpulse/classpulse/internal/session"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Options tune reconnect pacing.
type Options struct {
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
}

// Client manages the WebSocket connection to the ClassPulse hub.
type Client struct {
	url    string
	token  string
	filter string
	opts   Options

	mu      sync.Mutex
	writeMu sync.Mutex // serialises conn writes (ping, ack, resync)
	conn    *websocket.Conn
	seq     uint64 // last seq seen for the filtered session
	pingCtx context.CancelFunc
}

// New creates a client for the given WebSocket URL. filter restricts
// the subscription to one session; empty subscribes to everything.
func New(wsURL, token, filter string, opts Options) *Client {
	if opts.ReconnectBaseDelay <= 0 {
		opts.ReconnectBaseDelay = time.Second
	}
	if opts.ReconnectMaxDelay <= 0 {
		opts.ReconnectMaxDelay = 30 * time.Second
	}
	return &Client{url: wsURL, token: token, filter: filter, opts: opts}
}

// --- Bubble Tea messages ---

// ConnectedMsg is sent when the WebSocket connects.
type ConnectedMsg struct{}

// DisconnectedMsg is sent when the connection drops.
type DisconnectedMsg struct{ Err error }

// SnapshotMsg delivers a full registry snapshot; the dashboard
// replaces its projection with it.
type SnapshotMsg struct{ Registry []session.RegistryEntry }

// EventMsg delivers one accepted participation event.
type EventMsg struct{ Event *session.ParticipationEvent }

// SessionStartedMsg announces a new active session.
type SessionStartedMsg struct{ Session *session.Session }

// SessionEndedMsg announces a session transition to ended.
type SessionEndedMsg struct{ Session *session.Session }

// ServerErrorMsg wraps a server-side error frame.
type ServerErrorMsg struct{ Err string }

// dialURL rebuilds the connection URL with auth, filter, and the
// resume point so a reconnect replays missed frames when possible.
func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return "", fmt.Errorf("parse ws url: %w", err)
	}
	q := u.Query()
	if c.token != "" {
		q.Set("token", c.token)
	}
	if c.filter != "" {
		q.Set("session", c.filter)
		c.mu.Lock()
		if c.seq > 0 {
			q.Set("from_seq", strconv.FormatUint(c.seq, 10))
		}
		c.mu.Unlock()
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Listen returns a Bubble Tea command that connects and keeps retrying
// with capped jittered backoff until it succeeds or the context ends.
func (c *Client) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		delay := c.opts.ReconnectBaseDelay
		for {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			target, err := c.dialURL()
			if err != nil {
				return DisconnectedMsg{Err: err}
			}
			conn, _, err := websocket.DefaultDialer.Dial(target, nil)
			if err != nil {
				sleep := delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))
				log.Printf("ws dial error: %v (retry in %v)", err, sleep)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(sleep):
				}
				if delay *= 2; delay > c.opts.ReconnectMaxDelay {
					delay = c.opts.ReconnectMaxDelay
				}
				continue
			}

			c.mu.Lock()
			if c.pingCtx != nil {
				c.pingCtx()
			}
			pingCtx, pingCancel := context.WithCancel(ctx)
			c.conn = conn
			c.pingCtx = pingCancel
			c.mu.Unlock()

			go c.pingLoop(pingCtx, conn)

			return ConnectedMsg{}
		}
	}
}

// ReadLoop returns a Bubble Tea command that reads frames from the
// connection and returns the first one that maps to a message. Start
// it after ConnectedMsg and re-issue it after every dispatched
// message.
func (c *Client) ReadLoop(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return DisconnectedMsg{Err: fmt.Errorf("not connected")}
		}

		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongTimeout))
			return nil
		})
		conn.SetReadDeadline(time.Now().Add(pongTimeout))

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.mu.Lock()
				if c.conn == conn {
					c.conn = nil
				}
				c.mu.Unlock()
				conn.Close()
				return DisconnectedMsg{Err: err}
			}

			var msg hub.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}

			if c.filter != "" && msg.SessionID == c.filter && msg.Seq > 0 {
				c.mu.Lock()
				c.seq = msg.Seq
				c.mu.Unlock()
			}

			if teaMsg := dispatch(msg); teaMsg != nil {
				return teaMsg
			}
		}
	}
}

func dispatch(msg hub.Message) tea.Msg {
	switch msg.Type {
	case hub.MsgSnapshot:
		return SnapshotMsg{Registry: msg.Registry}
	case hub.MsgEvent:
		if msg.Event != nil {
			return EventMsg{Event: msg.Event}
		}
	case hub.MsgSessionStarted:
		if msg.Session != nil {
			return SessionStartedMsg{Session: msg.Session}
		}
	case hub.MsgSessionEnded:
		if msg.Session != nil {
			return SessionEndedMsg{Session: msg.Session}
		}
	case hub.MsgError:
		return ServerErrorMsg{Err: msg.Error}
	}
	return nil
}

// pingLoop keeps the connection alive. It exits when the context is
// cancelled or the client has moved to a newer connection.
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			cc := c.conn
			c.mu.Unlock()
			if cc != conn {
				return
			}
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Ack reports the highest processed sequence number upstream.
func (c *Client) Ack(seq uint64) error {
	return c.writeJSON(map[string]any{"type": "ack", "seq": seq})
}

// Resync asks the server for a fresh snapshot.
func (c *Client) Resync() error {
	return c.writeJSON(map[string]string{"type": "resync"})
}

// Seq returns the last seen sequence number for the filtered session.
func (c *Client) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Close tears down the active connection, if any.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if c.pingCtx != nil {
		c.pingCtx()
		c.pingCtx = nil
	}
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) writeJSON(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}
