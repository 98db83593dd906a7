package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/classpulse/classpulse/internal/hub"
	"github.com/classpulse/classpulse/internal/session"
)

func emptySnapshot() hub.Message {
	return hub.Message{Type: hub.MsgSnapshot}
}

// dialTestWS creates a test HTTP server that upgrades to WebSocket and
// returns both connection ends. The caller must close the server.
func dialTestWS(t *testing.T) (*httptest.Server, *websocket.Conn, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- c
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}

	select {
	case serverConn := <-connCh:
		return srv, serverConn, clientConn
	case <-time.After(2 * time.Second):
		srv.Close()
		t.Fatal("timed out waiting for server-side WebSocket connection")
		return nil, nil, nil
	}
}

// readFrame reads one broadcast frame from the client side of a
// connection, failing the test if nothing arrives in time.
func readFrame(t *testing.T, conn *websocket.Conn) hub.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var msg hub.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return msg
}

func eventMsg(sessionID string, seq uint64) hub.Message {
	return hub.Message{
		Type:      hub.MsgEvent,
		SessionID: sessionID,
		Seq:       seq,
		Event: &session.ParticipationEvent{
			ID:        "ev-" + sessionID,
			SessionID: sessionID,
			Type:      session.Chat,
			Seq:       seq,
		},
	}
}

func TestAddClientSendsSnapshotFirst(t *testing.T) {
	srv, serverConn, clientConn := dialTestWS(t)
	defer srv.Close()

	b := NewBroadcaster(emptySnapshot, 64, 64, 0)
	c, err := b.AddClient(serverConn, "", 0)
	if err != nil {
		t.Fatalf("AddClient: %v", err)
	}
	defer b.RemoveClient(c)

	if got := readFrame(t, clientConn); got.Type != hub.MsgSnapshot {
		t.Fatalf("first frame type = %q, want %q", got.Type, hub.MsgSnapshot)
	}
}

func TestPublishOrderAndFilter(t *testing.T) {
	srvAll, connAll, clientAll := dialTestWS(t)
	defer srvAll.Close()
	srvS1, connS1, clientS1 := dialTestWS(t)
	defer srvS1.Close()

	b := NewBroadcaster(emptySnapshot, 64, 64, 0)
	all, err := b.AddClient(connAll, "", 0)
	if err != nil {
		t.Fatalf("AddClient(all): %v", err)
	}
	defer b.RemoveClient(all)
	only, err := b.AddClient(connS1, "s1", 0)
	if err != nil {
		t.Fatalf("AddClient(s1): %v", err)
	}
	defer b.RemoveClient(only)

	// Both start with a snapshot.
	readFrame(t, clientAll)
	readFrame(t, clientS1)

	b.Publish(eventMsg("s1", 1))
	b.Publish(eventMsg("s2", 1))
	b.Publish(eventMsg("s1", 2))

	// Unfiltered subscriber sees all three in publish order.
	for i, want := range []struct {
		sessionID string
		seq       uint64
	}{{"s1", 1}, {"s2", 1}, {"s1", 2}} {
		got := readFrame(t, clientAll)
		if got.SessionID != want.sessionID || got.Seq != want.seq {
			t.Errorf("all frame[%d] = %s/%d, want %s/%d",
				i, got.SessionID, got.Seq, want.sessionID, want.seq)
		}
	}

	// Filtered subscriber sees only s1 frames.
	for i, wantSeq := range []uint64{1, 2} {
		got := readFrame(t, clientS1)
		if got.SessionID != "s1" || got.Seq != wantSeq {
			t.Errorf("s1 frame[%d] = %s/%d, want s1/%d", i, got.SessionID, got.Seq, wantSeq)
		}
	}
}

// TestSlowSubscriberDisconnectedAlone verifies that one subscriber
// with a full buffer is dropped without affecting delivery to the
// others.
func TestSlowSubscriberDisconnectedAlone(t *testing.T) {
	srvSlow, slowConn, _ := dialTestWS(t)
	defer srvSlow.Close()
	srvFast, fastConn, fastClient := dialTestWS(t)
	defer srvFast.Close()

	b := NewBroadcaster(emptySnapshot, 1, 64, 0)

	// Build the slow client directly with no writePump so its one-slot
	// buffer fills immediately.
	slow := &client{
		conn:   slowConn,
		b:      b,
		send:   make(chan []byte, 1),
		filter: "",
	}
	b.mu.Lock()
	b.clients[slow] = true
	b.mu.Unlock()

	fast, err := b.AddClient(fastConn, "", 0)
	if err != nil {
		t.Fatalf("AddClient: %v", err)
	}
	defer b.RemoveClient(fast)
	readFrame(t, fastClient) // snapshot

	b.Publish(eventMsg("s1", 1)) // fills slow's buffer
	b.Publish(eventMsg("s1", 2)) // overflows it: slow is removed
	b.Publish(eventMsg("s1", 3))

	for i, wantSeq := range []uint64{1, 2, 3} {
		got := readFrame(t, fastClient)
		if got.Seq != wantSeq {
			t.Errorf("fast frame[%d] seq = %d, want %d", i, got.Seq, wantSeq)
		}
	}

	if got := b.ClientCount(); got != 1 {
		t.Errorf("ClientCount = %d after slow disconnect, want 1", got)
	}
}

func TestReplay(t *testing.T) {
	b := NewBroadcaster(emptySnapshot, 64, 3, 0)

	for seq := uint64(1); seq <= 5; seq++ {
		b.record(eventMsg("s1", seq))
	}

	// Ring holds seqs 3,4,5. Resuming from 3 replays 4 and 5.
	frames, ok := b.Replay("s1", 3)
	if !ok {
		t.Fatal("Replay(3) should succeed with the ring covering seq 4")
	}
	if len(frames) != 2 || frames[0].Seq != 4 || frames[1].Seq != 5 {
		t.Fatalf("Replay(3) = %d frames, want seqs [4 5]", len(frames))
	}

	// Resuming from the newest frame replays nothing, but is not a gap.
	frames, ok = b.Replay("s1", 5)
	if !ok || len(frames) != 0 {
		t.Fatalf("Replay(5) = %v,%v; want empty success", frames, ok)
	}

	tests := []struct {
		name      string
		sessionID string
		fromSeq   uint64
	}{
		{"GapBeyondWindow", "s1", 1},
		{"UnknownSession", "nope", 3},
		{"ZeroFromSeq", "s1", 0},
		{"EmptySession", "", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := b.Replay(tt.sessionID, tt.fromSeq); ok {
				t.Error("expected replay to fall back to snapshot")
			}
		})
	}
}

func TestAddClientReplaysAfterReconnect(t *testing.T) {
	b := NewBroadcaster(emptySnapshot, 64, 64, 0)
	for seq := uint64(1); seq <= 4; seq++ {
		b.record(eventMsg("s1", seq))
	}

	srv, serverConn, clientConn := dialTestWS(t)
	defer srv.Close()

	c, err := b.AddClient(serverConn, "s1", 2)
	if err != nil {
		t.Fatalf("AddClient: %v", err)
	}
	defer b.RemoveClient(c)

	// The reconnecting subscriber gets the missed frames, not a snapshot.
	for i, wantSeq := range []uint64{3, 4} {
		got := readFrame(t, clientConn)
		if got.Type != hub.MsgEvent || got.Seq != wantSeq {
			t.Errorf("replay frame[%d] = %s seq %d, want event seq %d",
				i, got.Type, got.Seq, wantSeq)
		}
	}
}

func TestResyncReplaysFromLastAck(t *testing.T) {
	b := NewBroadcaster(emptySnapshot, 64, 64, 0)
	for seq := uint64(1); seq <= 5; seq++ {
		b.record(eventMsg("s1", seq))
	}

	srv, serverConn, clientConn := dialTestWS(t)
	defer srv.Close()
	c, err := b.AddClient(serverConn, "s1", 3)
	if err != nil {
		t.Fatalf("AddClient: %v", err)
	}
	defer b.RemoveClient(c)
	// Connecting at seq 3 replays 4 and 5.
	readFrame(t, clientConn)
	readFrame(t, clientConn)

	b.record(eventMsg("s1", 6))
	b.record(eventMsg("s1", 7))
	c.ack(6)

	// Resync picks up at the ack watermark: only seq 7 comes back, not
	// a snapshot and not the already-acknowledged frames.
	b.Resync(c)
	got := readFrame(t, clientConn)
	if got.Type != hub.MsgEvent || got.Seq != 7 {
		t.Fatalf("resync frame = %s seq %d, want event seq 7", got.Type, got.Seq)
	}
}

func TestResyncFallsBackToSnapshot(t *testing.T) {
	tests := []struct {
		name    string
		filter  string
		fromSeq uint64
	}{
		{"Unfiltered", "", 0},
		{"AckBehindWindow", "s1", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBroadcaster(emptySnapshot, 64, 3, 0)
			for seq := uint64(1); seq <= 10; seq++ {
				b.record(eventMsg("s1", seq)) // ring keeps 8,9,10
			}

			srv, serverConn, clientConn := dialTestWS(t)
			defer srv.Close()
			c, err := b.AddClient(serverConn, tt.filter, tt.fromSeq)
			if err != nil {
				t.Fatalf("AddClient: %v", err)
			}
			defer b.RemoveClient(c)
			if got := readFrame(t, clientConn); got.Type != hub.MsgSnapshot {
				t.Fatalf("connect frame = %s, want snapshot", got.Type)
			}

			b.Resync(c)
			if got := readFrame(t, clientConn); got.Type != hub.MsgSnapshot {
				t.Fatalf("resync frame = %s, want snapshot", got.Type)
			}
		})
	}
}

func TestAddClientMaxConnections(t *testing.T) {
	const maxConns = 2
	b := NewBroadcaster(emptySnapshot, 64, 64, maxConns)

	var clients []*client
	for i := 0; i < maxConns; i++ {
		srv, conn, _ := dialTestWS(t)
		defer srv.Close()
		c, err := b.AddClient(conn, "", 0)
		if err != nil {
			t.Fatalf("AddClient[%d]: unexpected error: %v", i, err)
		}
		clients = append(clients, c)
	}

	srv, conn, _ := dialTestWS(t)
	defer srv.Close()
	if _, err := b.AddClient(conn, "", 0); !errors.Is(err, ErrTooManyConnections) {
		t.Fatalf("expected ErrTooManyConnections, got %v", err)
	}
	if got := b.ClientCount(); got != maxConns {
		t.Fatalf("ClientCount = %d after rejection, want %d", got, maxConns)
	}

	// Freeing a slot lets the next subscriber in.
	b.RemoveClient(clients[0])
	srv2, conn2, _ := dialTestWS(t)
	defer srv2.Close()
	c, err := b.AddClient(conn2, "", 0)
	if err != nil {
		t.Fatalf("AddClient after removal: %v", err)
	}
	b.RemoveClient(c)
}

// TestWritePumpRemovesClientOnWriteError verifies a dead connection is
// pruned from the client map once a write fails.
func TestWritePumpRemovesClientOnWriteError(t *testing.T) {
	srv, serverConn, _ := dialTestWS(t)
	defer srv.Close()

	b := NewBroadcaster(emptySnapshot, 64, 64, 0)

	c := &client{
		conn: serverConn,
		b:    b,
		send: make(chan []byte, 64),
	}
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	serverConn.Close()
	c.send <- []byte(`{"type":"event"}`)
	go c.writePump()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.ClientCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client not removed after write error; ClientCount = %d", b.ClientCount())
}

func TestConcurrentPublish(t *testing.T) {
	srv, serverConn, clientConn := dialTestWS(t)
	defer srv.Close()

	b := NewBroadcaster(emptySnapshot, 256, 64, 0)
	c, err := b.AddClient(serverConn, "", 0)
	if err != nil {
		t.Fatalf("AddClient: %v", err)
	}
	defer b.RemoveClient(c)
	readFrame(t, clientConn) // snapshot

	const perSession = 20
	var wg sync.WaitGroup
	for _, id := range []string{"s1", "s2", "s3"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for seq := uint64(1); seq <= perSession; seq++ {
				b.Publish(eventMsg(id, seq))
			}
		}(id)
	}
	wg.Wait()

	// Per-session seq order must survive interleaving.
	last := map[string]uint64{}
	for i := 0; i < 3*perSession; i++ {
		got := readFrame(t, clientConn)
		if got.Seq != last[got.SessionID]+1 {
			t.Fatalf("session %s frame out of order: got seq %d after %d",
				got.SessionID, got.Seq, last[got.SessionID])
		}
		last[got.SessionID] = got.Seq
	}
}
