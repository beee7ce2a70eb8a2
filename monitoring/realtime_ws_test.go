package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"twostream/checkpoint"
	"twostream/metrics"
)

func dial(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Stats().ConnectedClients != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, hub.Stats().ConnectedClients)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("bad message %s: %v", data, err)
	}
	return msg
}

func TestHubBroadcastsRecords(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(nil)
	go hub.Run(ctx)

	conn := dial(t, hub)
	waitForClients(t, hub, 1)

	record := metrics.NewEpochRecord(3, 9, metrics.Scores{MAP: 0.5})
	if err := hub.Append(ctx, record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != RecordEvent {
		t.Fatalf("expected record event, got %s", msg.Type)
	}
	var got metrics.Record
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Epoch != 3 || got.Step != 9 || got.Stream != metrics.StreamTest || got.MAPAdv != 0.5 {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestHubSubscriptionFilters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(nil)
	go hub.Run(ctx)

	conn := dial(t, hub)
	waitForClients(t, hub, 1)

	if err := conn.WriteJSON(ClientMessage{Type: "subscribe", Topic: string(CheckpointEvent)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// the subscription is applied by the read pump; give it a moment
	time.Sleep(50 * time.Millisecond)

	hub.Append(ctx, metrics.NewEpochRecord(0, 0, metrics.Scores{}))
	hub.OnCheckpoint("models/checkpoint.json")(&checkpoint.Checkpoint{Epoch: 4, BestPrec1: 0.7})

	msg := readMessage(t, conn)
	if msg.Type != CheckpointEvent {
		t.Fatalf("expected only the checkpoint event, got %s", msg.Type)
	}
	var got CheckpointMessage
	if err := json.Unmarshal(msg.Data, &got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Epoch != 4 || got.BestPrec1 != 0.7 || got.Path != "models/checkpoint.json" {
		t.Fatalf("unexpected checkpoint message %+v", got)
	}
}

func TestStoppedHubRefusesConnections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	returned := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleWebSocket(w, r)
		close(returned)
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleWebSocket blocked after the hub stopped")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected a going-away close, got %v", err)
	}
	if n := hub.Stats().ConnectedClients; n != 0 {
		t.Fatalf("expected no registered clients, got %d", n)
	}
}

func TestHubSendsHeartbeats(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(nil)
	hub.SetHeartbeat(20 * time.Millisecond)
	go hub.Run(ctx)

	conn := dial(t, hub)
	waitForClients(t, hub, 1)

	// a heartbeat queued before registration may report zero clients
	for i := 0; i < 5; i++ {
		msg := readMessage(t, conn)
		if msg.Type != Heartbeat {
			t.Fatalf("expected heartbeat, got %s", msg.Type)
		}
		var got HeartbeatMessage
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Status != "alive" {
			t.Fatalf("unexpected heartbeat %+v", got)
		}
		if got.Stats.ConnectedClients == 1 {
			return
		}
	}
	t.Fatal("no heartbeat reported the connected client")
}
