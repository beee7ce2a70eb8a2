// Package monitoring streams training progress to websocket clients.
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"twostream/checkpoint"
	"twostream/metrics"
)

type MessageType string

const (
	RecordEvent     MessageType = "record"
	CheckpointEvent MessageType = "checkpoint"
	StatusEvent     MessageType = "status"
	Heartbeat       MessageType = "heartbeat"
)

// Message is the envelope of every frame sent to clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	ID        string          `json:"id"`
}

// CheckpointMessage announces a newly written best checkpoint.
type CheckpointMessage struct {
	Path      string  `json:"path"`
	Epoch     int     `json:"epoch"`
	BestPrec1 float64 `json:"best_prec1"`
}

// ClientMessage is what a client may send: subscribe/unsubscribe to a message
// type, or ping. A client with no subscriptions receives everything.
type ClientMessage struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	clientID string

	mu            sync.RWMutex
	subscriptions map[MessageType]bool
}

func (c *Client) wants(t MessageType) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions) == 0 || c.subscriptions[t]
}

type outbound struct {
	kind    MessageType
	payload []byte
}

type Stats struct {
	ConnectedClients int64     `json:"connected_clients"`
	MessagesSent     int64     `json:"messages_sent"`
	MessagesDropped  int64     `json:"messages_dropped"`
	StartTime        time.Time `json:"start_time"`
}

// Hub fans messages out to connected clients. It implements the record sink
// interface of the trainer, so every train/test record is broadcast as it is
// appended.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     *zap.Logger
	heartbeat  time.Duration

	sent    atomic.Int64
	dropped atomic.Int64
	started time.Time
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:    logger.Named("ws"),
		heartbeat: 30 * time.Second,
		started:   time.Now(),
	}
}

// SetHeartbeat changes the heartbeat interval. It must be called before Run.
func (h *Hub) SetHeartbeat(interval time.Duration) {
	h.heartbeat = interval
}

// HeartbeatMessage is published periodically while the hub runs.
type HeartbeatMessage struct {
	Status string `json:"status"`
	Stats  Stats  `json:"stats"`
}

// Run dispatches until ctx is cancelled, then closes every client. Once it
// returns, new connections are refused.
func (h *Hub) Run(ctx context.Context) {
	defer h.logger.Debug("websocket hub stopped")
	defer close(h.done)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.Publish(Heartbeat, HeartbeatMessage{Status: "alive", Stats: h.Stats()})

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", zap.String("client", client.clientID), zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", zap.String("client", client.clientID), zap.Int("total", total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(msg.kind) {
					continue
				}
				select {
				case client.send <- msg.payload:
					h.sent.Add(1)
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// HandleWebSocket upgrades the request and attaches the connection to the hub.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:          conn,
		send:          make(chan []byte, 256),
		clientID:      uuid.NewString(),
		subscriptions: make(map[MessageType]bool),
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub stopped"))
		conn.Close()
		return
	}

	go client.writePump(h.logger)
	go client.readPump(h)
}

// Publish wraps data in a Message and queues it. A full queue drops the
// message rather than blocking training.
func (h *Hub) Publish(kind MessageType, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	payload, err := json.Marshal(Message{
		Type:      kind,
		Timestamp: time.Now(),
		Data:      raw,
		ID:        uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	select {
	case h.broadcast <- outbound{kind: kind, payload: payload}:
	default:
		h.dropped.Add(1)
		h.logger.Warn("broadcast queue is full, dropping message", zap.String("type", string(kind)))
	}
	return nil
}

func (h *Hub) Append(_ context.Context, r metrics.Record) error {
	return h.Publish(RecordEvent, r)
}

// OnCheckpoint returns a checkpoint watcher callback that broadcasts each new
// best checkpoint found at path.
func (h *Hub) OnCheckpoint(path string) func(*checkpoint.Checkpoint) {
	return func(ckpt *checkpoint.Checkpoint) {
		msg := CheckpointMessage{Path: path, Epoch: ckpt.Epoch, BestPrec1: ckpt.BestPrec1}
		if err := h.Publish(CheckpointEvent, msg); err != nil {
			h.logger.Warn("publish checkpoint event", zap.Error(err))
		}
	}
}

func (h *Hub) Stats() Stats {
	h.mu.RLock()
	connected := len(h.clients)
	h.mu.RUnlock()
	return Stats{
		ConnectedClients: int64(connected),
		MessagesSent:     h.sent.Load(),
		MessagesDropped:  h.dropped.Load(),
		StartTime:        h.started,
	}
}

func (c *Client) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("websocket write error", zap.String("client", c.clientID), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket error", zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("bad client message", zap.String("client", c.clientID), zap.Error(err))
			continue
		}
		c.handleClientMessage(msg)
	}
}

func (c *Client) handleClientMessage(msg ClientMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Type {
	case "subscribe":
		c.subscriptions[MessageType(msg.Topic)] = true
	case "unsubscribe":
		delete(c.subscriptions, MessageType(msg.Topic))
	}
}
