package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-tasmota/internal/bridges/tasmota"
	"github.com/nerrad567/gray-logic-tasmota/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-tasmota/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe       = "subscribe"
	WSTypeUnsubscribe     = "unsubscribe"
	WSTypePing            = "ping"
	WSTypePong            = "pong"
	WSTypeResponse        = "response"
	WSTypeError           = "error"
	WSTypePropertyChanged = "property_changed"

	wsSendBufferSize = 256
)

// WSMessage is a control message exchanged with a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// PropertyChangedEvent is pushed to clients for every property change.
type PropertyChangedEvent struct {
	Type      string `json:"type"`
	DeviceID  string `json:"device_id"`
	Property  string `json:"property"`
	Value     any    `json:"value"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

// WSSubscribePayload narrows (or widens) the devices a client follows.
// A client with no subscriptions follows every device.
type WSSubscribePayload struct {
	Devices []string `json:"devices"`
}

// inbound is a client message with its payload left undecoded until the
// type is known.
type inbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Hub fans property changes out to connected clients.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one WebSocket connection and the devices it follows.
type WSClient struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	mu            sync.Mutex
	closed        bool
	subscriptions map[string]struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS middleware already vetted the origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub returns an empty hub. Broadcast works immediately; Run only
// bounds the hub's lifetime.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.shutdown()
	}
	if len(clients) > 0 {
		h.logger.Debug("websocket hub stopped", "disconnected", len(clients))
	}
}

// Register starts delivering broadcasts to c.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister stops delivery to c and closes its send queue. Safe to call
// more than once.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.shutdown()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Broadcast encodes event once and queues it for every client following
// its device. Slow clients drop the event rather than stall the bridge.
func (h *Hub) Broadcast(event PropertyChangedEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("encoding property change", "device_id", event.DeviceID, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := 0
	for c := range h.clients {
		if !c.wants(event.DeviceID) {
			continue
		}
		if !c.trySend(data) {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Warn("websocket clients lagging", "device_id", event.DeviceID, "dropped", dropped)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (s *Server) broadcastChange(change tasmota.Change) {
	s.hub.Broadcast(PropertyChangedEvent{
		Type:      WSTypePropertyChanged,
		DeviceID:  change.DeviceID,
		Property:  change.Property,
		Value:     change.Value,
		Source:    string(change.Source),
		Timestamp: change.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	s.hub.Register(c)

	ping, pongWait := wsTimings(s.hub.cfg)
	go c.writeLoop(ping, pongWait)
	go c.readLoop(int64(s.hub.cfg.MaxMessageSize), ping+pongWait)
}

func wsTimings(cfg config.WebSocketConfig) (ping, pongWait time.Duration) {
	return time.Duration(cfg.PingInterval) * time.Second, time.Duration(cfg.PongTimeout) * time.Second
}

// readLoop owns the read side of the connection. Any inbound frame,
// control or data, extends the idle deadline.
func (c *WSClient) readLoop(limit int64, idle time.Duration) {
	defer c.hub.Unregister(c)

	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }

	c.conn.SetReadLimit(limit)
	_ = extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		_ = extend()
		c.dispatch(data)
	}
}

// writeLoop owns the write side. It exits when the send queue is closed
// or a write fails, and always closes the connection on the way out.
func (c *WSClient) writeLoop(ping, writeWait time.Duration) {
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) dispatch(data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(msg.ID, WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &sub); err != nil {
				c.reply(msg.ID, WSTypeError, errorPayload("invalid "+msg.Type+" payload"))
				return
			}
		}
		if len(sub.Devices) == 0 {
			c.reply(msg.ID, WSTypeError, errorPayload(msg.Type+" needs at least one device"))
			return
		}
		c.follow(sub.Devices, msg.Type == WSTypeSubscribe)
		c.reply(msg.ID, WSTypeResponse, map[string]any{msg.Type + "d": sub.Devices})
	default:
		c.reply(msg.ID, WSTypeError, errorPayload("unknown message type: "+msg.Type))
	}
}

// follow adds or removes device IDs from the client's filter.
func (c *WSClient) follow(devices []string, add bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range devices {
		if add {
			c.subscriptions[id] = struct{}{}
		} else {
			delete(c.subscriptions, id)
		}
	}
}

func (c *WSClient) wants(deviceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subscriptions) == 0 {
		return true
	}
	_, ok := c.subscriptions[deviceID]
	return ok
}

// trySend queues data without blocking. It reports false when the queue
// is full or already closed.
func (c *WSClient) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// shutdown closes the send queue exactly once; writeLoop then sends a
// close frame and drops the connection.
func (c *WSClient) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}
