package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/leafsii/marketplace/internal/marketplace"
	"github.com/leafsii/marketplace/internal/metrics"
	"github.com/leafsii/marketplace/internal/store"
	"go.uber.org/zap"
)

// TopicAllEvents subscribes a client to every event type.
const TopicAllEvents = store.ChannelEvents + "*"

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	cache      *store.Cache
	logger     *zap.SugaredLogger
	metrics    *metrics.Metrics
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	ready      chan struct{}
	done       chan struct{}
}

type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	mu         sync.Mutex
	topics     map[string]bool
	lastActive time.Time
}

type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type WSSubscriptionRequest struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

// NewHub creates a hub. An empty allowedOrigins list, or one containing "*",
// accepts any origin.
func NewHub(cache *store.Cache, logger *zap.SugaredLogger, metrics *metrics.Metrics, allowedOrigins []string) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		cache:      cache,
		logger:     logger,
		metrics:    metrics,
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			for _, allowed := range allowedOrigins {
				if allowed == "*" || origin == allowed {
					return true
				}
			}
			return false
		},
	}
	return h
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	go h.startSubscription(ctx)
	go h.startClientCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			h.logger.Infow("WebSocket hub shutting down")
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.IncrementConnections(ctx)
			}
			h.logger.Debugw("Client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.DecrementConnections(ctx)
			}
			h.logger.Debugw("Client unregistered")
		}
	}
}

// startSubscription listens on every event-type channel. Collection topics are
// derived from the event payload, so no per-collection subscription is needed.
func (h *Hub) startSubscription(ctx context.Context) {
	channels := store.EventChannels()
	sub := h.cache.Subscribe(ctx, channels...)
	defer sub.Close()
	close(h.ready)
	h.logger.Debugw("WebSocket hub subscribed", "channels", len(channels), "in_memory", h.cache.IsInMemoryMode())

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.handleMessage(msg)
		}
	}
}

func (h *Hub) handleMessage(msg *store.Message) {
	var ev marketplace.Event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		h.logger.Warnw("Dropping undecodable event", "channel", msg.Channel, "error", err)
		return
	}

	topics := []string{msg.Channel}
	if ev.Collection != "" {
		topics = append(topics, store.CollectionChannel(ev.Collection))
	}

	for _, topic := range topics {
		data, err := json.Marshal(Message{
			Type:      "update",
			Topic:     topic,
			Data:      json.RawMessage(msg.Payload),
			Timestamp: time.Now().Unix(),
		})
		if err != nil {
			h.logger.Errorw("Failed to marshal WebSocket message", "error", err)
			return
		}
		h.broadcastToClients(data, topic, msg.Channel)
	}
}

// broadcastToClients sends to clients subscribed to topic. A client matching
// several topics of the same event receives it once, on the first match.
func (h *Hub) broadcastToClients(message []byte, topic, eventChannel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if !client.isSubscribed(topic) {
			continue
		}
		if topic != eventChannel && client.isSubscribed(eventChannel) {
			continue
		}
		select {
		case client.send <- message:
		default:
			// slow or gone
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// Ready is closed once the hub listens for events.
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) startClientCleanup(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.cleanupInactiveClients()
		}
	}
}

func (h *Hub) cleanupInactiveClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := time.Now().Add(-90 * time.Second)
	for client := range h.clients {
		if client.idleSince().Before(cutoff) {
			delete(h.clients, client)
			close(client.send)
			h.logger.Debugw("Cleaned up inactive client")
		}
	}
}

// HandleWebSocket upgrades the request and registers the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, 256),
		topics:     make(map[string]bool),
		lastActive: time.Now(),
	}
	for _, topic := range r.URL.Query()["topic"] {
		if validTopic(topic) {
			client.topics[topic] = true
		}
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Errorw("WebSocket error", "error", err)
			}
			break
		}
		c.touch()
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// one JSON message per frame
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(message []byte) {
	var sub WSSubscriptionRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		c.hub.logger.Warnw("Invalid subscription message", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch sub.Type {
	case "subscribe":
		for _, topic := range sub.Topics {
			if validTopic(topic) {
				c.topics[topic] = true
			}
		}
		c.hub.logger.Debugw("Client subscribed to topics", "topics", sub.Topics)

	case "unsubscribe":
		for _, topic := range sub.Topics {
			delete(c.topics, topic)
		}
		c.hub.logger.Debugw("Client unsubscribed from topics", "topics", sub.Topics)
	}
}

func validTopic(topic string) bool {
	return strings.HasPrefix(topic, store.ChannelEvents) || strings.HasPrefix(topic, store.ChannelCollection)
}

func (c *Client) isSubscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.topics[topic] {
		return true
	}
	return c.topics[TopicAllEvents] && strings.HasPrefix(topic, store.ChannelEvents)
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

func (c *Client) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}
