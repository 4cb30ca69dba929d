// Package hub manages WebSocket subscribers for real-time alert delivery.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"vigil/internal/threat"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second

	// sendBuffer is the per-subscriber outbound queue. A subscriber that
	// falls this far behind is dropped rather than allowed to block
	// delivery to everyone else.
	sendBuffer = 32
)

// subscriber pairs a connection with its outbound queue. All writes to the
// connection happen on its writePump goroutine; everything else only sends
// on the channel.
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks currently-connected alert subscribers and fans events out to
// them. It owns the subscriber set; a subscriber is removed on send
// failure, a full send buffer, or explicit disconnect. Late joiners only
// see events published after they attach.
type Hub struct {
	logger *zap.Logger

	mu   sync.Mutex
	subs map[*subscriber]bool
}

// New creates an alert hub.
func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger: logger,
		subs:   make(map[*subscriber]bool),
	}
}

// Register adds a subscriber for the connection and starts its write pump.
// The hub takes over all writes to the connection from this point.
func (h *Hub) Register(conn *websocket.Conn) *subscriber {
	sub := &subscriber{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	h.subs[sub] = true
	total := len(h.subs)
	h.mu.Unlock()

	go h.writePump(sub)

	h.logger.Info("alert subscriber registered", zap.Int("total", total))
	return sub
}

// Unregister removes a subscriber and closes its send channel, which ends
// its write pump. Safe to call more than once.
func (h *Hub) Unregister(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.send)
	}
	total := len(h.subs)
	h.mu.Unlock()

	h.logger.Info("alert subscriber unregistered", zap.Int("total", total))
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// PublishAlert marshals the event and broadcasts it to every subscriber.
func (h *Hub) PublishAlert(ev *threat.AlertEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to marshal alert event", zap.Error(err))
		return
	}
	h.Broadcast(data)
}

// Broadcast queues a message for every subscriber. Only channel sends
// happen here, so concurrent broadcasts never touch a connection directly;
// each subscriber's write pump is the sole writer. A subscriber whose
// buffer is full is dropped; delivery to the rest continues.
func (h *Hub) Broadcast(message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		select {
		case sub.send <- message:
		default:
			h.logger.Warn("subscriber send buffer full, deregistering")
			delete(h.subs, sub)
			close(sub.send)
		}
	}
}

// Close disconnects all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.send)
	}
}

// writePump is the single writer for one subscriber's connection. It
// drains the send channel and emits keepalive pings; it exits when the
// send channel is closed or a write fails, closing the connection on the
// way out. Having one owner per connection satisfies the websocket
// library's one-concurrent-writer requirement.
func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case message, ok := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Unregistered: say goodbye and stop.
				sub.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Warn("subscriber send failed, deregistering", zap.Error(err))
				h.Unregister(sub)
				return
			}

		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.Unregister(sub)
				return
			}
		}
	}
}
