package hub

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Alert consumers attach from arbitrary origins
		return true
	},
}

// Handler upgrades HTTP requests to WebSocket alert subscriptions.
type Handler struct {
	hub    *Hub
	logger *zap.Logger
}

// NewHandler creates the WebSocket attach handler.
func NewHandler(h *Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{hub: h, logger: logger}
}

// ServeHTTP handles WebSocket upgrade requests on the alert channel.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.logger.Info("new alert subscriber", zap.String("remote", r.RemoteAddr))
	sub := h.hub.Register(conn)
	go h.readPump(sub)
}

// readPump drains the connection to detect client disconnects and keeps
// the read deadline fresh on pongs; subscribers are not expected to send
// meaningful payloads. All writes, pings included, belong to the
// subscriber's write pump.
func (h *Handler) readPump(sub *subscriber) {
	conn := sub.conn
	defer h.hub.Unregister(sub)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("subscriber read error", zap.Error(err))
			}
			return
		}
	}
}
