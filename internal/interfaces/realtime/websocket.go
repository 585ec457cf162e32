package realtime

import (
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 4096
)

// WebSocketHandler upgrades requests to WebSocket connections bound to a
// gateway client. Each connection runs one reader and one writer goroutine.
type WebSocketHandler struct {
	gateway        *Gateway
	upgrader       websocket.Upgrader
	allowedOrigins []string
	writeWait      time.Duration
	pongWait       time.Duration
	maxMessageSize int64
	logger         *zap.Logger
}

// WebSocketOption configures a WebSocketHandler
type WebSocketOption func(*WebSocketHandler)

// WithAllowedOrigins restricts the Origin header of upgrade requests. "*"
// allows any origin; an empty list allows only same-host requests.
func WithAllowedOrigins(origins []string) WebSocketOption {
	return func(h *WebSocketHandler) {
		h.allowedOrigins = origins
	}
}

// WithPongWait sets how long a connection may stay silent; pings are sent at
// nine tenths of it
func WithPongWait(d time.Duration) WebSocketOption {
	return func(h *WebSocketHandler) {
		if d > 0 {
			h.pongWait = d
		}
	}
}

// WithWebSocketLogger sets the logger
func WithWebSocketLogger(logger *zap.Logger) WebSocketOption {
	return func(h *WebSocketHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewWebSocketHandler creates a handler serving clients of g
func NewWebSocketHandler(g *Gateway, opts ...WebSocketOption) *WebSocketHandler {
	h := &WebSocketHandler{
		gateway:        g,
		writeWait:      defaultWriteWait,
		pongWait:       defaultPongWait,
		maxMessageSize: defaultMaxMessageSize,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.Named("websocket")
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Handle is the gin handler for GET /ws
func (h *WebSocketHandler) Handle(c *gin.Context) {
	h.ServeHTTP(c.Writer, c.Request)
}

// ServeHTTP upgrades the request and serves the connection until either side
// closes it
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	client, err := h.gateway.Connect(TransportWebSocket)
	if err != nil {
		status := http.StatusServiceUnavailable
		if !errors.Is(err, ErrTooManyClients) && !errors.Is(err, ErrGatewayStopped) {
			status = http.StatusInternalServerError
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		h.gateway.Disconnect(client)
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	go h.writePump(conn, client)
	h.readPump(r, conn, client)
}

// readPump forwards inbound frames to the gateway. It owns disconnecting the
// client once the connection fails.
func (h *WebSocketHandler) readPump(r *http.Request, conn *websocket.Conn, client *Client) {
	defer h.gateway.Disconnect(client)

	conn.SetReadLimit(h.maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Info("WebSocket closed unexpectedly",
					zap.String("client_id", client.ID()),
					zap.Error(err),
				)
			}
			return
		}
		h.gateway.HandleClientMessage(r.Context(), client, data)
	}
}

// writePump drains the client queue onto the connection and keeps it alive
// with pings. It owns closing the connection.
func (h *WebSocketHandler) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(h.pongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg := <-client.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("WebSocket write failed",
					zap.String("client_id", client.ID()),
					zap.Error(err),
				)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.writeWait),
			)
			return
		}
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(h.allowedOrigins, "*") || slices.Contains(h.allowedOrigins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
