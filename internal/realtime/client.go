package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lectura/studyroom/internal/auth"
	"github.com/lectura/studyroom/internal/middleware"
	"github.com/lectura/studyroom/pkg/response"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
)

// TokenValidator validates the handshake token.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// ClientConfig tunes each connection.
type ClientConfig struct {
	SendBuffer      int
	MaxMessageBytes int64
	AllowedOrigins  []string
}

// Client is a single WebSocket connection. It implements Peer.
type Client struct {
	id     string
	userID uuid.UUID
	name   string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}

	closeOnce sync.Once
	closeCode int
	closeMsg  string

	logger *zap.Logger
}

func (c *Client) ID() string          { return c.id }
func (c *Client) UserID() uuid.UUID   { return c.userID }
func (c *Client) DisplayName() string { return c.name }

// Send queues msg for the write pump without blocking.
func (c *Client) Send(msg []byte) error {
	select {
	case <-c.done:
		return ErrPeerClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close asks the write pump to send a close frame and shut the connection.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode, c.closeMsg = code, reason
		close(c.done)
	})
}

// ServeWs authenticates the token query parameter (or bearer header), upgrades the connection and runs the client loop.
// Invalid tokens are rejected with 401 before any upgrade.
func ServeWs(router *Router, tokens TokenValidator, cfg ClientConfig, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.OriginAllowed(cfg.AllowedOrigins, r.Header.Get("Origin"))
		},
	}
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token, _ = middleware.BearerToken(c)
		}
		if token == "" {
			response.Unauthorized(c, "token required")
			return
		}
		claims, err := tokens.Validate(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			id:     uuid.New().String(),
			userID: claims.UserID,
			name:   claims.DisplayName(),
			conn:   conn,
			send:   make(chan []byte, cfg.SendBuffer),
			done:   make(chan struct{}),
			logger: logger.With(zap.String("user_id", claims.UserID.String())),
		}
		client.logger.Debug("websocket connected")
		go client.writePump()
		client.readPump(router, cfg.MaxMessageBytes)
	}
}

func (c *Client) readPump(router *Router, maxBytes int64) {
	defer func() {
		router.Disconnect(c)
		c.Close(CloseNormal, "")
		c.logger.Debug("websocket disconnected", zap.String("client_id", c.id))
	}()

	if maxBytes > 0 {
		c.conn.SetReadLimit(maxBytes)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.TextMessage {
			c.logger.Warn("ignoring non-text frame", zap.Int("frame_type", msgType))
			continue
		}
		router.Handle(context.Background(), c, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.Close(CloseNormal, "")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(CloseNormal, "")
				return
			}
		case <-c.done:
			c.drain()
			frame := websocket.FormatCloseMessage(c.closeCode, c.closeMsg)
			_ = c.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(writeWait))
			return
		}
	}
}

// drain flushes messages queued before Close so a final notice like session_ended is delivered.
func (c *Client) drain() {
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
