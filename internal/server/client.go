package server

import (
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/gochat-realtime/internal/realtime"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// Client is one WebSocket connection. It implements realtime.Session.
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	id        realtime.SessionID
	rawUserID string
	addr      string
	limiter   *rate.Limiter
	logger    *zap.Logger

	maxMessageSize int64

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	state     atomic.Int32
}

var _ realtime.Session = (*Client)(nil)

// NewClient wraps conn. rawUserID is the unvalidated handshake identity.
func NewClient(conn *websocket.Conn, hub *Hub, cfg *Config, rawUserID, addr string) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	id := realtime.SessionID(uuid.NewString())

	return &Client{
		conn:           conn,
		send:           make(chan []byte, cfg.SendBuffer),
		hub:            hub,
		id:             id,
		rawUserID:      rawUserID,
		addr:           addr,
		limiter:        newRateLimiter(cfg.RateLimit),
		logger:         hub.logger.With(zap.String("session", string(id))),
		maxMessageSize: cfg.MaxMessageSize,
	}
}

// ID implements realtime.Session.
func (c *Client) ID() realtime.SessionID { return c.id }

// Send queues frame without blocking. A client whose queue is full is
// evicted; its disconnect then runs through the hub as usual.
func (c *Client) Send(frame []byte) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	select {
	case c.send <- frame:
		c.mu.Unlock()
		return true
	default:
	}
	c.mu.Unlock()

	c.logger.Warn("Send buffer full, evicting client", zap.String("remote", c.addr))
	c.closeConn()
	return false
}

// State reports the lifecycle state of the connection.
func (c *Client) State() realtime.State {
	return realtime.State(c.state.Load())
}

func (c *Client) setState(s realtime.State) {
	c.state.Store(int32(s))
}

// closeSend closes the send queue so writePump says goodbye and exits.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) closeConn() {
	c.closeOnce.Do(func() {
		if c.conn == nil {
			return
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("Error closing connection", zap.Error(err))
		}
	})
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("Error setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// logReadError records why the read loop ended.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("Message exceeded maximum size", zap.Int64("limit", c.maxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Debug("Client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Debug("Connection closed", zap.Error(err))
	default:
		c.logger.Warn("WebSocket read error", zap.Error(err))
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.closeConn()
	}()

	c.setupReadConnection()

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.limiter.Allow() {
			c.logger.Warn("Rate limit exceeded; discarding frame", zap.Int("burst", c.limiter.Burst()))
			continue
		}

		if err := c.hub.dispatcher.Handle(c.hub.ctx, c, frame); err != nil {
			c.logger.Info("Rejected frame", zap.Error(err))
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConn()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !c.write(frame, ok) {
				return
			}
		case <-ticker.C:
			if !c.ping() {
				return
			}
		}
	}
}

// write sends one frame per WebSocket message, or a close message once the
// queue is closed. It returns false when the pump should stop.
func (c *Client) write(frame []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("Error setting write deadline", zap.Error(err))
		return false
	}

	if !ok {
		err := c.conn.WriteMessage(websocket.CloseMessage, []byte{})
		if err != nil && !isExpectedCloseError(err) {
			c.logger.Debug("Error writing close message", zap.Error(err))
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("Error writing frame", zap.Error(err))
		}
		return false
	}
	return true
}

func (c *Client) ping() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("Error setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug("Error writing ping", zap.Error(err))
		return false
	}
	return true
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
