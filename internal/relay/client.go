package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
)

// ErrStopped is returned when a connection arrives after Stop.
var ErrStopped = errors.New("relay stopped")

// InboundHandler is called for every accepted inbound event, in arrival
// order for one connection.
type InboundHandler func(ctx context.Context, sessionID string, in Inbound)

// Client is one WebSocket connection attached to a session.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	sessionID string
	send      chan []byte
	limiter   *rate.Limiter
}

// ServeWS upgrades the request and serves the connection until it closes.
// It blocks for the lifetime of the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string, onInbound InboundHandler) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &Client{
		hub:       h,
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, h.clientBuffer),
		limiter:   rate.NewLimiter(h.inboundRate, h.inboundBurst),
	}
	if !h.add(c) {
		conn.Close()
		return ErrStopped
	}
	h.logger.Info("relay client connected", "session_id", sessionID, "remote", r.RemoteAddr)

	go c.writePump()
	c.readPump(r.Context(), onInbound)
	return nil
}

func (c *Client) readPump(ctx context.Context, onInbound InboundHandler) {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
		c.hub.logger.Info("relay client disconnected", "session_id", c.sessionID)
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, blob, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("relay read failed", "session_id", c.sessionID, "error", err)
			}
			return
		}
		if !c.limiter.Allow() {
			c.hub.observer.RelayRateLimited()
			c.hub.logger.Warn("relay inbound rate limited", "session_id", c.sessionID)
			continue
		}
		var in Inbound
		if err := json.Unmarshal(blob, &in); err != nil {
			c.hub.logger.Warn("relay inbound decode failed", "session_id", c.sessionID, "error", err)
			continue
		}
		if strings.TrimSpace(in.Message) == "" {
			continue
		}
		if onInbound != nil {
			onInbound(ctx, c.sessionID, in)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
