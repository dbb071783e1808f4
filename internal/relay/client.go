// Haven Relay - Real-time Presence and Alert Relay for the Haven Safety App
// Copyright 2026 Haven Safety
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/haven-safety/haven-relay

package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/haven-safety/haven-relay/internal/logging"
)

// clientIDCounter generates unique, monotonically increasing IDs for
// clients so broadcast and shutdown iterate in a consistent order.
var clientIDCounter atomic.Uint64

// Client is the middleman between one authenticated WebSocket connection
// and the hub. It implements presence.Sender.
type Client struct {
	id       uint64
	identity string
	hub      *Hub
	conn     *websocket.Conn

	send chan Message

	// flood bounds the inbound message rate of this single connection,
	// upstream of the per-action sliding windows.
	flood *rate.Limiter

	mu     sync.RWMutex
	closed bool
}

// NewClient creates a Client for an already-authenticated connection.
func NewClient(hub *Hub, conn *websocket.Conn, identity string) *Client {
	return &Client{
		id:       clientIDCounter.Add(1),
		identity: identity,
		hub:      hub,
		conn:     conn,
		send:     make(chan Message, hub.cfg.SendBuffer),
		flood:    rate.NewLimiter(rate.Limit(hub.cfg.ReadRate), hub.cfg.ReadBurst),
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() uint64 {
	return c.id
}

// Identity returns the authenticated identity owning this connection.
func (c *Client) Identity() string {
	return c.identity
}

// TrySend enqueues one outbound message without blocking. Returns false
// when the buffer is full or the connection is closing; a slow peer loses
// messages instead of stalling the relay.
func (c *Client) TrySend(msgType string, data any) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- Message{Type: msgType, Data: data}:
		return true
	default:
		return false
	}
}

// closeSend closes the outbound queue exactly once. The write pump drains
// the remaining messages and then sends the close frame.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump pumps inbound messages from the connection into the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Str("identity", c.identity).Msg("unexpected websocket close")
			}
			break
		}

		msg, err := UnmarshalMessage(data)
		if err != nil {
			c.TrySend(TypeError, ErrorData{Message: "malformed message frame"})
			continue
		}

		if !c.flood.Allow() {
			c.TrySend(TypeError, ErrorData{Message: "sending messages too quickly"})
			continue
		}

		c.hub.HandleInbound(c, msg)
	}
}

// writePump pumps outbound messages from the send queue to the connection
// and keeps the connection alive with pings.
func (c *Client) writePump() {
	pingPeriod := (c.hub.cfg.PongWait * 9) / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// The hub closed the queue.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := MarshalMessage(message)
			if err != nil {
				logging.Error().Err(err).Str("identity", c.identity).Msg("failed to encode message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logging.Debug().Err(err).Str("identity", c.identity).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins the read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
