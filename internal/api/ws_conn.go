package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/access-control-core/internal/infrastructure/config"
)

// wsConn is one console client. The write loop is the only writer to ws;
// everything else hands it frames through out.
type wsConn struct {
	hub    *Hub
	ws     *websocket.Conn
	remote string

	mu       sync.Mutex
	out      chan []byte
	closed   bool
	channels map[string]bool
}

// wsRequest is an inbound frame. Payload stays raw until the type is known.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

func newWSConn(hub *Hub, ws *websocket.Conn, remote string) *wsConn {
	return &wsConn{
		hub:      hub,
		ws:       ws,
		remote:   remote,
		out:      make(chan []byte, wsQueueSize),
		channels: make(map[string]bool),
	}
}

// enqueue queues a frame without blocking. It reports false when the
// client is gone or its queue is full.
func (c *wsConn) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.out <- data:
		return true
	default:
		return false
	}
}

// shutdown closes the queue so the write loop sends a close frame and exits.
// It is safe to call more than once.
func (c *wsConn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

func (c *wsConn) wants(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[ChannelAll] || c.channels[channel]
}

func (c *wsConn) setChannels(names []string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range names {
		if on {
			c.channels[name] = true
		} else {
			delete(c.channels, name)
		}
	}
}

func (c *wsConn) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.remove(c)
		c.ws.Close()
	}()

	limit := int64(cfg.MaxMessageSize)
	if limit <= 0 {
		limit = wsDefaultReadLimit
	}
	c.ws.SetReadLimit(limit)

	ping, pong := wsTimings(cfg)
	extend := func() error {
		return c.ws.SetReadDeadline(time.Now().Add(ping + pong))
	}
	extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.ws.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "remote", c.remote, "error", err)
			}
			return
		}
		// Application frames count as liveness too; some browsers never
		// answer protocol pings while a tab is in the background.
		extend() //nolint:errcheck // see above
		c.dispatch(data)
	}
}

func (c *wsConn) writeLoop(cfg config.WebSocketConfig) {
	ping, pong := wsTimings(cfg)
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	write := func(kind int, data []byte) error {
		c.ws.SetWriteDeadline(time.Now().Add(pong)) //nolint:errcheck // write error reported below
		return c.ws.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.out:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
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

func (c *wsConn) dispatch(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.replyError("", "invalid JSON message")
		return
	}

	switch req.Type {
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if len(req.Payload) == 0 || json.Unmarshal(req.Payload, &sub) != nil {
			c.replyError(req.ID, "invalid "+req.Type+" payload")
			return
		}
		subscribe := req.Type == WSTypeSubscribe
		c.setChannels(sub.Channels, subscribe)

		key := "unsubscribed"
		if subscribe {
			key = "subscribed"
		}
		c.reply(req.ID, WSTypeResponse, map[string]any{key: sub.Channels})
	default:
		c.replyError(req.ID, "unknown message type: "+req.Type)
	}
}

func (c *wsConn) reply(id, kind string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      kind,
		ID:        id,
		Timestamp: wsTimestamp(),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *wsConn) replyError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
