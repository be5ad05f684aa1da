package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/access-control-core/internal/device"
	"github.com/nerrad567/access-control-core/internal/infrastructure/config"
	"github.com/nerrad567/access-control-core/internal/infrastructure/logging"
	"github.com/nerrad567/access-control-core/internal/infrastructure/mqtt"
)

// Frame types exchanged with console clients.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Event channels. ChannelAll subscribes to every channel.
const (
	ChannelAlerts     = "alerts"
	ChannelConnection = "mqtt.connection"
	ChannelAll        = "*"
)

const (
	// wsQueueSize is how many frames may wait for a slow client before
	// further events to it are dropped.
	wsQueueSize = 256

	wsDefaultReadLimit = 8192
	wsDefaultPing      = 30 * time.Second
	wsDefaultPongWait  = 10 * time.Second
)

// WSMessage is an outbound frame, and the shape clients send.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe frames.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Hub fans access events out to connected console clients. It implements
// device.Notifier and can be handed to mqtt.Client.SetOnStateChange via
// BroadcastConnectionState.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu    sync.RWMutex
	conns map[*wsConn]struct{}
}

// NewHub returns an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:    cfg,
		logger: logger,
		conns:  make(map[*wsConn]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[*wsConn]struct{})
	h.mu.Unlock()

	for c := range conns {
		c.shutdown()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Broadcast sends payload as an event on channel to every client
// subscribed to it. Clients whose queue is full miss the event.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: wsTimestamp(),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*wsConn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.wants(channel) {
			continue
		}
		if !c.enqueue(data) {
			h.logger.Debug("websocket client lagging, event dropped", "channel", channel, "remote", c.remote)
		}
	}
}

// Notify broadcasts a door alert on ChannelAlerts.
func (h *Hub) Notify(alert device.Alert) {
	h.Broadcast(ChannelAlerts, alert)
}

// BroadcastConnectionState broadcasts a bus state transition on
// ChannelConnection.
func (h *Hub) BroadcastConnectionState(from, to mqtt.ConnectionState) {
	h.Broadcast(ChannelConnection, map[string]string{
		"from": from.String(),
		"to":   to.String(),
	})
}

func (h *Hub) add(c *wsConn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "remote", c.remote, "clients", n)
}

func (h *Hub) remove(c *wsConn) {
	h.mu.Lock()
	delete(h.conns, c)
	n := len(h.conns)
	h.mu.Unlock()
	c.shutdown()
	h.logger.Debug("websocket client disconnected", "remote", c.remote, "clients", n)
}

// handleWebSocket upgrades a console connection. Browser origins must pass
// the CORS allow list; non-browser clients send no Origin and are accepted.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.isAllowedOrigin(origin)
		},
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		s.logger.Warn("websocket upgrade rejected", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newWSConn(s.hub, ws, r.RemoteAddr)
	s.hub.add(c)

	go c.writeLoop(s.wsCfg)
	go c.readLoop(s.wsCfg)
}

// wsTimings returns the ping interval and pong wait configured for
// clients, defaulting to 30s and 10s.
func wsTimings(cfg config.WebSocketConfig) (ping, pong time.Duration) {
	ping, pong = wsDefaultPing, wsDefaultPongWait
	if cfg.PingInterval > 0 {
		ping = time.Duration(cfg.PingInterval) * time.Second
	}
	if cfg.PongTimeout > 0 {
		pong = time.Duration(cfg.PongTimeout) * time.Second
	}
	return ping, pong
}

func wsTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
