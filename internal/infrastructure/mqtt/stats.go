package mqtt

import "time"

// ConnectionStats is a read-only snapshot of a Client.
type ConnectionStats struct {
	State          string    `json:"state"`
	Connected      bool      `json:"connected"`
	Broker         string    `json:"broker"`
	ClientID       string    `json:"client_id"`
	ConnectedSince time.Time `json:"connected_since,omitzero"`
	UptimeSeconds  float64   `json:"uptime_seconds"`
	LastError      string    `json:"last_error,omitempty"`

	MessagesSent      uint64 `json:"messages_sent"`
	MessagesReceived  uint64 `json:"messages_received"`
	BytesSent         uint64 `json:"bytes_sent"`
	BytesReceived     uint64 `json:"bytes_received"`
	PublishFailures   uint64 `json:"publish_failures"`
	MessagesBuffered  uint64 `json:"messages_buffered_total"`
	BufferEvictions   uint64 `json:"buffer_evictions"`
	ReconnectAttempts uint64 `json:"reconnect_attempts"`

	BufferedMessages int `json:"buffered_messages"`
	BufferCapacity   int `json:"buffer_capacity"`
	Subscriptions    int `json:"subscriptions"`

	SubscribedFilters []string `json:"subscribed_filters,omitempty"`

	CircuitBreaker BreakerState `json:"circuit_breaker"`
}

// Stats returns a snapshot of connection state and cumulative counters.
func (c *Client) Stats() ConnectionStats {
	c.stateMu.RLock()
	state := c.state
	since := c.connectedSince
	lastErr := c.lastErr
	c.stateMu.RUnlock()

	connected := state == StateConnected && c.currentSession() != nil

	stats := ConnectionStats{
		State:             state.String(),
		Connected:         connected,
		Broker:            c.opts.BrokerURL(),
		ClientID:          c.opts.ClientID,
		MessagesSent:      c.stats.messagesSent.Load(),
		MessagesReceived:  c.stats.messagesReceived.Load(),
		BytesSent:         c.stats.bytesSent.Load(),
		BytesReceived:     c.stats.bytesReceived.Load(),
		PublishFailures:   c.stats.publishFailures.Load(),
		MessagesBuffered:  c.stats.bufferedTotal.Load(),
		BufferEvictions:   c.stats.bufferEvictions.Load(),
		ReconnectAttempts: c.stats.reconnectAttempts.Load(),
		BufferedMessages:  c.BufferedCount(),
		BufferCapacity:    c.buffer.Capacity(),
		Subscriptions:     c.SubscriptionCount(),
		CircuitBreaker:    c.breaker.Snapshot(),
		SubscribedFilters: c.Subscriptions(),
	}

	if connected {
		stats.ConnectedSince = since
		stats.UptimeSeconds = time.Since(since).Seconds()
	}
	if lastErr != nil {
		stats.LastError = lastErr.Error()
	}

	return stats
}

// BufferedCount returns the number of messages waiting for replay.
func (c *Client) BufferedCount() int {
	return c.buffer.Len()
}

// BufferedMessages returns a copy of the buffered messages in FIFO order
// without removing them.
func (c *Client) BufferedMessages() []BufferedMessage {
	c.buffer.mu.Lock()
	defer c.buffer.mu.Unlock()
	out := make([]BufferedMessage, len(c.buffer.items))
	copy(out, c.buffer.items)
	return out
}
