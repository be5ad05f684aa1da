package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends a message, or buffers it when no session is live.
//
// Parameters:
//   - topic: Concrete topic (no wildcards), e.g. "access/responses/reader-01"
//   - payload: The message payload (typically JSON, max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//
// Delivery:
//   - Connected: sent immediately.
//   - Offline: buffered for replay, returns nil.
//   - Connected but the send fails: buffered for replay, returns
//     ErrPublishFailed. The buffered copy is authoritative; do not retry.
//
// Returns:
//   - error: Validation errors, the advisory ErrPublishFailed, or
//     ErrClosed once Disconnect has been called
//
// Example:
//
//	topic := mqtt.Topics{}.AccessResponse("reader-01")
//	err := client.Publish(topic, []byte(`{"action":"unlock"}`), 2, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validatePublishTopic(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}

	sess := c.currentSession()
	if sess == nil || c.State() != StateConnected {
		if err := c.bufferMessage(topic, payload, qos, retained); err != nil {
			return err
		}
		c.log().Debug("MQTT offline, message buffered", "topic", topic, "buffered", c.buffer.Len())
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.PublishTimeout)
	defer cancel()

	if err := sess.Publish(ctx, topic, payload, qos, retained); err != nil {
		c.stats.publishFailures.Add(1)
		if bufErr := c.bufferMessage(topic, payload, qos, retained); bufErr != nil {
			return bufErr
		}
		c.log().Warn("MQTT publish failed, message buffered", "topic", topic, "error", err)
		if errors.Is(err, ErrPublishFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	c.stats.messagesSent.Add(1)
	c.stats.bytesSent.Add(uint64(len(payload)))
	return nil
}

// PublishString is a convenience method that publishes a string payload.
func (c *Client) PublishString(topic string, payload string, qos byte, retained bool) error {
	return c.Publish(topic, []byte(payload), qos, retained)
}

// PublishDefault publishes a non-retained message with the configured QoS.
func (c *Client) PublishDefault(topic string, payload []byte) error {
	return c.Publish(topic, payload, c.opts.QoS, false)
}

// PublishRetained publishes a retained message with the configured default QoS.
//
// Use for state updates where new subscribers should receive the current state.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, c.opts.QoS, true)
}

// bufferMessage queues a message for replay. After Disconnect nothing will
// replay it, so it returns ErrClosed instead. lifeMu is held across the add
// so Disconnect's final Clear cannot miss it.
func (c *Client) bufferMessage(topic string, payload []byte, qos byte, retained bool) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.closed {
		return ErrClosed
	}

	c.stats.bufferedTotal.Add(1)
	if c.buffer.Add(topic, payload, qos, retained) {
		c.stats.bufferEvictions.Add(1)
		c.log().Warn("MQTT outbound buffer full, oldest message dropped", "capacity", c.buffer.Capacity())
	}
	return nil
}

// validatePublishTopic rejects empty topics and wildcards, which are only
// legal in subscription filters.
func validatePublishTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards not allowed in publish topic %q", ErrInvalidTopic, topic)
	}
	return nil
}
